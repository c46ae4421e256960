// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instrumentation is the configuration and instrumentation service
// agents talk to.
//
// An agent connects with its name and addresses, is mapped to an
// environment, and receives an agent configuration. It then reports the
// types it loads. Every reported class is added to the shared type graph
// and checked against the instrumentation appliers of the agent's
// environment; the answer lists the sensors to attach and the methods to
// attach them to.
package instrumentation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/agentconfig"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/applier"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/classcache"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/configuration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/registration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/resolver"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ServiceConfig configures the service.
type ServiceConfig struct {
	// ApplierParallelism bounds how many appliers evaluate one class
	// concurrently.
	// Default: 8
	ApplierParallelism int

	// Version is reported by the health endpoint.
	Version string

	// ReportRate limits type reports per agent, in reports per second. Each
	// reported type counts once. Zero disables the limit.
	ReportRate float64

	// ReportBurst is the number of reports an agent may send at once.
	// Default: 1000
	ReportBurst int

	// MinAgentVersion rejects agents reporting an older semantic version.
	// Agents without a parseable version are accepted. Empty disables the
	// check.
	MinAgentVersion string
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ApplierParallelism: 8,
		Version:            "dev",
		ReportBurst:        1000,
	}
}

// agent is the server side of one connected agent. platformID, name and
// ips never change; the other session fields are guarded by Service.mu.
type agent struct {
	platformID int64
	name       string
	ips        []string

	sessionID   string
	version     string
	connectedAt time.Time

	holder  *configuration.Holder
	limiter *rate.Limiter
}

// Service is the instrumentation service.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Reports from different agents are
//	processed in parallel; the type graph serializes its own writes.
type Service struct {
	config   ServiceConfig
	logger   *slog.Logger
	cache    *classcache.ClassCache
	store    ci.Store
	registry registration.Registry
	resolver *resolver.Resolver
	creator  *configuration.Creator

	// connects deduplicates concurrent connects of the same agent.
	connects singleflight.Group

	// instrument evaluates one applier; replaced in tests.
	instrument func(ctx context.Context, ap *applier.Applier, cls *classcache.ClassType) (applier.Instrumentation, bool)

	mu     sync.RWMutex
	agents map[int64]*agent
}

// NewService creates a service.
//
// Description:
//
//	Creates a service with an empty type graph and no connected agents.
//	Environments, profiles and mappings are read from store on every
//	connect and reconfiguration; sensor identities are registered with
//	registry.
//
// Inputs:
//
//	config - Service configuration. Non-positive parallelism means 1.
//	store - Configuration-interface store.
//	registry - Identity registry.
//	logger - Logger; nil means slog.Default().
//
// Outputs:
//
//	*Service - The configured service.
func NewService(config ServiceConfig, store ci.Store, registry registration.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ApplierParallelism <= 0 {
		config.ApplierParallelism = 1
	}
	if config.ReportBurst <= 0 {
		config.ReportBurst = 1
	}
	res := resolver.New(store, resolver.WithLogger(logger))
	s := &Service{
		config:   config,
		logger:   logger.With("component", "instrumentation"),
		cache:    classcache.New(classcache.WithLogger(logger)),
		store:    store,
		registry: registry,
		resolver: res,
		creator:  configuration.NewCreator(registry, res, logger),
		agents:   make(map[int64]*agent),
	}
	s.instrument = func(ctx context.Context, ap *applier.Applier, cls *classcache.ClassType) (applier.Instrumentation, bool) {
		return ap.Instrument(ctx, s.cache, cls)
	}
	return s
}

// Cache returns the shared type graph.
func (s *Service) Cache() *classcache.ClassCache {
	return s.cache
}

// Resolver returns the resolver the service configures agents with.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// =============================================================================
// Agent Lifecycle
// =============================================================================

// Connect maps an agent to its environment and configures it.
//
// Description:
//
//	Resolves the agent's environment, registers its platform identity and
//	builds its configuration. An agent that connects again keeps its
//	platform id and gets a new session id. Concurrent connects of the same
//	agent share one resolution.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	req - Agent name and addresses.
//
// Outputs:
//
//	*AgentSession - The session, including the configuration hash.
//	error - ErrInvalidRequest, a resolver.ErrBusiness error when no single
//	mapping applies, or a store/registry error.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (*AgentSession, error) {
	if req.AgentName == "" || len(req.IPs) == 0 {
		return nil, fmt.Errorf("%w: agent name and at least one ip are required", ErrInvalidRequest)
	}
	if err := s.checkVersion(req.Version); err != nil {
		recordConnect(ctx, "rejected")
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "instrumentation.Service.Connect",
		trace.WithAttributes(attribute.String("agent.name", req.AgentName)),
	)
	defer span.End()

	ips := slices.Clone(req.IPs)
	slices.Sort(ips)
	ips = slices.Compact(ips)
	key := req.AgentName + "|" + strings.Join(ips, ",")

	v, err, shared := s.connects.Do(key, func() (any, error) {
		return s.connect(ctx, req.AgentName, ips, req.Version)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordConnect(ctx, "error")
		s.logger.Warn("Agent connect failed", "agent", req.AgentName, "ips", ips, "error", err)
		return nil, err
	}
	recordConnect(ctx, "ok")

	sess := *v.(*AgentSession)
	sess.IPs = slices.Clone(sess.IPs)
	span.SetAttributes(
		attribute.Int64("platform.id", sess.PlatformID),
		attribute.Bool("connect.shared", shared),
	)
	return &sess, nil
}

func (s *Service) connect(ctx context.Context, name string, ips []string, version string) (*AgentSession, error) {
	env, err := s.resolver.ResolveEnvironmentForAgent(ctx, ips, name)
	if err != nil {
		return nil, err
	}
	platformID, err := s.registry.RegisterPlatformIdent(ctx, name, ips)
	if err != nil {
		return nil, fmt.Errorf("register platform: %w", err)
	}

	s.mu.Lock()
	a, existed := s.agents[platformID]
	if !existed {
		a = &agent{
			platformID: platformID,
			name:       name,
			ips:        ips,
			holder:     configuration.NewHolder(s.creator, s.resolver),
			limiter:    s.newLimiter(),
		}
		s.agents[platformID] = a
	}
	s.mu.Unlock()

	// A failed reconnect keeps the previous session.
	if err := a.holder.Update(ctx, env, platformID); err != nil {
		if !existed {
			s.mu.Lock()
			delete(s.agents, platformID)
			s.mu.Unlock()
		}
		return nil, fmt.Errorf("configure platform %d: %w", platformID, err)
	}

	s.mu.Lock()
	a.sessionID = uuid.NewString()
	a.version = version
	a.connectedAt = time.Now()
	s.mu.Unlock()
	if !existed {
		recordAgents(ctx, 1)
	}

	sess := s.describe(a)
	s.logger.Info("Agent connected",
		"agent", name,
		"platform_id", platformID,
		"environment", env.ID,
		"configuration_hash", sess.ConfigurationHash,
		"reconnect", existed,
	)
	return &sess, nil
}

// Disconnect ends an agent's session and drops its configuration.
//
// Returns ErrAgentNotConnected for unknown platform ids.
func (s *Service) Disconnect(ctx context.Context, platformID int64) error {
	s.mu.Lock()
	a, ok := s.agents[platformID]
	if ok {
		delete(s.agents, platformID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrAgentNotConnected, platformID)
	}

	// A nil environment only resets the holder.
	_ = a.holder.Update(ctx, nil, platformID)
	recordAgents(ctx, -1)
	s.logger.Info("Agent disconnected", "agent", a.name, "platform_id", platformID)
	return nil
}

// Reconfigure resolves the agent's environment again and rebuilds its
// configuration.
//
// Description:
//
//	When the agent no longer maps to exactly one environment its
//	configuration is dropped and the business error is returned; it stays
//	connected so a later reconfiguration can restore it. Any other failure
//	keeps the previous configuration.
func (s *Service) Reconfigure(ctx context.Context, platformID int64) (*AgentSession, error) {
	a, err := s.agent(platformID)
	if err != nil {
		return nil, err
	}

	env, err := s.resolver.ResolveEnvironmentForAgent(ctx, a.ips, a.name)
	if err != nil {
		if errors.Is(err, resolver.ErrBusiness) {
			_ = a.holder.Update(ctx, nil, platformID)
			s.logger.Warn("Agent lost its environment", "agent", a.name, "platform_id", platformID, "error", err)
		}
		return nil, err
	}
	if err := a.holder.Update(ctx, env, platformID); err != nil {
		return nil, fmt.Errorf("configure platform %d: %w", platformID, err)
	}

	sess := s.describe(a)
	s.logger.Info("Agent reconfigured",
		"platform_id", platformID,
		"environment", env.ID,
		"configuration_hash", sess.ConfigurationHash,
	)
	return &sess, nil
}

// ReconfigureAll reconfigures every connected agent.
//
// All agents are attempted; the failures are joined into the returned error.
func (s *Service) ReconfigureAll(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Reconfigure(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("platform %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Queries
// =============================================================================

// Session returns the session of a connected agent.
func (s *Service) Session(platformID int64) (*AgentSession, error) {
	a, err := s.agent(platformID)
	if err != nil {
		return nil, err
	}
	sess := s.describe(a)
	return &sess, nil
}

// Sessions returns all sessions ordered by platform id.
func (s *Service) Sessions() []AgentSession {
	s.mu.RLock()
	agents := make([]*agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.RUnlock()

	slices.SortFunc(agents, func(x, y *agent) int {
		return cmp.Compare(x.platformID, y.platformID)
	})
	out := make([]AgentSession, len(agents))
	for i, a := range agents {
		out[i] = s.describe(a)
	}
	return out
}

// AgentCount returns the number of connected agents.
func (s *Service) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// AgentConfiguration returns the current configuration of an agent.
//
// Errors:
//
//	ErrAgentNotConnected - Unknown platform id.
//	ErrAgentNotConfigured - The agent's configuration was dropped.
func (s *Service) AgentConfiguration(platformID int64) (*agentconfig.AgentConfig, error) {
	a, err := s.agent(platformID)
	if err != nil {
		return nil, err
	}
	cfg := a.holder.AgentConfiguration()
	if cfg == nil {
		return nil, fmt.Errorf("%w: %d", ErrAgentNotConfigured, platformID)
	}
	return cfg, nil
}

// Stats returns type graph statistics and the agent count.
func (s *Service) Stats() StatsResponse {
	return StatsResponse{Stats: s.cache.Stats(), Agents: s.AgentCount()}
}

// Ready checks that the configuration store can be read.
func (s *Service) Ready(ctx context.Context) error {
	if _, err := s.store.AgentMappings(ctx); err != nil {
		return fmt.Errorf("read agent mappings: %w", err)
	}
	return nil
}

// =============================================================================
// Type Reports
// =============================================================================

// ReportClass adds a class to the type graph and decides its
// instrumentation for the reporting agent.
//
// Description:
//
//	The class is added first, so a class that fails to be added never gets
//	a decision. An excluded class gets an empty, excluded decision. Every
//	other class is checked against all appliers of the agent in parallel;
//	an applier that panics is logged and listed in Failed, and the other
//	appliers still contribute.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	platformID - The reporting agent.
//	report - The loaded class.
//
// Outputs:
//
//	*InstrumentationDecision - The decision; Instrumentations follow the
//	applier order of the agent's configuration.
//	error - ErrAgentNotConnected, a classcache error, or ctx.Err().
func (s *Service) ReportClass(ctx context.Context, platformID int64, report classcache.ClassReport) (*InstrumentationDecision, error) {
	a, err := s.agent(platformID)
	if err != nil {
		return nil, err
	}
	if err := s.allow(a, 1); err != nil {
		return nil, err
	}
	return s.reportClass(ctx, a, report)
}

func (s *Service) reportClass(ctx context.Context, a *agent, report classcache.ClassReport) (*InstrumentationDecision, error) {
	platformID := a.platformID

	ctx, span := tracer.Start(ctx, "instrumentation.Service.ReportClass",
		trace.WithAttributes(
			attribute.Int64("platform.id", platformID),
			attribute.String("class.fqn", report.FQN),
		),
	)
	defer span.End()

	cls, err := s.cache.AddClass(report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("add class %s: %w", report.FQN, err)
	}

	decision, err := s.decide(ctx, a, cls)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("instrumentations", len(decision.Instrumentations)))
	return decision, nil
}

func (s *Service) decide(ctx context.Context, a *agent, cls *classcache.ClassType) (*InstrumentationDecision, error) {
	start := time.Now()
	decision := &InstrumentationDecision{
		ClassName:        cls.FQN(),
		Instrumentations: []applier.Instrumentation{},
	}

	snap := a.holder.Snapshot()
	if snap == nil {
		recordClassReport(ctx, "unconfigured", time.Since(start).Seconds())
		return decision, nil
	}
	if snap.Configuration.IsExcluded(cls.FQN()) {
		decision.Excluded = true
		recordClassReport(ctx, "excluded", time.Since(start).Seconds())
		return decision, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*applier.Instrumentation, len(snap.Appliers))
	failed := make([]bool, len(snap.Appliers))

	var g errgroup.Group
	g.SetLimit(s.config.ApplierParallelism)
	for i, ap := range snap.Appliers {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed[i] = true
					recordApplierFailure(ctx, ap.Kind().String())
					s.logger.Error("Applier failed",
						"applier", ap.Name(),
						"class", cls.FQN(),
						"platform_id", a.platformID,
						"panic", r,
					)
				}
			}()
			if inst, ok := s.instrument(ctx, ap, cls); ok {
				results[i] = &inst
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if r != nil {
			decision.Instrumentations = append(decision.Instrumentations, *r)
		}
		if failed[i] {
			decision.Failed = append(decision.Failed, snap.Appliers[i].Name())
		}
	}

	outcome := "instrumented"
	if len(decision.Instrumentations) == 0 {
		outcome = "none"
	}
	recordClassReport(ctx, outcome, time.Since(start).Seconds())
	return decision, nil
}

// ReportInterface adds an interface to the type graph.
func (s *Service) ReportInterface(ctx context.Context, platformID int64, report classcache.InterfaceReport) error {
	a, err := s.agent(platformID)
	if err != nil {
		return err
	}
	if err := s.allow(a, 1); err != nil {
		return err
	}
	return s.reportInterface(ctx, report)
}

func (s *Service) reportInterface(ctx context.Context, report classcache.InterfaceReport) error {
	if _, err := s.cache.AddInterface(report); err != nil {
		return fmt.Errorf("add interface %s: %w", report.FQN, err)
	}
	return ctx.Err()
}

// ReportAnnotation adds an annotation type to the type graph.
func (s *Service) ReportAnnotation(ctx context.Context, platformID int64, report classcache.AnnotationReport) error {
	a, err := s.agent(platformID)
	if err != nil {
		return err
	}
	if err := s.allow(a, 1); err != nil {
		return err
	}
	return s.reportAnnotation(ctx, report)
}

func (s *Service) reportAnnotation(ctx context.Context, report classcache.AnnotationReport) error {
	if _, err := s.cache.AddAnnotation(report); err != nil {
		return fmt.Errorf("add annotation %s: %w", report.FQN, err)
	}
	return ctx.Err()
}

// Report processes a batch: annotations, then interfaces, then classes.
//
// The whole batch counts against the agent's report rate; a batch larger
// than the burst is always rejected. Processing stops at the first failing
// entry; entries before it stay in the type graph.
func (s *Service) Report(ctx context.Context, platformID int64, req ReportRequest) (*ReportResponse, error) {
	a, err := s.agent(platformID)
	if err != nil {
		return nil, err
	}
	if err := s.allow(a, len(req.Annotations)+len(req.Interfaces)+len(req.Classes)); err != nil {
		return nil, err
	}

	for _, r := range req.Annotations {
		if err := s.reportAnnotation(ctx, r); err != nil {
			return nil, err
		}
	}
	for _, r := range req.Interfaces {
		if err := s.reportInterface(ctx, r); err != nil {
			return nil, err
		}
	}

	resp := &ReportResponse{Decisions: make([]InstrumentationDecision, 0, len(req.Classes))}
	for _, r := range req.Classes {
		d, err := s.reportClass(ctx, a, r)
		if err != nil {
			return nil, err
		}
		resp.Decisions = append(resp.Decisions, *d)
	}
	return resp, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Service) agent(platformID int64) (*agent, error) {
	s.mu.RLock()
	a, ok := s.agents[platformID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAgentNotConnected, platformID)
	}
	return a, nil
}

func (s *Service) newLimiter() *rate.Limiter {
	if s.config.ReportRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.config.ReportRate), s.config.ReportBurst)
}

// allow takes n report tokens from the agent's limiter.
func (s *Service) allow(a *agent, n int) error {
	if n == 0 || a.limiter.AllowN(time.Now(), n) {
		return nil
	}
	return fmt.Errorf("%w: platform %d, %d reports", ErrRateLimited, a.platformID, n)
}

// checkVersion compares an agent version against MinAgentVersion. Versions
// may omit the leading "v".
func (s *Service) checkVersion(version string) error {
	if s.config.MinAgentVersion == "" {
		return nil
	}
	v := canonicalVersion(version)
	if v == "" {
		return nil
	}
	if semver.Compare(v, canonicalVersion(s.config.MinAgentVersion)) < 0 {
		return fmt.Errorf("%w: %s is older than %s", ErrUnsupportedAgentVersion, version, s.config.MinAgentVersion)
	}
	return nil
}

func canonicalVersion(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

func (s *Service) describe(a *agent) AgentSession {
	s.mu.RLock()
	sess := AgentSession{
		PlatformID:  a.platformID,
		SessionID:   a.sessionID,
		AgentName:   a.name,
		IPs:         slices.Clone(a.ips),
		Version:     a.version,
		ConnectedAt: a.connectedAt,
	}
	s.mu.RUnlock()

	if snap := a.holder.Snapshot(); snap != nil {
		sess.EnvironmentID = snap.Environment.ID
		sess.ConfigurationHash = snap.Configuration.ConfigurationHash
	}
	return sess
}
