// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/AleutianAI/AleutianAPM/cmd/cmr/config"
	"github.com/AleutianAI/AleutianAPM/pkg/extensions"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the configuration server",
		Long: `Starts the HTTP server agents connect to. With a file store and
store.watch enabled, edits to the YAML directory reconfigure connected
agents without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg, logger.Slog())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func runServe(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = version
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	b, err := openBackends(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Closing backends failed", "error", err)
		}
	}()

	svc := instrumentation.NewService(instrumentation.ServiceConfig{
		ApplierParallelism: cfg.Instrumentation.ApplierParallelism,
		Version:            version,
		ReportRate:         cfg.Instrumentation.ReportRate,
		ReportBurst:        cfg.Instrumentation.ReportBurst,
		MinAgentVersion:    cfg.Instrumentation.MinAgentVersion,
	}, b.store, b.registry, logger)

	if b.files != nil && cfg.Store.Watch {
		go watchStore(ctx, b, svc, logger)
	}

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: newRouter(svc, cfg.Server.Debug, serviceOptions(cfg, logger)),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting configuration server", "address", srv.Addr, "store", cfg.Store.Kind, "registry", cfg.Registry.Kind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down configuration server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// serviceOptions always audits to the log and enables token auth when
// tokens are configured.
func serviceOptions(cfg config.Config, logger *slog.Logger) extensions.ServiceOptions {
	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(logger))
	if len(cfg.Server.AuthTokens) > 0 {
		auth := extensions.NewTokenAuthProvider(cfg.Server.AuthTokens)
		logger.Info("API authentication enabled", "tokens", auth.Len())
		opts = opts.WithAuth(auth)
	}
	return opts
}

// newRouter builds the engine: recovery, tracing, /metrics when the
// prometheus exporter is active, and the /v1 API.
func newRouter(svc *instrumentation.Service, debug bool, opts extensions.ServiceOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("cmr"))
	if debug {
		router.Use(gin.Logger())
	}
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
	instrumentation.RegisterRoutes(router.Group("/v1"), instrumentation.NewHandlers(svc, opts))
	return router
}

// watchStore reconfigures every connected agent after the file store
// reloads.
func watchStore(ctx context.Context, b *backends, svc *instrumentation.Service, logger *slog.Logger) {
	err := b.files.Watch(ctx, func() {
		if err := svc.ReconfigureAll(ctx); err != nil {
			logger.Warn("Reconfiguration after reload had failures", "error", err)
		}
	})
	if err != nil {
		logger.Error("Configuration watcher stopped", "dir", b.files.Dir(), "error", err)
	}
}
