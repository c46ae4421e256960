// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrumentation

import (
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/applier"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/classcache"
)

// =============================================================================
// Requests
// =============================================================================

// ConnectRequest is sent by an agent when it starts.
type ConnectRequest struct {
	// AgentName is the name the agent was started with.
	AgentName string `json:"agent_name" binding:"required"`

	// IPs are the addresses of the agent's host.
	IPs []string `json:"ips" binding:"required,min=1,dive,ip"`

	// Version is the agent's version string.
	Version string `json:"version"`
}

// ReportRequest carries types an agent has loaded since its last report.
//
// Annotations are processed first, then interfaces, then classes, so one
// request can describe a class together with the types it refers to.
type ReportRequest struct {
	Annotations []classcache.AnnotationReport `json:"annotations" binding:"dive"`
	Interfaces  []classcache.InterfaceReport  `json:"interfaces" binding:"dive"`
	Classes     []classcache.ClassReport      `json:"classes" binding:"dive"`
}

// =============================================================================
// Responses
// =============================================================================

// AgentSession describes a connected agent.
type AgentSession struct {
	PlatformID        int64     `json:"platform_id"`
	SessionID         string    `json:"session_id"`
	AgentName         string    `json:"agent_name"`
	IPs               []string  `json:"ips"`
	Version           string    `json:"version,omitempty"`
	EnvironmentID     string    `json:"environment_id"`
	ConfigurationHash string    `json:"configuration_hash"`
	ConnectedAt       time.Time `json:"connected_at"`
}

// InstrumentationDecision tells an agent how to instrument one class.
type InstrumentationDecision struct {
	ClassName string `json:"class_name"`

	// Excluded is true when an exclude rule matched. No instrumentation is
	// returned for excluded classes.
	Excluded bool `json:"excluded"`

	Instrumentations []applier.Instrumentation `json:"instrumentations"`

	// Failed lists appliers that could not be evaluated for this class.
	Failed []string `json:"failed,omitempty"`
}

// ReportResponse answers a ReportRequest with one decision per class.
type ReportResponse struct {
	Decisions []InstrumentationDecision `json:"decisions"`
}

// ErrorResponse is returned for all failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Ready  bool   `json:"ready"`
	Agents int    `json:"agents"`
	Error  string `json:"error,omitempty"`
}

// StatsResponse is returned by the class cache stats endpoint.
type StatsResponse struct {
	classcache.Stats
	Agents int `json:"agents"`
}
