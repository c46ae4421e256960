// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventAgentConnect     = "agent.connect"
	EventAgentDisconnect  = "agent.disconnect"
	EventAgentReconfigure = "agent.reconfigure"
	EventAuthFailed       = "auth.failed"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEvent records a security-relevant action.
type AuditEvent struct {
	// EventType is "category.action", e.g. EventAgentConnect.
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	// Subject is the authenticated caller.
	Subject string

	// ResourceID identifies the affected agent or resource, if any.
	ResourceID string

	// Outcome is OutcomeSuccess or OutcomeFailure.
	Outcome string

	// Metadata holds event-specific details such as the error message.
	Metadata map[string]any
}

// AuditLogger records audit events. Log must not block the request for long;
// implementations buffer or write locally.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// SlogAuditLogger writes events as structured log records with an "audit"
// attribute group.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger writing to logger, or to
// slog.Default() when nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log writes the event at info level, or warn level for failures.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.Outcome == OutcomeFailure {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("subject", event.Subject),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.Log(ctx, level, "Audit event", slog.Group("audit", attrs...))
	return nil
}
