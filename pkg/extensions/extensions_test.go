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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.IsType(t, &NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)
}

func TestServiceOptions_FluentChaining(t *testing.T) {
	auth := NewTokenAuthProvider(map[string]string{"fleet": "secret"})
	audit := NewSlogAuditLogger(nil)

	opts := DefaultOptions().WithAuth(auth).WithAudit(audit)
	assert.Same(t, auth, opts.AuthProvider)
	assert.Same(t, audit, opts.AuditLogger)

	// Copies are independent.
	base := DefaultOptions()
	_ = base.WithAuth(auth)
	assert.IsType(t, &NopAuthProvider{}, base.AuthProvider)
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	assert.NotNil(t, opts.AuthProvider)
	assert.NotNil(t, opts.AuditLogger)
}

func TestNopAuthProvider_Validate(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, LocalSubject, info.Subject)
	assert.True(t, info.HasRole("admin"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&NopAuthProvider{}).Validate(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenAuthProvider_Validate(t *testing.T) {
	p := NewTokenAuthProvider(map[string]string{
		"fleet-a":  "token-a",
		"fleet-b":  "token-b",
		"disabled": "",
	})
	assert.Equal(t, 2, p.Len())

	tests := []struct {
		name        string
		token       string
		wantSubject string
		wantErr     bool
	}{
		{"first", "token-a", "fleet-a", false},
		{"second", "token-b", "fleet-b", false},
		{"empty", "", "", true},
		{"unknown", "token-c", "", true},
		{"prefix", "token-", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Validate(context.Background(), tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, info.Subject)
			assert.True(t, info.HasRole("agent"))
			assert.False(t, info.HasRole("admin"))
		})
	}
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := l.Log(context.Background(), AuditEvent{
		EventType:  EventAgentConnect,
		Subject:    "fleet-a",
		ResourceID: "42",
		Outcome:    OutcomeFailure,
		Metadata:   map[string]any{"error": "no mapping"},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	audit, ok := record["audit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, EventAgentConnect, audit["event_type"])
	assert.Equal(t, "fleet-a", audit["subject"])
	assert.Equal(t, "42", audit["resource_id"])
	assert.Equal(t, "no mapping", audit["error"])
	assert.NotEmpty(t, audit["timestamp"])
}

func TestNopAuditLogger_Log(t *testing.T) {
	assert.NoError(t, (&NopAuditLogger{}).Log(context.Background(), AuditEvent{}))
}
