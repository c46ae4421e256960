// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registration

import (
	"context"
	"sync"
)

// MemoryRegistry is a Registry that forgets everything on restart.
type MemoryRegistry struct {
	mu     sync.Mutex
	next   int64
	ids    map[string]int64
	closed bool

	// calls counts registrations per key kind; read by tests.
	calls map[string]int
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		ids:   make(map[string]int64),
		calls: make(map[string]int),
	}
}

func (r *MemoryRegistry) register(ctx context.Context, kind, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	r.calls[kind]++
	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	r.next++
	r.ids[key] = r.next
	return r.next, nil
}

// RegisterPlatformIdent implements Registry.
func (r *MemoryRegistry) RegisterPlatformIdent(ctx context.Context, agentName string, ips []string) (int64, error) {
	return r.register(ctx, "platform", platformKey(agentName, ips))
}

// RegisterPlatformSensorTypeIdent implements Registry.
func (r *MemoryRegistry) RegisterPlatformSensorTypeIdent(ctx context.Context, platformID int64, className string) (int64, error) {
	return r.register(ctx, "platform_sensor", platformSensorKey(platformID, className))
}

// RegisterMethodSensorTypeIdent implements Registry.
func (r *MemoryRegistry) RegisterMethodSensorTypeIdent(ctx context.Context, platformID int64, className string, parameters map[string]string) (int64, error) {
	return r.register(ctx, "method_sensor", methodSensorKey(platformID, className, parameters))
}

// Calls returns how many registration calls of a kind were made:
// "platform", "platform_sensor" or "method_sensor".
func (r *MemoryRegistry) Calls(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

// Close implements Registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
