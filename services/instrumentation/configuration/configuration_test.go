// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configuration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/agentconfig"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/registration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingRegistry fails every method sensor registration.
type failingRegistry struct {
	*registration.MemoryRegistry
}

func (failingRegistry) RegisterMethodSensorTypeIdent(context.Context, int64, string, map[string]string) (int64, error) {
	return 0, errors.New("registry unavailable")
}

// countingStore counts profile loads per id.
type countingStore struct {
	*ci.MemoryStore
	mu    sync.Mutex
	loads map[string]int
}

func (s *countingStore) Profile(ctx context.Context, id string) (*ci.Profile, error) {
	s.mu.Lock()
	s.loads[id]++
	s.mu.Unlock()
	return s.MemoryStore.Profile(ctx, id)
}

func (s *countingStore) Loads(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[id]
}

func fixture(t *testing.T) (*ci.MemoryStore, *ci.Environment) {
	t.Helper()
	ctx := context.Background()
	s := ci.NewMemoryStore()
	env := &ci.Environment{
		ID:         "prod",
		Name:       "prod",
		ProfileIDs: []string{"web"},
		PlatformSensorConfigs: []ci.PlatformSensorConfig{
			{ClassName: "sensors.Cpu", Active: true},
			{ClassName: "sensors.Threads", Active: false},
		},
		MethodSensorConfigs: []ci.MethodSensorConfig{
			{Name: "Timer", ClassName: "sensors.Timer", Priority: ci.PriorityHigh, Parameters: map[string]string{"mode": "fast"}},
		},
		ExceptionSensorConfig: &ci.ExceptionSensorConfig{Name: "Exceptions", ClassName: "sensors.Exception", Enhanced: true},
		SendingStrategy:       ci.StrategyConfig{ClassName: "strategy.Time", Settings: map[string]string{"time": "5000"}},
		BufferStrategy:        ci.StrategyConfig{ClassName: "buffer.Simple"},
	}
	require.NoError(t, s.PutEnvironment(ctx, env))
	require.NoError(t, s.PutProfile(ctx, &ci.Profile{
		ID: "web", Name: "web", Active: true,
		MethodSensorAssignments: []ci.MethodSensorAssignment{{
			SensorAssignment:      ci.SensorAssignment{ClassName: "com.acme.*"},
			SensorConfigClassName: "sensors.Timer",
		}},
		ExcludeRules: []ci.ExcludeRule{{ClassName: "sun.*"}, {ClassName: "java.lang.Object"}},
	}))
	return s, env
}

func TestEnvironmentToConfiguration(t *testing.T) {
	ctx := context.Background()
	s, env := fixture(t)
	reg := registration.NewMemoryRegistry()
	c := NewCreator(reg, resolver.New(s), nil)

	cfg, err := c.EnvironmentToConfiguration(ctx, env, 42)
	require.NoError(t, err)

	assert.EqualValues(t, 42, cfg.PlatformID)
	require.Len(t, cfg.PlatformSensorTypeConfigs, 1)
	assert.Equal(t, "sensors.Cpu", cfg.PlatformSensorTypeConfigs[0].ClassName)
	assert.Positive(t, cfg.PlatformSensorTypeConfigs[0].ID)

	require.Len(t, cfg.MethodSensorTypeConfigs, 1)
	ms := cfg.MethodSensorTypeConfigs[0]
	assert.Equal(t, "Timer", ms.Name)
	assert.Equal(t, ci.PriorityHigh, ms.Priority)
	assert.Equal(t, map[string]string{"mode": "fast"}, ms.Parameters)

	require.NotNil(t, cfg.ExceptionSensorTypeConfig)
	assert.Equal(t, ci.PriorityNormal, cfg.ExceptionSensorTypeConfig.Priority)
	assert.True(t, cfg.EnhancedExceptionSensor)

	assert.Equal(t, []agentconfig.MatchPattern{
		{Pattern: "sun.*", Wildcard: true},
		{Pattern: "java.lang.Object", Wildcard: false},
	}, cfg.ExcludeClassPatterns)

	assert.Equal(t, agentconfig.StrategyConfig{ClassName: "strategy.Time", Settings: map[string]string{"time": "5000"}}, cfg.SendingStrategyConfig)
	assert.Equal(t, "buffer.Simple", cfg.BufferStrategyConfig.ClassName)
	assert.NotEmpty(t, cfg.ConfigurationHash)

	assert.Equal(t, 1, reg.Calls("platform_sensor"), "inactive platform sensor is not registered")
	assert.Equal(t, 2, reg.Calls("method_sensor"), "one call for the method sensor, one for the exception sensor")

	// Settings are copied, not shared.
	env.SendingStrategy.Settings["time"] = "1"
	assert.Equal(t, "5000", cfg.SendingStrategyConfig.Settings["time"])
}

func TestEnvironmentToConfiguration_OnlyInactivePlatformSensors(t *testing.T) {
	reg := registration.NewMemoryRegistry()
	c := NewCreator(reg, resolver.New(ci.NewMemoryStore()), nil)

	env := &ci.Environment{
		ID: "e", Name: "e",
		PlatformSensorConfigs: []ci.PlatformSensorConfig{{ClassName: "sensors.Cpu"}, {ClassName: "sensors.Memory"}},
	}
	cfg, err := c.EnvironmentToConfiguration(context.Background(), env, 1)
	require.NoError(t, err)
	assert.Empty(t, cfg.PlatformSensorTypeConfigs)
	assert.NotNil(t, cfg.PlatformSensorTypeConfigs)
	assert.Equal(t, 0, reg.Calls("platform_sensor"))
	assert.Nil(t, cfg.ExceptionSensorTypeConfig)
}

func TestEnvironmentToConfiguration_StableHash(t *testing.T) {
	ctx := context.Background()
	s, env := fixture(t)
	c := NewCreator(registration.NewMemoryRegistry(), resolver.New(s), nil)

	a, err := c.EnvironmentToConfiguration(ctx, env, 1)
	require.NoError(t, err)
	b, err := c.EnvironmentToConfiguration(ctx, env, 1)
	require.NoError(t, err)
	assert.Equal(t, a.ConfigurationHash, b.ConfigurationHash)

	env.ClassLoadingDelegation = true
	d, err := c.EnvironmentToConfiguration(ctx, env, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.ConfigurationHash, d.ConfigurationHash)
}

func TestEnvironmentToConfiguration_Errors(t *testing.T) {
	s, env := fixture(t)

	c := NewCreator(registration.NewMemoryRegistry(), resolver.New(s), nil)
	_, err := c.EnvironmentToConfiguration(context.Background(), nil, 1)
	assert.ErrorIs(t, err, ErrNilEnvironment)

	_, err = c.ConfigurationForProfiles(context.Background(), nil, 1, nil)
	assert.ErrorIs(t, err, ErrNilEnvironment)

	c = NewCreator(failingRegistry{registration.NewMemoryRegistry()}, resolver.New(s), nil)
	_, err = c.EnvironmentToConfiguration(context.Background(), env, 1)
	assert.ErrorContains(t, err, "registry unavailable")
}

func newHolder(t *testing.T, reg registration.Registry, s ci.Store) *Holder {
	t.Helper()
	res := resolver.New(s)
	return NewHolder(NewCreator(reg, res, nil), res)
}

func TestHolder_UpdateAndReset(t *testing.T) {
	ctx := context.Background()
	s, env := fixture(t)
	h := newHolder(t, registration.NewMemoryRegistry(), s)

	assert.False(t, h.IsInitialized())
	assert.Nil(t, h.Snapshot())
	assert.Nil(t, h.Environment())
	assert.Nil(t, h.AgentConfiguration())
	assert.Empty(t, h.Appliers())

	require.NoError(t, h.Update(ctx, env, 7))
	assert.True(t, h.IsInitialized())
	assert.Equal(t, "prod", h.Environment().ID)
	assert.EqualValues(t, 7, h.AgentConfiguration().PlatformID)
	require.Len(t, h.Appliers(), 1)
	assert.EqualValues(t, 7, h.Snapshot().PlatformID)

	require.NoError(t, h.Update(ctx, nil, 7))
	assert.False(t, h.IsInitialized())
	assert.Nil(t, h.Environment())
	assert.Nil(t, h.AgentConfiguration())
	assert.Empty(t, h.Appliers())

	// Resetting an uninitialized holder is fine too.
	require.NoError(t, h.Update(ctx, nil, 7))
	assert.False(t, h.IsInitialized())
}

func TestHolder_UpdateLoadsEachProfileOnce(t *testing.T) {
	ctx := context.Background()
	mem, env := fixture(t)
	s := &countingStore{MemoryStore: mem, loads: map[string]int{}}
	h := newHolder(t, registration.NewMemoryRegistry(), s)

	require.NoError(t, h.Update(ctx, env, 1))
	assert.Equal(t, 1, s.Loads("web"))

	// The snapshot's exclude rules and appliers come from the same load.
	snap := h.Snapshot()
	assert.Len(t, snap.Configuration.ExcludeClassPatterns, 2)
	assert.Len(t, snap.Appliers, 1)

	require.NoError(t, h.Update(ctx, env, 1))
	assert.Equal(t, 2, s.Loads("web"))
}

func TestHolder_FailedUpdateKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	s, env := fixture(t)
	h := newHolder(t, registration.NewMemoryRegistry(), s)
	require.NoError(t, h.Update(ctx, env, 1))
	before := h.Snapshot()

	broken := &ci.Environment{
		ID: "broken", Name: "broken", ProfileIDs: []string{"bad"},
		MethodSensorConfigs: []ci.MethodSensorConfig{{Name: "Timer", ClassName: "sensors.Timer"}},
	}
	require.NoError(t, s.PutProfile(ctx, &ci.Profile{
		ID: "bad", Name: "bad", Active: true,
		MethodSensorAssignments: []ci.MethodSensorAssignment{{
			SensorAssignment:      ci.SensorAssignment{ClassName: "x", Interface: true, Superclass: true},
			SensorConfigClassName: "sensors.Timer",
		}},
	}))

	err := h.Update(ctx, broken, 1)
	assert.ErrorIs(t, err, ci.ErrUnknownAssignmentShape)
	assert.Same(t, before, h.Snapshot())
}

func TestHolder_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	ctx := context.Background()
	s, env := fixture(t)
	h := newHolder(t, registration.NewMemoryRegistry(), s)

	other := env.Clone()
	other.ID = "other"
	other.ProfileIDs = nil

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := h.Snapshot()
				if snap == nil {
					continue
				}
				// The prod environment has one applier, the other none.
				if snap.Environment.ID == "prod" {
					assert.Len(t, snap.Appliers, 1)
				} else {
					assert.Empty(t, snap.Appliers)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		e := env
		if i%2 == 1 {
			e = other
		}
		require.NoError(t, h.Update(ctx, e, 1))
	}
	close(stop)
	wg.Wait()
}
