// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileYAML = `id: web
name: Web tier
active: true
method_sensor_assignments:
  - class_name: javax.servlet.http.HttpServlet
    superclass: true
    sensor_config_class_name: sensors.Timer
    method_name: do*
exclude_rules:
  - class_name: sun.*
`

const mappingsYAML = `- agent_name: web-*
  ip_address: "*"
  environment_id: prod
  active: true
`

const environmentYAML = `id: prod
name: Production
profile_ids: [web]
method_sensor_configs:
  - name: Timer
    class_name: sensors.Timer
sending_strategy:
  class_name: strategy.Time
  settings:
    time: "5000"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestOpen_LoadsHandWrittenYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "environments", "prod.yaml"), environmentYAML)
	writeFile(t, filepath.Join(dir, "profiles", "web.yaml"), profileYAML)
	writeFile(t, filepath.Join(dir, "mappings.yaml"), mappingsYAML)
	writeFile(t, filepath.Join(dir, "profiles", "README.txt"), "ignored")

	ctx := context.Background()
	s, err := Open(ctx, dir)
	require.NoError(t, err)

	env, err := s.Environment(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, env.ProfileIDs)
	assert.Equal(t, "5000", env.SendingStrategy.Settings["time"])

	p, err := s.Profile(ctx, "web")
	require.NoError(t, err)
	require.Len(t, p.MethodSensorAssignments, 1)
	a := p.MethodSensorAssignments[0]
	assert.Equal(t, "javax.servlet.http.HttpServlet", a.ClassName)
	assert.True(t, a.Superclass)
	assert.Equal(t, "do*", a.MethodName)
	assert.Equal(t, []ci.ExcludeRule{{ClassName: "sun.*"}}, p.ExcludeRules)

	mappings, err := s.AgentMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "web-*", mappings[0].AgentName)
}

func TestOpen_EmptyDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cmr")
	s, err := Open(ctx, dir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(dir, "environments"))
	assert.DirExists(t, filepath.Join(dir, "profiles"))

	mappings, err := s.AgentMappings(ctx)
	require.NoError(t, err)
	assert.Empty(t, mappings)

	_, err = s.Environment(ctx, "prod")
	assert.ErrorIs(t, err, ci.ErrEnvironmentNotFound)
}

func TestOpen_RejectsInvalidRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "profiles", "bad.yaml"), "name: missing id\n")

	_, err := Open(context.Background(), dir)
	assert.ErrorIs(t, err, ci.ErrInvalidRecord)
}

func TestPut_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, dir)
	require.NoError(t, err)

	env := &ci.Environment{ID: "dev", Name: "Development", ClassLoadingDelegation: true}
	require.NoError(t, s.PutEnvironment(ctx, env))
	require.NoError(t, s.PutProfile(ctx, &ci.Profile{ID: "p", Name: "p", Active: true}))
	require.NoError(t, s.PutAgentMappings(ctx, []ci.AgentMapping{
		{AgentName: "*", IPAddress: "*", EnvironmentID: "dev", Active: true},
	}))

	reopened, err := Open(ctx, dir)
	require.NoError(t, err)
	got, err := reopened.Environment(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, env, got)
	_, err = reopened.Profile(ctx, "p")
	require.NoError(t, err)
	mappings, err := reopened.AgentMappings(ctx)
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestPut_RejectsPathLikeIDs(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"../escape", "a/b", ".hidden"} {
		err := s.PutEnvironment(ctx, &ci.Environment{ID: id, Name: "x"})
		assert.ErrorIs(t, err, ci.ErrInvalidRecord, id)
	}
}

func TestReload_KeepsSnapshotOnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "environments", "prod.yaml"), environmentYAML)
	s, err := Open(ctx, dir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "environments", "broken.yaml"), "id: [not, a, string\n")
	assert.Error(t, s.Reload(ctx))

	_, err = s.Environment(ctx, "prod")
	assert.NoError(t, err)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	s, err := Open(ctx, dir, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "environments", "prod.yaml"), environmentYAML)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after writing an environment")
	}

	env, err := s.Environment(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, "Production", env.Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
