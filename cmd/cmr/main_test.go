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
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianAPM/cmd/cmr/config"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/registration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCIDir writes a YAML configuration directory with one environment,
// one profile and one mapping.
func writeCIDir(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"environments/prod.yaml": `
id: prod
name: production
profile_ids: [web]
method_sensor_configs:
  - name: Timer
    class_name: sensors.Timer
    priority: HIGH
`,
		"profiles/web.yaml": `
id: web
name: web
active: true
method_sensor_assignments:
  - class_name: javax.servlet.Servlet
    interface: true
    sensor_config_class_name: sensors.Timer
    method_name: service
exclude_rules:
  - class_name: sun.*
`,
		"mappings.yaml": `
- agent_name: web-*
  ip_address: 10.*
  environment_id: prod
  active: true
`,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveCommand_FileStore(t *testing.T) {
	dir := t.TempDir()
	ciDir := filepath.Join(dir, "ci")
	writeCIDir(t, ciDir)
	cfgPath := writeConfig(t, dir, "store:\n  kind: file\n  dir: "+ciDir+"\nregistry:\n  kind: memory\nlogging:\n  level: error\n")

	out, err := run(t, "--config", cfgPath, "resolve", "--agent", "web-1", "--ip", "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "environment: prod")
	assert.Contains(t, out, "class_name: sensors.Timer")
	assert.Contains(t, out, "Timer on javax.servlet.Servlet")
	assert.Contains(t, out, "pattern: sun.*")

	_, err = run(t, "--config", cfgPath, "resolve", "--agent", "batch", "--ip", "10.0.0.1")
	assert.Error(t, err)
}

func TestImportCommand_IntoBadger(t *testing.T) {
	dir := t.TempDir()
	ciDir := filepath.Join(dir, "source")
	writeCIDir(t, ciDir)
	cfgPath := writeConfig(t, dir, "store:\n  kind: badger\nregistry:\n  kind: badger\nbadger:\n  path: "+
		filepath.Join(dir, "db")+"\n  sync_writes: false\n  gc_interval: 0s\nlogging:\n  level: error\n")

	out, err := run(t, "--config", cfgPath, "import", ciDir)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 environments, 1 profiles, 1 agent mappings")

	out, err = run(t, "--config", cfgPath, "resolve", "--agent", "web-2", "--ip", "10.1.1.1")
	require.NoError(t, err)
	assert.Contains(t, out, "environment: prod")

	_, err = run(t, "--config", cfgPath, "import", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestImportCommand_RejectsMemoryStore(t *testing.T) {
	dir := t.TempDir()
	writeCIDir(t, filepath.Join(dir, "source"))
	cfgPath := writeConfig(t, dir, "store:\n  kind: memory\nregistry:\n  kind: memory\n")

	_, err := run(t, "--config", cfgPath, "import", filepath.Join(dir, "source"))
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"
	shutdown, err := telemetry.Init(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(ctx) })

	svc := instrumentation.NewService(instrumentation.DefaultServiceConfig(), ci.NewMemoryStore(), registration.NewMemoryRegistry(), nil)
	appCfg := config.DefaultConfig(t.TempDir())
	appCfg.Server.AuthTokens = map[string]string{"fleet": "s3cret"}
	router := newRouter(svc, false, serviceOptions(appCfg, slog.Default()))

	for _, path := range []string{"/v1/cmr/health", "/v1/cmr/ready", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cmr/classcache/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/cmr/classcache/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
