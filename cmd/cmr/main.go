// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command cmr runs the instrumentation configuration server.
//
// Usage:
//
//	cmr serve                          Start the HTTP server
//	cmr resolve --agent web-1 --ip 10.0.0.1
//	                                   Print the configuration an agent would get
//	cmr import ./ci                    Copy a YAML directory into the configured store
//
// All commands read ~/.aleutian/cmr.yaml, or the file given with --config;
// it is created with defaults on first run.
package main

import (
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianAPM/cmd/cmr/config"
	"github.com/AleutianAI/AleutianAPM/pkg/logging"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "cmr",
		Short:        "Instrumentation configuration server for Aleutian APM agents",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.aleutian/cmr.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newResolveCmd(opts),
		newImportCmd(opts),
	)
	return root
}

// load reads the config file and builds the logger described by it.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, *logging.Logger, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, nil, err
		}
		path = p
	}

	cfg, created, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if created {
		fmt.Fprintf(cmd.ErrOrStderr(), "First run detected, created the config at %s\n", path)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	jsonOut, err := logging.UseJSON(cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		JSON:    jsonOut,
		LogDir:  cfg.Logging.Dir,
		Service: "cmr",
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		logger.Slog().Warn("File logging disabled", "error", err)
	}
	return cfg, logger, nil
}
