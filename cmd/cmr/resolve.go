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
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/AleutianAPM/cmd/cmr/config"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/agentconfig"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/configuration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/resolver"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// resolution is the dry-run output of the resolve command.
type resolution struct {
	Agent         string                   `yaml:"agent"`
	IPs           []string                 `yaml:"ips"`
	Environment   string                   `yaml:"environment"`
	Configuration *agentconfig.AgentConfig `yaml:"configuration"`
	Appliers      []string                 `yaml:"appliers"`
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		agent string
		ips   []string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the configuration an agent would receive",
		Long: `Resolves an agent name and addresses against the configured store
and prints the environment, agent configuration and instrumentation
appliers as YAML. Nothing is registered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()
			return runResolve(cmd.Context(), cfg, logger.Slog(), agent, ips, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent name")
	cmd.Flags().StringSliceVar(&ips, "ip", nil, "agent address (repeatable)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("ip")
	return cmd
}

func runResolve(ctx context.Context, cfg config.Config, logger *slog.Logger, agent string, ips []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackends(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	res := resolver.New(b.store, resolver.WithLogger(logger))
	env, err := res.ResolveEnvironmentForAgent(ctx, ips, agent)
	if err != nil {
		return err
	}
	platformID, err := b.registry.RegisterPlatformIdent(ctx, agent, ips)
	if err != nil {
		return err
	}
	profiles, err := res.Profiles(ctx, env)
	if err != nil {
		return err
	}
	agentCfg, err := configuration.NewCreator(b.registry, res, logger).ConfigurationForProfiles(ctx, env, platformID, profiles)
	if err != nil {
		return err
	}
	appliers, err := res.AppliersForProfiles(ctx, env, profiles)
	if err != nil {
		return err
	}

	r := resolution{
		Agent:         agent,
		IPs:           ips,
		Environment:   env.ID,
		Configuration: agentCfg,
		Appliers:      make([]string, len(appliers)),
	}
	for i, a := range appliers {
		r.Appliers[i] = a.Name()
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	return enc.Close()
}
