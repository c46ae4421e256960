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
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianAPM/cmd/cmr/config"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci/filestore"
	"github.com/spf13/cobra"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import [dir]",
		Short: "Copy a YAML configuration directory into the configured store",
		Long: `Reads environments/, profiles/ and mappings.yaml from dir and writes
every record to the store selected in the config. Agent mappings are
replaced; other records with new ids are added.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()
			ctx := cmd.Context()

			if cfg.Store.Kind == config.StoreMemory {
				return fmt.Errorf("import into a memory store would be lost on exit")
			}
			src, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if fi, err := os.Stat(src); err != nil || !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", src)
			}
			if cfg.Store.Kind == config.StoreFile {
				if dst, _ := filepath.Abs(cfg.Store.Dir); dst == src {
					return fmt.Errorf("source %s is the configured store", src)
				}
			}

			from, err := filestore.Open(ctx, src, filestore.WithLogger(logger.Slog()))
			if err != nil {
				return fmt.Errorf("open %s: %w", src, err)
			}
			b, err := openBackends(ctx, cfg, logger.Slog(), false)
			if err != nil {
				return err
			}
			defer b.Close()

			stats, err := ci.Copy(ctx, b.store, from)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d environments, %d profiles, %d agent mappings\n",
				stats.Environments, stats.Profiles, stats.Mappings)
			return nil
		},
	}
}
