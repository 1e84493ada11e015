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

	"github.com/bsdz/calcengine/calcengine"
	"github.com/spf13/cobra"
)

var configPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect calcengine.yaml configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a config file",
	Run:   runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVar(&configPath, "path", "./calcengine.yaml", "path to config file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	cfg, err := calcengine.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}
	fmt.Printf("config OK: snapshot_backend=%q metrics_sink=%q typed_keying_default=%v\n",
		cfg.SnapshotBackend, cfg.MetricsSink, cfg.TypedKeyingDefault)
}
