// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command calcengine runs the diagnostic HTTP server for a lazy,
// self-memoizing computation graph, and inspects/manages its structural
// snapshots.
//
// Usage:
//
//	calcengine serve --port 8080
//	calcengine snapshot save --db ./snapshots --project demo --label nightly
//	calcengine snapshot list --db ./snapshots --project demo
//	calcengine snapshot diff --db ./snapshots --from <id> --to <id>
//	calcengine config validate --path ./calcengine.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "calcengine",
	Short: "Diagnostic server and snapshot tooling for the calcengine memoization cache",
}

func main() {
	rootCmd.AddCommand(serveCmd, snapshotCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
