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
	"log/slog"
	"os"

	"github.com/bsdz/calcengine/calcengine"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
)

var (
	snapDBPath  string
	snapProject string
	snapLabel   string
	snapFrom    string
	snapTo      string
	snapLimit   int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect and manage structural cache snapshots",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save an empty-cache placeholder snapshot for a project key (use from a running process for real captures)",
	Run:   runSnapshotSave,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots for a project",
	Run:   runSnapshotList,
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show the structural diff between two snapshots",
	Run:   runSnapshotDiff,
}

func init() {
	for _, c := range []*cobra.Command{snapshotSaveCmd, snapshotListCmd, snapshotDiffCmd} {
		c.Flags().StringVar(&snapDBPath, "db", "./calcengine-snapshots", "Badger snapshot directory")
	}
	snapshotSaveCmd.Flags().StringVar(&snapProject, "project", "", "project key (required)")
	snapshotSaveCmd.Flags().StringVar(&snapLabel, "label", "", "human label for this snapshot")
	snapshotListCmd.Flags().StringVar(&snapProject, "project", "", "project key (empty lists all)")
	snapshotListCmd.Flags().IntVar(&snapLimit, "limit", 20, "max snapshots to list")
	snapshotDiffCmd.Flags().StringVar(&snapFrom, "from", "", "source snapshot id (required)")
	snapshotDiffCmd.Flags().StringVar(&snapTo, "to", "", "target snapshot id (required)")

	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotListCmd, snapshotDiffCmd)
}

func openSnapshotStore() (*calcengine.BadgerSnapshotStore, *badger.DB, error) {
	opts := badger.DefaultOptions(snapDBPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening badger db at %s: %w", snapDBPath, err)
	}
	store, err := calcengine.NewBadgerSnapshotStore(db, snapDBPath, slog.Default())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func runSnapshotSave(cmd *cobra.Command, args []string) {
	if snapProject == "" {
		fmt.Fprintln(os.Stderr, "--project is required")
		os.Exit(1)
	}
	store, db, err := openSnapshotStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	engine := calcengine.New(calcengine.WithLogger(slog.Default()))
	meta, err := store.Save(context.Background(), engine.Cache(), calcengine.ProjectKey(snapProject), snapLabel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("saved snapshot %s (%d nodes)\n", meta.SnapshotID, meta.NodeCount)
}

func runSnapshotList(cmd *cobra.Command, args []string) {
	store, db, err := openSnapshotStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	projectKey := ""
	if snapProject != "" {
		projectKey = calcengine.ProjectKey(snapProject)
	}
	metas, err := store.List(context.Background(), projectKey, snapLimit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(metas) == 0 {
		fmt.Println("no snapshots found")
		return
	}
	for _, m := range metas {
		fmt.Printf("%s  %-20s  nodes=%-5d  created=%d  label=%q\n", m.SnapshotID, m.ProjectKey, m.NodeCount, m.CreatedAtMilli, m.Label)
	}
}

func runSnapshotDiff(cmd *cobra.Command, args []string) {
	if snapFrom == "" || snapTo == "" {
		fmt.Fprintln(os.Stderr, "--from and --to are required")
		os.Exit(1)
	}
	store, db, err := openSnapshotStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	fromNodes, _, _, err := store.Load(ctx, snapFrom)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("loading %s: %w", snapFrom, err))
		os.Exit(1)
	}
	toNodes, _, _, err := store.Load(ctx, snapTo)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("loading %s: %w", snapTo, err))
		os.Exit(1)
	}

	result, err := calcengine.SnapshotDiff(snapFrom, fromNodes, snapTo, toNodes)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if result.Unified == "" {
		fmt.Println("no structural changes")
		return
	}
	fmt.Print(result.Unified)
}
