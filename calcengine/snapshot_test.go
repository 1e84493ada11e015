// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/bsdz/calcengine/calcengine"
	badger "github.com/dgraph-io/badger/v4"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSnapshotStore(t *testing.T) *calcengine.BadgerSnapshotStore {
	t.Helper()
	db := newTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := calcengine.NewBadgerSnapshotStore(db, "", logger)
	if err != nil {
		t.Fatalf("NewBadgerSnapshotStore: %v", err)
	}
	return store
}

func buildSnapshotTestEngine() *calcengine.CalcEngine {
	eng := calcengine.New()
	a := calcengine.Register(eng, func() int { return 1 }, calcengine.Alias("snapA"))
	b := calcengine.Register(eng, func() int { return 2 }, calcengine.Alias("snapB"))
	aFn := a.Func().(func() int)
	bFn := b.Func().(func() int)
	aFn()
	bFn()
	return eng
}

func TestNewBadgerSnapshotStore_NilDB(t *testing.T) {
	_, err := calcengine.NewBadgerSnapshotStore(nil, "", slog.Default())
	if err == nil {
		t.Error("expected error for nil DB")
	}
}

func TestBadgerSnapshotStore_SaveAndLoad(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	eng := buildSnapshotTestEngine()

	meta, err := store.Save(ctx, eng.Cache(), "proj1", "initial")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.NodeCount != 2 {
		t.Fatalf("expected 2 nodes, got %d", meta.NodeCount)
	}

	nodes, idMap, loadedMeta, err := store.Load(ctx, meta.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes in loaded snapshot, got %d", len(nodes))
	}
	if len(idMap) != 2 {
		t.Fatalf("expected 2 entries in id map, got %d", len(idMap))
	}
	if loadedMeta.SnapshotID != meta.SnapshotID {
		t.Fatalf("loaded metadata snapshot id mismatch: got %s want %s", loadedMeta.SnapshotID, meta.SnapshotID)
	}
}

func TestBadgerSnapshotStore_LoadLatest(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	eng := buildSnapshotTestEngine()

	first, err := store.Save(ctx, eng.Cache(), "proj1", "first")
	if err != nil {
		t.Fatalf("Save (first): %v", err)
	}
	second, err := store.Save(ctx, eng.Cache(), "proj1", "second")
	if err != nil {
		t.Fatalf("Save (second): %v", err)
	}
	if first.SnapshotID == second.SnapshotID {
		t.Fatal("two distinct saves must not collide on the same snapshot id")
	}

	_, _, latestMeta, err := store.LoadLatest(ctx, "proj1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latestMeta.SnapshotID != second.SnapshotID {
		t.Fatalf("LoadLatest must return the most recently saved snapshot, got %s want %s", latestMeta.SnapshotID, second.SnapshotID)
	}
}

func TestBadgerSnapshotStore_List(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	eng := buildSnapshotTestEngine()

	if _, err := store.Save(ctx, eng.Cache(), "proj1", "a"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, eng.Cache(), "proj1", "b"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, eng.Cache(), "proj2", "c"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	metas, err := store.List(ctx, "proj1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 snapshots for proj1, got %d", len(metas))
	}
}

func TestBadgerSnapshotStore_Delete(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	eng := buildSnapshotTestEngine()

	meta, err := store.Save(ctx, eng.Cache(), "proj1", "to-delete")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, meta.SnapshotID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, _, err := store.Load(ctx, meta.SnapshotID); err == nil {
		t.Fatal("expected Load to fail for a deleted snapshot")
	}
}

func TestProjectKey_StableForSameLabel(t *testing.T) {
	if calcengine.ProjectKey("same") != calcengine.ProjectKey("same") {
		t.Fatal("ProjectKey must be deterministic for the same label")
	}
	if calcengine.ProjectKey("a") == calcengine.ProjectKey("b") {
		t.Fatal("ProjectKey must differ for distinct labels")
	}
}
