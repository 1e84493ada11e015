// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// SnapshotSchemaVersion is bumped whenever the persisted structural
// format changes shape.
const SnapshotSchemaVersion = "calc-snap-v1"

// Only structural metadata is ever persisted — short ids, the id map,
// and each node's requires set. Node *values* are explicitly out of
// scope (spec.md §1 Non-goals: "serialization of arbitrary user values
// to and from durable storage"), so a snapshot reconstructs the shape
// of the dependency graph, never the cached results themselves.
type serializedCache struct {
	IDMap map[ShortID]LongID    `json:"id_map"`
	Nodes map[ShortID][]ShortID `json:"nodes"`
}

// SnapshotMetadata describes one persisted structural snapshot, the Go
// port's analogue of graph/snapshot.go's SnapshotMetadata.
type SnapshotMetadata struct {
	SnapshotID     string `json:"snapshot_id"`
	ProjectKey     string `json:"project_key"`
	Label          string `json:"label"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	SchemaVersion  string `json:"schema_version"`
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

// SnapshotStore persists and retrieves structural cache snapshots,
// keeping storage backend (Badger, GCS, ...) decoupled from the engine.
type SnapshotStore interface {
	Save(ctx context.Context, c *Cache, projectKey, label string) (*SnapshotMetadata, error)
	Load(ctx context.Context, snapshotID string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error)
	LoadLatest(ctx context.Context, projectKey string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error)
	List(ctx context.Context, projectKey string, limit int) ([]*SnapshotMetadata, error)
	Delete(ctx context.Context, snapshotID string) error
}

const (
	keyPrefixSnap      = "calc:snap:"
	keyPrefixSnapIndex = "calc:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}

// BadgerSnapshotStore persists structural snapshots to BadgerDB as
// gzip+JSON, content-hashed — the exact pattern of graph/snapshot.go's
// SnapshotManager, narrowed to calcengine's own data shape.
type BadgerSnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
	lock   *dirLock
}

// NewBadgerSnapshotStore wraps an already-open BadgerDB handle. dir, if
// non-empty, is flocked for the duration of each Save (lock.go).
func NewBadgerSnapshotStore(db *badger.DB, dir string, logger *slog.Logger) (*BadgerSnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("calcengine: badger DB must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var l *dirLock
	if dir != "" {
		var err error
		l, err = newDirLock(dir)
		if err != nil {
			return nil, err
		}
	}
	return &BadgerSnapshotStore{db: db, logger: logger, lock: l}, nil
}

func (s *BadgerSnapshotStore) Save(ctx context.Context, c *Cache, projectKey, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("calcengine: ctx must not be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("calcengine: cache must not be nil")
	}
	if s.lock != nil {
		if err := s.lock.Lock(); err != nil {
			return nil, fmt.Errorf("locking snapshot dir: %w", err)
		}
		defer s.lock.Unlock()
	}

	records := c.Snapshot()
	sc := serializedCache{
		IDMap: c.IDMap(),
		Nodes: make(map[ShortID][]ShortID, len(records)),
	}
	for id, rec := range records {
		sc.Nodes[id] = rec.RequiresSlice()
	}

	jsonData, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("marshaling cache: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing cache: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	snapshotID := hashHex(fmt.Sprintf("%s:%d", projectKey, time.Now().UnixNano()))[:16]
	contentHash := hashHex(string(compressedData))

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		ProjectKey:     projectKey,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      len(records),
		SchemaVersion:  SnapshotSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    contentHash,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	dataKey := keyPrefixSnap + projectKey + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + projectKey + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + projectKey + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return err
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return err
		}
		if err := txn.Set([]byte(latestKey), []byte(snapshotID)); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey), []byte(projectKey))
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	s.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("project_key", projectKey),
		slog.Int("node_count", meta.NodeCount))

	return meta, nil
}

func (s *BadgerSnapshotStore) Load(ctx context.Context, snapshotID string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error) {
	if snapshotID == "" {
		return nil, nil, nil, fmt.Errorf("calcengine: snapshot id must not be empty")
	}
	var projectKey string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSnapIndex + snapshotID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			projectKey = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return s.loadByKeys(projectKey, snapshotID)
}

func (s *BadgerSnapshotStore) LoadLatest(ctx context.Context, projectKey string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error) {
	if projectKey == "" {
		return nil, nil, nil, fmt.Errorf("calcengine: project key must not be empty")
	}
	var snapshotID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSnap + projectKey + keySuffixLatest))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectKey, err)
	}
	return s.loadByKeys(projectKey, snapshotID)
}

func (s *BadgerSnapshotStore) loadByKeys(projectKey, snapshotID string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error) {
	dataKey := keyPrefixSnap + projectKey + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + projectKey + ":" + snapshotID + keySuffixMeta

	var compressedData []byte
	var metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataKey))
		if err != nil {
			return err
		}
		if compressedData, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get([]byte(metaKey))
		if err != nil {
			return err
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decompressing snapshot: %w", err)
	}

	var sc serializedCache
	if err := json.Unmarshal(jsonData, &sc); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshaling cache: %w", err)
	}
	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return sc.Nodes, sc.IDMap, &meta, nil
}

func (s *BadgerSnapshotStore) List(ctx context.Context, projectKey string, limit int) ([]*SnapshotMetadata, error) {
	if limit <= 0 {
		limit = 100
	}
	prefix := keyPrefixSnap
	if projectKey != "" {
		prefix = keyPrefixSnap + projectKey + ":"
	}
	var results []*SnapshotMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}
			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) })
			if err != nil {
				s.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("err", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAtMilli > results[j].CreatedAtMilli })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *BadgerSnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	var projectKey string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSnapIndex + snapshotID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			projectKey = string(val)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	dataKey := keyPrefixSnap + projectKey + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + projectKey + ":" + snapshotID + keySuffixMeta
	indexKey := keyPrefixSnapIndex + snapshotID
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range []string{dataKey, metaKey, indexKey} {
			if err := txn.Delete([]byte(k)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ProjectKey derives a stable snapshot-namespace key for a project root
// or other grouping label, the Go port's analogue of graph/snapshot.go's
// ProjectHash.
func ProjectKey(label string) string {
	return hashHex(label)[:16]
}
