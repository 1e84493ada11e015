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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSSnapshotStore is an alternate SnapshotStore backend for teams that
// want durable off-box storage instead of a local BadgerDB file.
// Object layout mirrors BadgerSnapshotStore's key schema one-for-one and
// both implement SnapshotStore, so the two backends are interchangeable
// for a caller that picks one.
type GCSSnapshotStore struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCSSnapshotStore wraps an already-authenticated storage.Client.
func NewGCSSnapshotStore(client *storage.Client, bucket string, logger *slog.Logger) (*GCSSnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("calcengine: gcs client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("calcengine: gcs bucket must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSSnapshotStore{client: client, bucket: bucket, logger: logger}, nil
}

func (s *GCSSnapshotStore) objectName(projectKey, snapshotID, suffix string) string {
	return fmt.Sprintf("%s%s:%s%s", keyPrefixSnap, projectKey, snapshotID, suffix)
}

func (s *GCSSnapshotStore) latestObjectName(projectKey string) string {
	return keyPrefixSnap + projectKey + keySuffixLatest
}

func (s *GCSSnapshotStore) indexObjectName(snapshotID string) string {
	return keyPrefixSnapIndex + snapshotID
}

func (s *GCSSnapshotStore) writeObject(ctx context.Context, name string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *GCSSnapshotStore) readObject(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSSnapshotStore) Save(ctx context.Context, c *Cache, projectKey, label string) (*SnapshotMetadata, error) {
	if c == nil {
		return nil, fmt.Errorf("calcengine: cache must not be nil")
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
	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		ProjectKey:     projectKey,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      len(records),
		SchemaVersion:  SnapshotSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashHex(string(compressedData)),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	if err := s.writeObject(ctx, s.objectName(projectKey, snapshotID, keySuffixData), compressedData); err != nil {
		return nil, fmt.Errorf("writing snapshot data object: %w", err)
	}
	if err := s.writeObject(ctx, s.objectName(projectKey, snapshotID, keySuffixMeta), metaJSON); err != nil {
		return nil, fmt.Errorf("writing snapshot metadata object: %w", err)
	}
	if err := s.writeObject(ctx, s.latestObjectName(projectKey), []byte(snapshotID)); err != nil {
		return nil, fmt.Errorf("writing latest pointer object: %w", err)
	}
	if err := s.writeObject(ctx, s.indexObjectName(snapshotID), []byte(projectKey)); err != nil {
		return nil, fmt.Errorf("writing snapshot index object: %w", err)
	}

	s.logger.Info("snapshot saved to gcs",
		slog.String("snapshot_id", snapshotID),
		slog.String("project_key", projectKey),
		slog.Int("node_count", meta.NodeCount))
	return meta, nil
}

func (s *GCSSnapshotStore) Load(ctx context.Context, snapshotID string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error) {
	projectKeyBytes, err := s.readObject(ctx, s.indexObjectName(snapshotID))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return s.loadByKeys(ctx, string(projectKeyBytes), snapshotID)
}

func (s *GCSSnapshotStore) LoadLatest(ctx context.Context, projectKey string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error) {
	snapshotIDBytes, err := s.readObject(ctx, s.latestObjectName(projectKey))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectKey, err)
	}
	return s.loadByKeys(ctx, projectKey, string(snapshotIDBytes))
}

func (s *GCSSnapshotStore) loadByKeys(ctx context.Context, projectKey, snapshotID string) (map[ShortID][]ShortID, map[ShortID]LongID, *SnapshotMetadata, error) {
	compressedData, err := s.readObject(ctx, s.objectName(projectKey, snapshotID, keySuffixData))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading snapshot data: %w", err)
	}
	metaJSON, err := s.readObject(ctx, s.objectName(projectKey, snapshotID, keySuffixMeta))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading snapshot metadata: %w", err)
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

func (s *GCSSnapshotStore) List(ctx context.Context, projectKey string, limit int) ([]*SnapshotMetadata, error) {
	if limit <= 0 {
		limit = 100
	}
	prefix := keyPrefixSnap
	if projectKey != "" {
		prefix = keyPrefixSnap + projectKey + ":"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var results []*SnapshotMetadata
	for {
		attrs, err := it.Next()
		if err == storage.ErrObjectNotExist {
			break
		}
		if err != nil {
			if err.Error() == "iterator: done" || strings.Contains(err.Error(), "no more items") {
				break
			}
			return nil, fmt.Errorf("listing snapshot objects: %w", err)
		}
		if !isMetaKey(attrs.Name) {
			continue
		}
		data, err := s.readObject(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("skipping unreadable metadata object", slog.String("name", attrs.Name), slog.Any("err", err))
			continue
		}
		var meta SnapshotMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("skipping corrupt metadata object", slog.String("name", attrs.Name), slog.Any("err", err))
			continue
		}
		results = append(results, &meta)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAtMilli > results[j].CreatedAtMilli })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *GCSSnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	projectKeyBytes, err := s.readObject(ctx, s.indexObjectName(snapshotID))
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	projectKey := string(projectKeyBytes)
	names := []string{
		s.objectName(projectKey, snapshotID, keySuffixData),
		s.objectName(projectKey, snapshotID, keySuffixMeta),
		s.indexObjectName(snapshotID),
	}
	for _, name := range names {
		if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			return fmt.Errorf("deleting object %s: %w", name, err)
		}
	}
	return nil
}
