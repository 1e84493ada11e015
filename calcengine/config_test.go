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
	"os"
	"path/filepath"
	"testing"

	"github.com/bsdz/calcengine/calcengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileIsFine(t *testing.T) {
	cfg, err := calcengine.LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.SnapshotBackend)
	assert.False(t, cfg.TypedKeyingDefault)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcengine.yaml")
	yaml := "typed_keying_default: true\nsnapshot_backend: badger\nsnapshot_dir: /tmp/snaps\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := calcengine.LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.TypedKeyingDefault)
	assert.Equal(t, "badger", cfg.SnapshotBackend)
	assert.Equal(t, "/tmp/snaps", cfg.SnapshotDir)
}

func TestLoadConfig_RejectsUnknownSnapshotBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snapshot_backend: sqlite\n"), 0o644))

	_, err := calcengine.LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_GCSBucketRequiredForGCSBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snapshot_backend: gcs\n"), 0o644))

	_, err := calcengine.LoadConfig(path)
	assert.Error(t, err, "gcs_bucket is required when snapshot_backend is gcs")
}
