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
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EngineConfig is the engine's ambient configuration, loaded the way
// graph/trace_config.go loads TraceConfig: yaml.v3, struct-tag validated,
// and tolerant of a missing file.
type EngineConfig struct {
	// TypedKeyingDefault is loaded, validated and reported (config
	// validate, serve's startup banner). Register does not read it: typed
	// keying is chosen per registration with Typed().
	TypedKeyingDefault bool `yaml:"typed_keying_default"`

	// SnapshotBackend names a SnapshotStore implementation: "badger" or
	// "gcs" (empty is accepted). It is validated only; the snapshot
	// subcommands always open a BadgerSnapshotStore.
	SnapshotBackend string `yaml:"snapshot_backend" validate:"omitempty,oneof=badger gcs"`

	// SnapshotDir names a directory for the Badger snapshot store. It is
	// loaded only; the snapshot subcommands take their directory from --db.
	SnapshotDir string `yaml:"snapshot_dir"`

	// GCSBucket names the bucket used by the gcs snapshot backend.
	GCSBucket string `yaml:"gcs_bucket" validate:"required_if=SnapshotBackend gcs"`

	// MetricsSink names a metrics destination in addition to the always-on
	// Prometheus vectors: "" (none) or "influx". It is validated only;
	// nothing in this module builds an InfluxSink from it.
	MetricsSink string `yaml:"metrics_sink" validate:"omitempty,oneof=influx"`

	InfluxURL    string `yaml:"influx_url"`
	InfluxToken  string `yaml:"influx_token"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`
}

var validate = validator.New()

// LoadConfig reads path as YAML into an EngineConfig. A missing file is
// not an error — it returns the zero-value config, matching
// graph/trace_config.go's "missing config file is fine" convention.
func LoadConfig(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigWatcher hot-reloads an EngineConfig from disk on write events,
// swapping it atomically so concurrent readers never observe a torn
// config. There is no teacher file retrieved that exercises fsnotify
// directly; this is its first direct use in the pack (DESIGN.md).
type ConfigWatcher struct {
	path    string
	current atomic.Pointer[EngineConfig]
	watcher *fsnotify.Watcher
	onError func(error)
}

// NewConfigWatcher loads path once, then watches its directory for
// writes and reloads on each one.
func NewConfigWatcher(path string, onError func(error)) (*ConfigWatcher, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &ConfigWatcher{path: path, watcher: w, onError: onError}
	cw.current.Store(cfg)
	if err := w.Add(pathDir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	go cw.loop()
	return cw, nil
}

// Current returns the most recently loaded config.
func (c *ConfigWatcher) Current() *EngineConfig { return c.current.Load() }

// Close stops the watcher goroutine.
func (c *ConfigWatcher) Close() error { return c.watcher.Close() }

func (c *ConfigWatcher) loop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Name != c.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(c.path)
			if err != nil {
				if c.onError != nil {
					c.onError(err)
				}
				continue
			}
			c.current.Store(cfg)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			if c.onError != nil {
				c.onError(err)
			}
		}
	}
}

func pathDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
