// Copyright 2026 The rclonepool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manifestcache is the persistent on-disk index of manifests
// (C4): a single JSON file, replaced atomically on every flush via
// renameio so a crash mid-write never leaves a torn cache file — the
// RAII-equivalent the spec §9 asks for in place of a context-manager
// "auto-save on exit".
package manifestcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/manifest"
)

// diskFormat is the on-disk shape written to manifest_cache.json.
type diskFormat struct {
	Version   int                         `json:"version"`
	UpdatedAt float64                     `json:"updated_at"`
	Manifests map[string]*manifest.Manifest `json:"manifests"`
}

// Cache is the persistent key->manifest map keyed by canonical
// file_path, backed by a single JSON file under CacheDir.
type Cache struct {
	path string
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*manifest.Manifest
	dirty   bool
}

// Stats summarizes cache occupancy.
type Stats struct {
	Entries int
	Dirty   bool
}

// Open loads (or creates) the cache file at {cacheDir}/manifest_cache.json.
func Open(cacheDir string, log zerolog.Logger) (*Cache, error) {
	if strings.HasPrefix(cacheDir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			cacheDir = filepath.Join(home, strings.TrimPrefix(cacheDir, "~"))
		}
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "manifestcache: creating cache dir")
	}
	path := filepath.Join(cacheDir, "manifest_cache.json")

	c := &Cache{path: path, log: log, now: time.Now, entries: map[string]*manifest.Manifest{}}
	if data, err := os.ReadFile(path); err == nil {
		var df diskFormat
		if err := json.Unmarshal(data, &df); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("manifest cache file unreadable, starting empty")
		} else if df.Manifests != nil {
			c.entries = df.Manifests
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "manifestcache: reading cache file")
	}
	return c, nil
}

// Get returns the cached manifest for path, if present.
func (c *Cache) Get(filePath string) (*manifest.Manifest, bool) {
	fp := manifest.NormalizePath(filePath)
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[fp]
	return m, ok
}

// Put inserts or updates the cached entry for m.FilePath and marks the
// cache dirty so the next Flush actually writes.
func (c *Cache) Put(m *manifest.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[manifest.NormalizePath(m.FilePath)] = m
	c.dirty = true
}

// Delete evicts filePath from the cache.
func (c *Cache) Delete(filePath string) {
	fp := manifest.NormalizePath(filePath)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[fp]; ok {
		delete(c.entries, fp)
		c.dirty = true
	}
}

// ListAll returns every cached manifest.
func (c *Cache) ListAll() []*manifest.Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*manifest.Manifest, 0, len(c.entries))
	for _, m := range c.entries {
		out = append(out, m)
	}
	return out
}

// ListByDirectory filters ListAll to manifests under dir.
func (c *Cache) ListByDirectory(dir string, recursive bool) []*manifest.Manifest {
	dir = manifest.NormalizePath(dir)
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manifest.Manifest
	for _, m := range c.entries {
		rd := manifest.NormalizePath(m.RemoteDir)
		if recursive {
			if rd == dir || dir == "/" || strings.HasPrefix(rd, dir+"/") {
				out = append(out, m)
			}
		} else if rd == dir {
			out = append(out, m)
		}
	}
	return out
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*manifest.Manifest{}
	c.dirty = true
}

// Stats reports current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Dirty: c.dirty}
}

// Flush persists the cache if dirty, via a temp-file-then-atomic-rename
// write (renameio.WriteFile), a no-op otherwise so repeated Close/defer
// calls along every exit path never re-write an unchanged cache.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	df := diskFormat{Version: 1, UpdatedAt: float64(c.now().UnixNano()) / 1e9, Manifests: c.entries}
	data, err := json.MarshalIndent(df, "", "  ")
	if err != nil {
		return errors.Wrap(err, "manifestcache: marshaling")
	}
	if err := renameio.WriteFile(c.path, data, 0o644); err != nil {
		return errors.Wrap(err, "manifestcache: atomic write")
	}
	c.dirty = false
	return nil
}

// Close flushes and is meant to be deferred immediately after Open, so
// the cache persists on every return path including a recovered panic
// in the caller (spec §9's "context manager for caches" redesign).
func (c *Cache) Close() error {
	return c.Flush()
}

var _ interface {
	Get(string) (*manifest.Manifest, bool)
	Put(*manifest.Manifest)
	Delete(string)
} = (*Cache)(nil)
