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

package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/errtypes"
)

// Cache is the subset of ManifestCache (C4) the store consults before
// hitting the network. Kept as an interface here so manifest doesn't
// import manifestcache, avoiding an import cycle — manifestcache is
// wired in by the pool engine at construction time.
type Cache interface {
	Get(filePath string) (*Manifest, bool)
	Put(m *Manifest)
	Delete(filePath string)
}

// nopCache is used when the caller doesn't wire a persistent cache.
type nopCache struct{}

func (nopCache) Get(string) (*Manifest, bool) { return nil, false }
func (nopCache) Put(*Manifest)                {}
func (nopCache) Delete(string)                {}

// Store is the ManifestStore (C3): create/save/load/list/delete over
// manifests replicated on every configured remote.
type Store struct {
	client         blobclient.Client
	remotes        []string
	manifestPrefix string
	cache          Cache

	log zerolog.Logger
	now func() time.Time
}

// NewStore builds a ManifestStore. cache may be nil, in which case
// loads always hit the remotes.
func NewStore(client blobclient.Client, remotes []string, manifestPrefix string, cache Cache, log zerolog.Logger) *Store {
	if cache == nil {
		cache = nopCache{}
	}
	return &Store{
		client:         client,
		remotes:        remotes,
		manifestPrefix: manifestPrefix,
		cache:          cache,
		log:            log,
		now:            time.Now,
	}
}

// Create builds a Manifest, computing checksum and created_at, without
// persisting it.
func (s *Store) Create(fileName, remoteDir string, fileSize, chunkSize uint64, chunks []Chunk) *Manifest {
	fp := JoinFilePath(remoteDir, fileName)
	return &Manifest{
		Version:    1,
		FileName:   fileName,
		RemoteDir:  NormalizePath(remoteDir),
		FilePath:   fp,
		FileSize:   fileSize,
		ChunkSize:  chunkSize,
		ChunkCount: uint32(len(chunks)),
		Chunks:     chunks,
		CreatedAt:  float64(s.now().UnixNano()) / 1e9,
		Checksum:   computeChecksum(fileName, fileSize, uint32(len(chunks))),
	}
}

// Save fans the manifest JSON out to every remote. It fails only if
// every remote rejected the write; per-remote failures are logged
// (spec §4.3/§7).
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errtypes.Integrity(fmt.Sprintf("marshaling manifest %s: %v", m.FilePath, err))
	}
	recordPath := ManifestRecordPath(s.manifestPrefix, m.FilePath)

	var successes int
	for _, r := range s.remotes {
		if err := s.client.Upload(ctx, r, recordPath, data); err != nil {
			s.log.Warn().Str("remote", r).Str("file_path", m.FilePath).Err(err).Msg("manifest save failed on remote")
			continue
		}
		successes++
	}
	if successes == 0 {
		return fmt.Errorf("manifest: save %s failed on every remote", m.FilePath)
	}
	s.cache.Put(m)
	return nil
}

// Load returns the manifest for filePath, consulting the cache first
// and otherwise querying remotes in configured order, returning the
// first one that parses (spec §4.3, §9 open question: short-circuit
// rather than union — see DESIGN.md).
func (s *Store) Load(ctx context.Context, filePath string) (*Manifest, error) {
	fp := NormalizePath(filePath)
	if m, ok := s.cache.Get(fp); ok {
		return m, nil
	}

	recordPath := ManifestRecordPath(s.manifestPrefix, fp)
	var lastErr error
	for _, r := range s.remotes {
		data, err := s.client.Download(ctx, r, recordPath)
		if err != nil {
			lastErr = err
			continue
		}
		m := &Manifest{}
		if err := json.Unmarshal(data, m); err != nil {
			s.log.Warn().Str("remote", r).Str("file_path", fp).Err(err).Msg("manifest JSON parse failed, trying next remote")
			lastErr = errtypes.Integrity(fmt.Sprintf("parsing manifest from %s: %v", r, err))
			continue
		}
		s.cache.Put(m)
		return m, nil
	}
	if lastErr == nil {
		lastErr = errtypes.NotFound(fp)
	}
	return nil, lastErr
}

// List returns every live manifest under dir, deduplicated by file_path
// (spec §4.3). recursive=false matches remote_dir exactly; recursive=true
// matches remote_dir equal to or descended from dir.
func (s *Store) List(ctx context.Context, dir string, recursive bool) ([]*Manifest, error) {
	dir = NormalizePath(dir)
	seen := map[string]*Manifest{}

	for _, r := range s.remotes {
		names, err := s.client.List(ctx, r, s.manifestPrefix)
		if err != nil {
			s.log.Warn().Str("remote", r).Err(err).Msg("manifest list failed on remote")
			continue
		}
		for _, name := range names {
			if !strings.HasSuffix(name, ".manifest.json") {
				continue
			}
			recordPath := s.manifestPrefix + "/" + name
			data, err := s.client.Download(ctx, r, recordPath)
			if err != nil {
				continue
			}
			m := &Manifest{}
			if err := json.Unmarshal(data, m); err != nil {
				s.log.Warn().Str("remote", r).Str("record", recordPath).Err(err).Msg("skipping unparsable manifest")
				continue
			}
			if _, already := seen[m.FilePath]; already {
				continue
			}
			if dirMatches(m.RemoteDir, dir, recursive) {
				seen[m.FilePath] = m
			}
		}
	}

	out := make([]*Manifest, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	return out, nil
}

func dirMatches(remoteDir, dir string, recursive bool) bool {
	remoteDir = NormalizePath(remoteDir)
	if !recursive {
		return remoteDir == dir
	}
	if remoteDir == dir {
		return true
	}
	if dir == "/" {
		return true
	}
	return strings.HasPrefix(remoteDir, dir+"/")
}

// Delete removes the manifest object on every remote (ignoring
// per-remote not-found) and evicts it from the cache.
func (s *Store) Delete(ctx context.Context, filePath string) error {
	fp := NormalizePath(filePath)
	recordPath := ManifestRecordPath(s.manifestPrefix, fp)
	for _, r := range s.remotes {
		if err := s.client.Delete(ctx, r, recordPath); err != nil {
			s.log.Warn().Str("remote", r).Str("file_path", fp).Err(err).Msg("manifest delete failed on remote")
		}
	}
	s.cache.Delete(fp)
	return nil
}
