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

// Package verifier audits chunk existence/size, repairs from a local
// source, and scans for orphaned remote objects (C9).
package verifier

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/manifest"
)

// Result is the outcome of one verify() call, per spec §4.9.
type Result struct {
	FilePath      string
	Status        string // "ok" | "degraded"
	MissingChunks []uint32
	Total         int
	Verified      int
}

// OrphanChunk is a remote object with no manifest reference, per
// findOrphans.
type OrphanChunk struct {
	Remote string
	Path   string
	Size   uint64
}

// Verifier audits and repairs chunk placement against the manifests
// held by a ManifestStore-shaped dependency.
type Verifier struct {
	client     blobclient.Client
	store      manifestLister
	dataPrefix string
	zstdDec    *zstd.Decoder
	log        zerolog.Logger
}

// manifestLister is the subset of manifest.Store that Verifier needs;
// declared locally so tests can substitute a stub without importing the
// full store.
type manifestLister interface {
	Load(ctx context.Context, filePath string) (*manifest.Manifest, error)
	List(ctx context.Context, dir string, recursive bool) ([]*manifest.Manifest, error)
}

// New builds a Verifier. A zstd decoder is always built (cheap,
// stateless for decoding) so probeChunk can recognize the stored size
// of a compressed chunk regardless of whether this pool has
// enable_compression on right now — manifests written while it was on
// persist Chunk.Compressed regardless.
func New(client blobclient.Client, store manifestLister, dataPrefix string, log zerolog.Logger) *Verifier {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("verifier: building zstd decoder: %v", err))
	}
	return &Verifier{client: client, store: store, dataPrefix: dataPrefix, zstdDec: dec, log: log}
}

// Verify probes every chunk of filePath's manifest for existence
// (quick) or existence+size (full).
func (v *Verifier) Verify(ctx context.Context, filePath string, quick bool) (Result, error) {
	m, err := v.store.Load(ctx, filePath)
	if err != nil {
		return Result{}, fmt.Errorf("verifier: loading manifest for %s: %w", filePath, err)
	}
	return v.verifyManifest(ctx, m, quick), nil
}

func (v *Verifier) verifyManifest(ctx context.Context, m *manifest.Manifest, quick bool) Result {
	res := Result{FilePath: m.FilePath, Total: len(m.Chunks)}
	for _, c := range m.Chunks {
		ok := v.probeChunk(ctx, c, quick)
		if ok {
			res.Verified++
		} else {
			res.MissingChunks = append(res.MissingChunks, c.Index)
		}
	}
	if len(res.MissingChunks) == 0 {
		res.Status = "ok"
	} else {
		res.Status = "degraded"
	}
	return res
}

func (v *Verifier) probeChunk(ctx context.Context, c manifest.Chunk, quick bool) bool {
	if quick {
		_, err := v.client.DownloadRange(ctx, c.Remote, c.Path, 0, 1)
		return err == nil
	}
	data, err := v.client.Download(ctx, c.Remote, c.Path)
	if err != nil {
		return false
	}
	if c.Compressed {
		data, err = v.zstdDec.DecodeAll(data, nil)
		if err != nil {
			return false
		}
	}
	return uint64(len(data)) == c.Size
}

// VerifyAll runs Verify over every manifest under the tree.
func (v *Verifier) VerifyAll(ctx context.Context, quick bool) ([]Result, error) {
	manifests, err := v.store.List(ctx, "/", true)
	if err != nil {
		return nil, fmt.Errorf("verifier: listing manifests: %w", err)
	}
	results := make([]Result, 0, len(manifests))
	for _, m := range manifests {
		results = append(results, v.verifyManifest(ctx, m, quick))
	}
	return results, nil
}

// Repair reads missing chunks back out of localSource (which must be at
// least file_size long) and reuploads them to their recorded
// (remote, path), then re-verifies.
func (v *Verifier) Repair(ctx context.Context, filePath, localSource string) (Result, error) {
	m, err := v.store.Load(ctx, filePath)
	if err != nil {
		return Result{}, fmt.Errorf("verifier: loading manifest for %s: %w", filePath, err)
	}
	before := v.verifyManifest(ctx, m, false)

	info, err := os.Stat(localSource)
	if err != nil {
		return Result{}, fmt.Errorf("verifier: stat local source: %w", err)
	}
	if uint64(info.Size()) < m.FileSize {
		return Result{}, fmt.Errorf("verifier: local source %s is shorter than file_size (%d < %d)", localSource, info.Size(), m.FileSize)
	}

	f, err := os.Open(localSource)
	if err != nil {
		return Result{}, fmt.Errorf("verifier: opening local source: %w", err)
	}
	defer f.Close()

	byIndex := make(map[uint32]manifest.Chunk, len(m.Chunks))
	for _, c := range m.Chunks {
		byIndex[c.Index] = c
	}
	for _, idx := range before.MissingChunks {
		c, ok := byIndex[idx]
		if !ok {
			continue
		}
		buf := make([]byte, c.Size)
		if _, err := f.Seek(int64(c.Offset), io.SeekStart); err != nil {
			return Result{}, fmt.Errorf("verifier: seeking to chunk %d: %w", idx, err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return Result{}, fmt.Errorf("verifier: reading chunk %d from local source: %w", idx, err)
		}
		if err := v.client.Upload(ctx, c.Remote, c.Path, buf); err != nil {
			v.log.Warn().Uint32("chunk_index", idx).Err(err).Msg("repair upload failed")
		}
	}

	return v.verifyManifest(ctx, m, false), nil
}

// FindOrphans builds the referenced (remote, path) set from every live
// manifest and reports any object listed under data_prefix on any
// remote that no manifest references.
func (v *Verifier) FindOrphans(ctx context.Context, remotes []string) ([]OrphanChunk, error) {
	manifests, err := v.store.List(ctx, "/", true)
	if err != nil {
		return nil, fmt.Errorf("verifier: listing manifests: %w", err)
	}
	referenced := map[string]bool{}
	for _, m := range manifests {
		for _, c := range m.Chunks {
			referenced[c.Remote+"\x00"+c.Path] = true
			for _, rep := range c.Replicas {
				referenced[rep.Remote+"\x00"+rep.Path] = true
			}
		}
		for _, pc := range m.ParityChunks {
			referenced[pc.Remote+"\x00"+pc.Path] = true
		}
	}

	var orphans []OrphanChunk
	for _, remote := range remotes {
		names, err := v.client.List(ctx, remote, v.dataPrefix)
		if err != nil {
			v.log.Warn().Str("remote", remote).Err(err).Msg("orphan scan: listing failed")
			continue
		}
		for _, name := range names {
			path := v.dataPrefix + "/" + name
			if referenced[remote+"\x00"+path] {
				continue
			}
			data, err := v.client.Download(ctx, remote, path)
			size := uint64(0)
			if err == nil {
				size = uint64(len(data))
			}
			orphans = append(orphans, OrphanChunk{Remote: remote, Path: path, Size: size})
		}
	}
	return orphans, nil
}

// DeleteOrphans deletes every listed orphan (a no-op unless confirm is
// true) and returns the count of successful deletions.
func (v *Verifier) DeleteOrphans(ctx context.Context, orphans []OrphanChunk, confirm bool) (int, error) {
	if !confirm {
		return 0, nil
	}
	deleted := 0
	for _, o := range orphans {
		if err := v.client.Delete(ctx, o.Remote, o.Path); err != nil {
			v.log.Warn().Str("remote", o.Remote).Str("path", o.Path).Err(err).Msg("orphan delete failed")
			continue
		}
		deleted++
	}
	return deleted, nil
}
