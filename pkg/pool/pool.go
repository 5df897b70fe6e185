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

// Package pool implements PoolEngine (C12), the central orchestrator for
// one pool. An Engine holds the BlobClient, Balancer, ManifestStore,
// Redundancy, Throttler, PluginRegistry, dedup index, ChunkCache and
// Prefetcher it is built with, and splits files with the chunker
// package. ManifestCache is reached only through the ManifestStore;
// Verifier and Rebalancer are built beside the Engine, not held by it.
// WebDAV and REST frontends borrow, never own, an Engine (spec §3's
// ownership rule).
package pool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/balancer"
	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/chunkcache"
	"github.com/puffious/rclone-pool/pkg/chunker"
	"github.com/puffious/rclone-pool/pkg/dedup"
	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/plugin"
	"github.com/puffious/rclone-pool/pkg/prefetcher"
	"github.com/puffious/rclone-pool/pkg/redundancy"
	"github.com/puffious/rclone-pool/pkg/throttler"
)

// prefetchLookahead bounds how many chunks past the one just read are
// offered to the Prefetcher for read-ahead (spec §4.10).
const prefetchLookahead = 2

// Summary is the ls() row shape, per spec §4.12.
type Summary struct {
	Name       string
	Path       string
	Size       uint64
	ChunkCount uint32
	Remotes    []string
}

// Engine is PoolEngine (C12).
type Engine struct {
	client     blobclient.Client
	remotes    []string
	dataPrefix string
	chunkSize  uint64

	bal        *balancer.Balancer
	store      *manifest.Store
	redundancy *redundancy.Redundancy
	throttle   *throttler.Throttler
	hooks      *plugin.Registry
	dedup      *dedup.Index
	cache      *chunkcache.Cache
	prefetch   *prefetcher.Prefetcher

	compress bool
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder

	maxParallelWorkers int
	parallelUploads    bool

	// pathLocks serializes Upload, Delete and WebDAV MOVE (which locks
	// both its source and its destination) against a given file_path, per spec §9's open question on concurrent uploads of
	// the same path (see DESIGN.md): without it, two writers racing to
	// the same manifest can each see their own chunk set "win" while the
	// other's already-placed chunks are orphaned or half-referenced.
	pathLocks sync.Map // string -> *sync.Mutex

	log zerolog.Logger
}

// lockPath returns the mutex guarding remotePath, creating it on first
// use. The table is never pruned: entries are one *sync.Mutex each and
// the path space in practice is bounded by the number of files in the
// pool.
func (e *Engine) lockPath(remotePath string) *sync.Mutex {
	v, _ := e.pathLocks.LoadOrStore(remotePath, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// LockPath acquires the same per-path lock Upload/Delete use and returns
// the unlock func. Exposed for frontends (MOVE in particular) that
// mutate a manifest's file_path directly via Store rather than through
// Upload/Delete.
func (e *Engine) LockPath(remotePath string) func() {
	mu := e.lockPath(remotePath)
	mu.Lock()
	return mu.Unlock
}

// Deps bundles Engine's constructor dependencies.
type Deps struct {
	Client             blobclient.Client
	Remotes            []string
	DataPrefix         string
	ChunkSize          uint64
	Balancer           *balancer.Balancer
	Store              *manifest.Store
	Redundancy         *redundancy.Redundancy
	Throttler          *throttler.Throttler
	Hooks              *plugin.Registry
	Dedup              *dedup.Index
	Cache              *chunkcache.Cache
	Prefetcher         *prefetcher.Prefetcher
	Compress           bool
	MaxParallelWorkers int
	ParallelUploads    bool
	Log                zerolog.Logger
}

// New builds an Engine from its owned subcomponents. When d.Compress is
// set, every uploaded chunk is zstd-compressed before being placed and
// transparently decompressed on the way back out.
func New(d Deps) *Engine {
	if d.MaxParallelWorkers < 1 {
		d.MaxParallelWorkers = 1
	}
	e := &Engine{
		client:             d.Client,
		remotes:            d.Remotes,
		dataPrefix:         d.DataPrefix,
		chunkSize:          d.ChunkSize,
		bal:                d.Balancer,
		store:              d.Store,
		redundancy:         d.Redundancy,
		throttle:           d.Throttler,
		hooks:              d.Hooks,
		dedup:              d.Dedup,
		cache:              d.Cache,
		prefetch:           d.Prefetcher,
		compress:           d.Compress,
		maxParallelWorkers: d.MaxParallelWorkers,
		parallelUploads:    d.ParallelUploads,
		log:                d.Log,
	}
	if d.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic(fmt.Sprintf("pool: building zstd encoder: %v", err))
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("pool: building zstd decoder: %v", err))
		}
		e.zstdEnc = enc
		e.zstdDec = dec
	}
	return e
}

// Upload implements spec §4.12's upload(localPath, remotePath).
func (e *Engine) Upload(ctx context.Context, localPath, remotePath string) error {
	mu := e.lockPath(remotePath)
	mu.Lock()
	defer mu.Unlock()

	e.hooks.Invoke(plugin.PreUpload, plugin.Context{"local_path": localPath, "remote_path": remotePath})

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("pool: stat %s: %w", localPath, err)
	}
	fileSize := uint64(info.Size())
	remoteDir, fileName := manifest.SplitRemotePath(remotePath, path.Base(localPath))

	var chunks []manifest.Chunk
	if fileSize <= e.chunkSize {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return fmt.Errorf("pool: reading %s: %w", localPath, err)
		}
		c, err := e.uploadData(ctx, fileName, 0, 0, data)
		if err != nil {
			return err
		}
		chunks = append(chunks, c)
	} else {
		chunks, err = e.uploadChunks(ctx, localPath, fileName)
		if err != nil {
			return err
		}
	}

	m := e.store.Create(fileName, remoteDir, fileSize, e.chunkSize, chunks)

	if e.redundancy != nil {
		if err := e.redundancy.Materialize(ctx, m, e.remotes); err != nil {
			e.log.Warn().Str("file_path", m.FilePath).Err(err).Msg("redundancy materialization failed")
		}
	}

	if err := e.store.Save(ctx, m); err != nil {
		return fmt.Errorf("pool: saving manifest: %w", err)
	}

	e.hooks.Invoke(plugin.PostUpload, plugin.Context{"file_path": m.FilePath})
	return nil
}

// uploadChunks streams localPath through Chunker, placing each chunk via
// Balancer.next(), sequentially or up to maxParallelWorkers concurrently
// depending on ParallelUploads. On any chunk failure, the whole upload
// aborts — chunks already written are leaked unless the caller later
// runs orphan cleanup (documented in spec §4.12 step 3).
func (e *Engine) uploadChunks(ctx context.Context, localPath, fileName string) ([]manifest.Chunk, error) {
	if !e.parallelUploads {
		var chunks []manifest.Chunk
		err := chunker.Split(localPath, e.chunkSize, func(rec chunker.Record) error {
			c, err := e.uploadOneChunk(ctx, fileName, rec)
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
		return chunks, err
	}

	var records []chunker.Record
	if err := chunker.Split(localPath, e.chunkSize, func(rec chunker.Record) error {
		records = append(records, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	chunks := make([]manifest.Chunk, len(records))
	errs := make([]error, len(records))
	sem := make(chan struct{}, e.maxParallelWorkers)
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rec chunker.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			c, err := e.uploadOneChunk(ctx, fileName, rec)
			chunks[i] = c
			errs[i] = err
		}(i, rec)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func (e *Engine) uploadOneChunk(ctx context.Context, fileName string, rec chunker.Record) (manifest.Chunk, error) {
	e.hooks.Invoke(plugin.PreChunk, plugin.Context{"chunk_index": rec.Index})
	c, err := e.uploadData(ctx, fileName, rec.Index, rec.Offset, rec.Data)
	if err != nil {
		return manifest.Chunk{}, err
	}
	e.hooks.Invoke(plugin.PostChunk, plugin.Context{"chunk_index": rec.Index, "remote": c.Remote})
	return c, nil
}

// uploadData places one chunk's bytes, consulting the dedup index first
// so identical content already placed elsewhere in the pool is pointed
// at rather than re-uploaded.
func (e *Engine) uploadData(ctx context.Context, fileName string, index uint32, offset uint64, data []byte) (manifest.Chunk, error) {
	var hash string
	if e.dedup != nil {
		hash = dedup.Hash(data)
		if loc, ok := e.dedup.Lookup(hash); ok {
			return manifest.Chunk{Index: index, Remote: loc.Remote, Path: loc.Path, Size: uint64(len(data)), Offset: offset, Kind: manifest.KindData, Compressed: loc.Compressed}, nil
		}
	}

	payload := data
	if e.compress {
		payload = e.zstdEnc.EncodeAll(data, nil)
	}

	target := e.bal.Next()
	p := manifest.DataPrefixedPath(e.dataPrefix, fileName, index)
	if e.throttle != nil {
		if err := e.throttle.WaitUpload(ctx, len(payload)); err != nil {
			return manifest.Chunk{}, err
		}
	}
	if err := e.client.Upload(ctx, target, p, payload); err != nil {
		e.hooks.Invoke(plugin.RemoteError, plugin.Context{"remote": target, "err": err.Error()})
		e.bal.RecordFailure(target)
		return manifest.Chunk{}, fmt.Errorf("pool: uploading chunk %d: %w", index, err)
	}
	e.bal.RecordSuccess(target)
	e.bal.RecordUsage(target, int64(len(payload)))
	if e.dedup != nil {
		e.dedup.Remember(hash, dedup.Location{Remote: target, Path: p, Compressed: e.compress})
	}
	return manifest.Chunk{Index: index, Remote: target, Path: p, Size: uint64(len(data)), Offset: offset, Kind: manifest.KindData, Compressed: e.compress}, nil
}

// cacheKey identifies a chunk's on-remote location for ChunkCache/
// Prefetcher lookups, independent of which file's manifest references it
// (matters for replicas and dedup-shared chunks, which share a remote
// path across manifests). The key is the SHA-256 hex digest of
// remote NUL path, so it is always a valid single file name for the
// ChunkCache's "{key}.chunk" files.
func cacheKey(c manifest.Chunk) string {
	return dedup.Hash([]byte(c.Remote + "\x00" + c.Path))
}

// chunkBytes fetches (consulting ChunkCache first) and, if the chunk was
// stored compressed, decompresses one chunk's full data. The cache holds
// the stored bytes as they sit on the remote, i.e. still compressed if
// Compressed is set, so a cache hit still needs the same decompression
// step as a fresh download.
func (e *Engine) chunkBytes(ctx context.Context, c manifest.Chunk) ([]byte, error) {
	key := cacheKey(c)

	var data []byte
	var err error
	if e.cache != nil {
		if cached, hit := e.cache.Get(key); hit {
			data = cached
		}
	}
	if data == nil {
		data, err = e.client.Download(ctx, c.Remote, c.Path)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			if perr := e.cache.Put(key, data); perr != nil {
				e.log.Debug().Str("key", key).Err(perr).Msg("chunk cache put failed")
			}
		}
	}

	if c.Compressed {
		data, err = e.zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("pool: decompressing chunk %d: %w", c.Index, err)
		}
	}
	return data, nil
}

// rangeBytes resolves [offset,offset+length) within one chunk's logical
// bytes. A ChunkCache hit on an uncompressed chunk is sliced locally; an
// uncompressed miss falls through to the client's native range read, per
// spec §4.1's requirement to use true server-side ranges rather than
// always pulling a whole chunk just to serve a small request. A
// compressed chunk's stored bytes do not line up with logical offsets, so
// it is always fetched whole through chunkBytes, decompressed and sliced.
func (e *Engine) rangeBytes(ctx context.Context, c manifest.Chunk, offset, length uint64) ([]byte, error) {
	var full []byte
	if c.Compressed {
		data, err := e.chunkBytes(ctx, c)
		if err != nil {
			return nil, err
		}
		full = data
	} else if e.cache != nil {
		if cached, hit := e.cache.Get(cacheKey(c)); hit {
			full = cached
		}
	}
	if full == nil {
		return e.client.DownloadRange(ctx, c.Remote, c.Path, offset, length)
	}
	start := offset
	if start > uint64(len(full)) {
		start = uint64(len(full))
	}
	end := start + length
	if end > uint64(len(full)) {
		end = uint64(len(full))
	}
	return full[start:end], nil
}

// prefetchAhead offers the chunks just past chunks[idx] to the
// Prefetcher so sequential reads (Download, successive WebDAV Range
// requests) find them already warm in ChunkCache by the time they're
// needed (spec §4.10). A no-op when no Prefetcher is wired.
func (e *Engine) prefetchAhead(chunks []manifest.Chunk, idx int) {
	if e.prefetch == nil {
		return
	}
	items := make([]prefetcher.Item, 0, prefetchLookahead)
	for j := idx + 1; j < len(chunks) && j <= idx+prefetchLookahead; j++ {
		c := chunks[j]
		items = append(items, prefetcher.Item{Key: cacheKey(c), Remote: c.Remote, Path: c.Path})
	}
	if len(items) > 0 {
		e.prefetch.Request(items)
	}
}

// Download implements download(remotePath, localPath): chunks are
// fetched and appended to the output file in index order.
func (e *Engine) Download(ctx context.Context, remotePath, localPath string) error {
	e.hooks.Invoke(plugin.PreDownload, plugin.Context{"remote_path": remotePath})
	m, err := e.store.Load(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("pool: loading manifest for %s: %w", remotePath, err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("pool: creating %s: %w", localPath, err)
	}
	defer f.Close()

	chunks := append([]manifest.Chunk{}, m.Chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	for i, c := range chunks {
		data, err := e.chunkBytes(ctx, c)
		if err != nil {
			return fmt.Errorf("pool: downloading chunk %d: %w", c.Index, err)
		}
		e.prefetchAhead(chunks, i)
		if e.throttle != nil {
			if err := e.throttle.WaitDownload(ctx, len(data)); err != nil {
				return err
			}
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("pool: writing chunk %d: %w", c.Index, err)
		}
	}

	e.hooks.Invoke(plugin.PostDownload, plugin.Context{"remote_path": remotePath})
	return nil
}

// DownloadRange implements downloadRange(remotePath, offset, length),
// resolving only the chunks overlapping the requested byte range.
func (e *Engine) DownloadRange(ctx context.Context, remotePath string, offset, length uint64) ([]byte, error) {
	m, err := e.store.Load(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("pool: loading manifest for %s: %w", remotePath, err)
	}

	chunks := append([]manifest.Chunk{}, m.Chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	end := offset + length
	var buf bytes.Buffer
	lastMatched := -1
	for i, c := range chunks {
		chunkEnd := c.Offset + c.Size
		if chunkEnd <= offset || c.Offset >= end {
			continue
		}
		rangeStart := offset
		if c.Offset > rangeStart {
			rangeStart = c.Offset
		}
		rangeEnd := end
		if chunkEnd < rangeEnd {
			rangeEnd = chunkEnd
		}
		withinOffset := rangeStart - c.Offset
		withinLength := rangeEnd - rangeStart

		data, err := e.rangeBytes(ctx, c, withinOffset, withinLength)
		if err != nil {
			return nil, fmt.Errorf("pool: range-downloading chunk %d: %w", c.Index, err)
		}
		buf.Write(data)
		lastMatched = i
	}
	if lastMatched >= 0 {
		e.prefetchAhead(chunks, lastMatched)
	}
	return buf.Bytes(), nil
}

// Delete implements delete(remotePath): every chunk, every replica, and
// the manifest on every remote, then a cache eviction.
func (e *Engine) Delete(ctx context.Context, remotePath string) error {
	mu := e.lockPath(remotePath)
	mu.Lock()
	defer mu.Unlock()

	e.hooks.Invoke(plugin.PreDelete, plugin.Context{"remote_path": remotePath})
	m, err := e.store.Load(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("pool: loading manifest for %s: %w", remotePath, err)
	}

	deleteAll := func(chunks []manifest.Chunk) {
		for _, c := range chunks {
			if err := e.client.Delete(ctx, c.Remote, c.Path); err != nil {
				e.log.Warn().Str("remote", c.Remote).Str("path", c.Path).Err(err).Msg("delete: chunk delete failed")
			}
			for _, rep := range c.Replicas {
				if err := e.client.Delete(ctx, rep.Remote, rep.Path); err != nil {
					e.log.Warn().Str("remote", rep.Remote).Str("path", rep.Path).Err(err).Msg("delete: replica delete failed")
				}
			}
		}
	}
	deleteAll(m.Chunks)
	deleteAll(m.ParityChunks)

	if err := e.store.Delete(ctx, remotePath); err != nil {
		return fmt.Errorf("pool: deleting manifest: %w", err)
	}
	e.hooks.Invoke(plugin.PostDelete, plugin.Context{"remote_path": remotePath})
	return nil
}

// Ls implements ls(dir).
func (e *Engine) Ls(ctx context.Context, dir string) ([]Summary, error) {
	manifests, err := e.store.List(ctx, dir, false)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(manifests))
	for _, m := range manifests {
		remoteSet := map[string]bool{}
		for _, c := range m.Chunks {
			remoteSet[c.Remote] = true
		}
		remotes := make([]string, 0, len(remoteSet))
		for r := range remoteSet {
			remotes = append(remotes, r)
		}
		sort.Strings(remotes)
		out = append(out, Summary{
			Name:       m.FileName,
			Path:       m.FilePath,
			Size:       m.FileSize,
			ChunkCount: m.ChunkCount,
			Remotes:    remotes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Store exposes the owned ManifestStore for components (WebDAV MOVE,
// REST handlers) that must read or mutate a manifest directly.
func (e *Engine) Store() *manifest.Store { return e.store }

// Balancer exposes the owned Balancer for REST's /remotes endpoint.
func (e *Engine) Balancer() *balancer.Balancer { return e.bal }
