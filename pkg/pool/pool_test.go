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

package pool_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/balancer"
	"github.com/puffious/rclone-pool/pkg/blobclient/blobclienttest"
	"github.com/puffious/rclone-pool/pkg/chunkcache"
	"github.com/puffious/rclone-pool/pkg/dedup"
	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/plugin"
	"github.com/puffious/rclone-pool/pkg/pool"
)

func newEngine(t *testing.T, chunkSize uint64) (*pool.Engine, *blobclienttest.Memory) {
	t.Helper()
	remotes := []string{"A", "B"}
	mem := blobclienttest.NewMemory(remotes, 0)
	bal := balancer.New(mem, remotes, balancer.LeastUsed, zerolog.Nop())
	store := manifest.NewStore(mem, remotes, "manifests", nil, zerolog.Nop())
	hooks := plugin.New(zerolog.Nop())

	e := pool.New(pool.Deps{
		Client:             mem,
		Remotes:            remotes,
		DataPrefix:         "chunks",
		ChunkSize:          chunkSize,
		Balancer:           bal,
		Store:              store,
		Hooks:              hooks,
		MaxParallelWorkers: 2,
		Log:                zerolog.Nop(),
	})
	return e, mem
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, 4)

	dir := t.TempDir()
	src := filepath.Join(dir, "source.bin")
	content := []byte("abcdefghij") // 10 bytes, chunk size 4 -> 3 chunks
	require.NoError(t, os.WriteFile(src, content, 0o644))

	require.NoError(t, e.Upload(ctx, src, "/docs/source.bin"))

	out := filepath.Join(dir, "out.bin")
	require.NoError(t, e.Download(ctx, "/docs/source.bin", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestUploadSingleChunkFastPath(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, 1024)

	dir := t.TempDir()
	src := filepath.Join(dir, "small.bin")
	require.NoError(t, os.WriteFile(src, []byte("small"), 0o644))

	require.NoError(t, e.Upload(ctx, src, "/small.bin"))

	summaries, err := e.Ls(ctx, "/")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.EqualValues(t, 1, summaries[0].ChunkCount)
}

func TestDownloadRangePartial(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, 4)

	dir := t.TempDir()
	src := filepath.Join(dir, "range.bin")
	content := []byte("abcdefghij")
	require.NoError(t, os.WriteFile(src, content, 0o644))
	require.NoError(t, e.Upload(ctx, src, "/range.bin"))

	got, err := e.DownloadRange(ctx, "/range.bin", 2, 5)
	require.NoError(t, err)
	require.Equal(t, content[2:7], got)
}

func TestDeleteRemovesChunksAndManifest(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t, 4)

	dir := t.TempDir()
	src := filepath.Join(dir, "d.bin")
	require.NoError(t, os.WriteFile(src, []byte("abcdefgh"), 0o644))
	require.NoError(t, e.Upload(ctx, src, "/d.bin"))

	require.NoError(t, e.Delete(ctx, "/d.bin"))

	_, err := e.Store().Load(ctx, "/d.bin")
	require.Error(t, err)

	summaries, err := e.Ls(ctx, "/")
	require.NoError(t, err)
	require.Empty(t, summaries)

	_ = mem
}

func TestUploadSkipsIdenticalContentViaDedup(t *testing.T) {
	ctx := context.Background()
	remotes := []string{"A", "B"}
	mem := blobclienttest.NewMemory(remotes, 0)
	bal := balancer.New(mem, remotes, balancer.LeastUsed, zerolog.Nop())
	store := manifest.NewStore(mem, remotes, "manifests", nil, zerolog.Nop())
	hooks := plugin.New(zerolog.Nop())

	e := pool.New(pool.Deps{
		Client: mem, Remotes: remotes, DataPrefix: "chunks", ChunkSize: 1024,
		Balancer: bal, Store: store, Hooks: hooks, Dedup: dedup.New(16),
		MaxParallelWorkers: 1, Log: zerolog.Nop(),
	})

	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.bin")
	srcB := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(srcA, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("same bytes"), 0o644))

	require.NoError(t, e.Upload(ctx, srcA, "/a.bin"))
	afterFirst := mem.UploadCount()
	require.NoError(t, e.Upload(ctx, srcB, "/b.bin"))
	afterSecond := mem.UploadCount()

	require.Equal(t, afterFirst+len(remotes), afterSecond, "second upload of identical content should write only its manifest (one copy per remote), not the chunk again")

	ma, err := e.Store().Load(ctx, "/a.bin")
	require.NoError(t, err)
	mb, err := e.Store().Load(ctx, "/b.bin")
	require.NoError(t, err)
	require.Equal(t, ma.Chunks[0].Remote, mb.Chunks[0].Remote)
	require.Equal(t, ma.Chunks[0].Path, mb.Chunks[0].Path)
}

func TestDownloadServesRepeatReadsFromChunkCache(t *testing.T) {
	ctx := context.Background()
	remotes := []string{"A", "B"}
	mem := blobclienttest.NewMemory(remotes, 0)
	bal := balancer.New(mem, remotes, balancer.LeastUsed, zerolog.Nop())
	store := manifest.NewStore(mem, remotes, "manifests", nil, zerolog.Nop())
	hooks := plugin.New(zerolog.Nop())
	cache, err := chunkcache.Open(t.TempDir(), 1<<20, zerolog.Nop())
	require.NoError(t, err)

	e := pool.New(pool.Deps{
		Client: mem, Remotes: remotes, DataPrefix: "chunks", ChunkSize: 4,
		Balancer: bal, Store: store, Hooks: hooks, Cache: cache,
		MaxParallelWorkers: 2, Log: zerolog.Nop(),
	})

	dir := t.TempDir()
	src := filepath.Join(dir, "cached.bin")
	content := []byte("abcdefghij")
	require.NoError(t, os.WriteFile(src, content, 0o644))
	require.NoError(t, e.Upload(ctx, src, "/cached.bin"))

	out := filepath.Join(dir, "out1.bin")
	require.NoError(t, e.Download(ctx, "/cached.bin", out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, content, got)

	afterFirst := mem.DownloadCount()
	require.Greater(t, afterFirst, 0)

	out2 := filepath.Join(dir, "out2.bin")
	require.NoError(t, e.Download(ctx, "/cached.bin", out2))
	got2, err := os.ReadFile(out2)
	require.NoError(t, err)
	require.Equal(t, content, got2)

	require.Equal(t, afterFirst, mem.DownloadCount(), "second read of a fully cached file should not hit the backend")

	rangeGot, err := e.DownloadRange(ctx, "/cached.bin", 2, 5)
	require.NoError(t, err)
	require.Equal(t, content[2:7], rangeGot)
	require.Equal(t, afterFirst, mem.DownloadCount(), "ranged read within a cached chunk should not hit the backend")
}
