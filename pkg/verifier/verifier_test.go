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

package verifier_test

import (
	"context"
	"os"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/blobclient/blobclienttest"
	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/verifier"
)

func setup(t *testing.T) (context.Context, *blobclienttest.Memory, *manifest.Store, *manifest.Manifest) {
	t.Helper()
	ctx := context.Background()
	remotes := []string{"A", "B"}
	mem := blobclienttest.NewMemory(remotes, 0)
	store := manifest.NewStore(mem, remotes, "manifests", nil, zerolog.Nop())

	chunks := []manifest.Chunk{
		{Index: 0, Remote: "A", Path: "chunks/f.bin.chunk.000", Size: 4, Kind: manifest.KindData},
		{Index: 1, Remote: "B", Path: "chunks/f.bin.chunk.001", Size: 4, Offset: 4, Kind: manifest.KindData},
	}
	require.NoError(t, mem.Upload(ctx, "A", chunks[0].Path, []byte("abcd")))
	require.NoError(t, mem.Upload(ctx, "B", chunks[1].Path, []byte("efgh")))

	m := store.Create("f.bin", "/", 8, 4, chunks)
	require.NoError(t, store.Save(ctx, m))
	return ctx, mem, store, m
}

func TestVerifyOK(t *testing.T) {
	ctx, mem, store, m := setup(t)
	v := verifier.New(mem, store, "chunks", zerolog.Nop())

	res, err := v.Verify(ctx, m.FilePath, false)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, 2, res.Verified)
	require.Empty(t, res.MissingChunks)
}

func TestVerifyDetectsMissing(t *testing.T) {
	ctx, mem, store, m := setup(t)
	v := verifier.New(mem, store, "chunks", zerolog.Nop())

	require.NoError(t, mem.Delete(ctx, "B", "chunks/f.bin.chunk.001"))

	res, err := v.Verify(ctx, m.FilePath, false)
	require.NoError(t, err)
	require.Equal(t, "degraded", res.Status)
	require.Equal(t, []uint32{1}, res.MissingChunks)
}

func TestRepairFromLocalSource(t *testing.T) {
	ctx, mem, store, m := setup(t)
	v := verifier.New(mem, store, "chunks", zerolog.Nop())
	require.NoError(t, mem.Delete(ctx, "B", "chunks/f.bin.chunk.001"))

	tmp, err := os.CreateTemp(t.TempDir(), "source")
	require.NoError(t, err)
	_, err = tmp.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	res, err := v.Repair(ctx, m.FilePath, tmp.Name())
	require.NoError(t, err)
	require.Equal(t, "ok", res.Status)

	data, err := mem.Download(ctx, "B", "chunks/f.bin.chunk.001")
	require.NoError(t, err)
	require.Equal(t, []byte("efgh"), data)
}

// TestVerifyOKWithCompressedChunks guards against the full-verify size
// check comparing stored (compressed) bytes against the uncompressed
// Chunk.Size, which would falsely report every healthy compressed
// chunk as missing.
func TestVerifyOKWithCompressedChunks(t *testing.T) {
	ctx := context.Background()
	remotes := []string{"A", "B"}
	mem := blobclienttest.NewMemory(remotes, 0)
	store := manifest.NewStore(mem, remotes, "manifests", nil, zerolog.Nop())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	plainA := []byte("abcd")
	plainB := []byte("efgh")
	compA := enc.EncodeAll(plainA, nil)
	compB := enc.EncodeAll(plainB, nil)

	chunks := []manifest.Chunk{
		{Index: 0, Remote: "A", Path: "chunks/c.bin.chunk.000", Size: uint64(len(plainA)), Kind: manifest.KindData, Compressed: true},
		{Index: 1, Remote: "B", Path: "chunks/c.bin.chunk.001", Size: uint64(len(plainB)), Offset: uint64(len(plainA)), Kind: manifest.KindData, Compressed: true},
	}
	require.NoError(t, mem.Upload(ctx, "A", chunks[0].Path, compA))
	require.NoError(t, mem.Upload(ctx, "B", chunks[1].Path, compB))

	m := store.Create("c.bin", "/", uint64(len(plainA)+len(plainB)), 4, chunks)
	require.NoError(t, store.Save(ctx, m))

	v := verifier.New(mem, store, "chunks", zerolog.Nop())
	res, err := v.Verify(ctx, m.FilePath, false)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, 2, res.Verified)
	require.Empty(t, res.MissingChunks)
}

func TestFindOrphans(t *testing.T) {
	ctx, mem, store, _ := setup(t)
	v := verifier.New(mem, store, "chunks", zerolog.Nop())

	require.NoError(t, mem.Upload(ctx, "A", "chunks/stray.chunk.000", []byte("zzzz")))

	orphans, err := v.FindOrphans(ctx, []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, "A", orphans[0].Remote)
	require.Equal(t, "chunks/stray.chunk.000", orphans[0].Path)

	n, err := v.DeleteOrphans(ctx, orphans, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ok, _ := mem.Exists(ctx, "A", "chunks/stray.chunk.000")
	require.False(t, ok)
}
