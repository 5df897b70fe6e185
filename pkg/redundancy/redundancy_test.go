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

package redundancy_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/balancer"
	"github.com/puffious/rclone-pool/pkg/blobclient/blobclienttest"
	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/redundancy"
)

func buildManifest(ctx context.Context, t *testing.T, mem *blobclienttest.Memory, remotes []string) *manifest.Manifest {
	t.Helper()
	m := &manifest.Manifest{FileName: "f.bin", RemoteDir: "/", FilePath: "/f.bin", FileSize: 30, ChunkSize: 10, ChunkCount: 3}
	for i := 0; i < 3; i++ {
		data := []byte{byte(i), byte(i + 1), byte(i + 2)}
		remote := remotes[i%len(remotes)]
		path := manifest.DataPrefixedPath("chunks", "f.bin", uint32(i))
		require.NoError(t, mem.Upload(ctx, remote, path, data))
		m.Chunks = append(m.Chunks, manifest.Chunk{Index: uint32(i), Remote: remote, Path: path, Size: uint64(len(data)), Kind: manifest.KindData})
	}
	return m
}

func TestReplicateWritesExtraCopies(t *testing.T) {
	ctx := context.Background()
	remotes := []string{"A", "B", "C"}
	mem := blobclienttest.NewMemory(remotes, 1024*1024)
	m := buildManifest(ctx, t, mem, remotes)

	bal := balancer.New(mem, remotes, balancer.LeastUsed, zerolog.Nop())
	red := redundancy.New(mem, bal, redundancy.Config{Mode: redundancy.Replication, ReplicationFactor: 2}, zerolog.Nop())
	require.NoError(t, red.Materialize(ctx, m, remotes))

	for _, c := range m.Chunks {
		require.Len(t, c.Replicas, 1)
		require.NotEqual(t, c.Remote, c.Replicas[0].Remote)
	}
}

func TestCheckHealthReplicationRecoversFromMissingPrimary(t *testing.T) {
	ctx := context.Background()
	remotes := []string{"A", "B", "C"}
	mem := blobclienttest.NewMemory(remotes, 1024*1024)
	m := buildManifest(ctx, t, mem, remotes)

	bal := balancer.New(mem, remotes, balancer.LeastUsed, zerolog.Nop())
	red := redundancy.New(mem, bal, redundancy.Config{Mode: redundancy.Replication, ReplicationFactor: 2}, zerolog.Nop())
	require.NoError(t, red.Materialize(ctx, m, remotes))

	require.NoError(t, mem.Delete(ctx, m.Chunks[0].Remote, m.Chunks[0].Path))

	hs := red.CheckHealth(ctx, m)
	require.Equal(t, 1, hs.Degraded)
	require.Equal(t, 0, hs.Missing)
	require.True(t, hs.IsRecoverable)

	hs2, err := red.Rebuild(ctx, m)
	require.NoError(t, err)
	require.Equal(t, 0, hs2.Missing)
}

func TestParityRebuildsSingleShardLoss(t *testing.T) {
	ctx := context.Background()
	remotes := []string{"A", "B", "C", "D"}
	mem := blobclienttest.NewMemory(remotes, 1024*1024)
	m := buildManifest(ctx, t, mem, remotes)

	bal := balancer.New(mem, remotes, balancer.RoundRobin, zerolog.Nop())
	bal.Refresh(ctx)
	red := redundancy.New(mem, bal, redundancy.Config{Mode: redundancy.Parity, ParityDataShards: 3, ParityShards: 1, ParityPrefix: "parity"}, zerolog.Nop())
	require.NoError(t, red.Materialize(ctx, m, remotes))
	require.Len(t, m.ParityChunks, 1)

	lost := m.Chunks[1]
	require.NoError(t, mem.Delete(ctx, lost.Remote, lost.Path))

	hs := red.CheckHealth(ctx, m)
	require.Equal(t, 1, hs.Missing)
	require.True(t, hs.IsRecoverable)

	hs2, err := red.Rebuild(ctx, m)
	require.NoError(t, err)
	require.Equal(t, 0, hs2.Missing)

	restored, err := mem.Download(ctx, lost.Remote, lost.Path)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, restored)
}
