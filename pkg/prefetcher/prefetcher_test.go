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

package prefetcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/blobclient/blobclienttest"
	"github.com/puffious/rclone-pool/pkg/chunkcache"
	"github.com/puffious/rclone-pool/pkg/prefetcher"
)

func TestRequestPopulatesCache(t *testing.T) {
	ctx := context.Background()
	mem := blobclienttest.NewMemory([]string{"A"}, 0)
	require.NoError(t, mem.Upload(ctx, "A", "chunks/f.chunk.000", []byte("hello")))

	cache, err := chunkcache.Open(t.TempDir(), 1024*1024, zerolog.Nop())
	require.NoError(t, err)

	p := prefetcher.New(mem, cache, 4, zerolog.Nop())
	defer p.Stop()

	p.Request([]prefetcher.Item{{Key: "k1", Remote: "A", Path: "chunks/f.chunk.000"}})

	require.Eventually(t, func() bool {
		_, hit := cache.Get("k1")
		return hit
	}, time.Second, 5*time.Millisecond)
}

func TestRequestDropsOnFullQueue(t *testing.T) {
	mem := blobclienttest.NewMemory([]string{"A"}, 0)
	cache, err := chunkcache.Open(t.TempDir(), 1024, zerolog.Nop())
	require.NoError(t, err)

	p := prefetcher.New(mem, cache, 0, zerolog.Nop())
	defer p.Stop()

	require.NotPanics(t, func() {
		p.Request([]prefetcher.Item{{Key: "k1", Remote: "A", Path: "missing"}})
	})
}
