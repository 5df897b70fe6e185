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

package manifestcache_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/manifestcache"
)

func TestPutGetDelete(t *testing.T) {
	c, err := manifestcache.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	m := &manifest.Manifest{FileName: "a.bin", FilePath: "/a.bin"}
	c.Put(m)

	got, ok := c.Get("/a.bin")
	require.True(t, ok)
	require.Equal(t, "a.bin", got.FileName)

	c.Delete("/a.bin")
	_, ok = c.Get("/a.bin")
	require.False(t, ok)
}

func TestFlushPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	c, err := manifestcache.Open(dir, zerolog.Nop())
	require.NoError(t, err)

	c.Put(&manifest.Manifest{FileName: "a.bin", FilePath: "/a.bin"})
	require.NoError(t, c.Close())

	reopened, err := manifestcache.Open(dir, zerolog.Nop())
	require.NoError(t, err)
	got, ok := reopened.Get("/a.bin")
	require.True(t, ok)
	require.Equal(t, "a.bin", got.FileName)
}

func TestFlushIsNoopWhenNotDirty(t *testing.T) {
	c, err := manifestcache.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.False(t, c.Stats().Dirty)
	require.NoError(t, c.Flush())
}

func TestListByDirectoryRecursive(t *testing.T) {
	c, err := manifestcache.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	c.Put(&manifest.Manifest{FileName: "a.bin", FilePath: "/docs/a.bin", RemoteDir: "/docs"})
	c.Put(&manifest.Manifest{FileName: "b.bin", FilePath: "/docs/sub/b.bin", RemoteDir: "/docs/sub"})
	c.Put(&manifest.Manifest{FileName: "c.bin", FilePath: "/media/c.bin", RemoteDir: "/media"})

	docs := c.ListByDirectory("/docs", true)
	require.Len(t, docs, 2)

	exact := c.ListByDirectory("/docs", false)
	require.Len(t, exact, 1)
}

func TestClearEmptiesCache(t *testing.T) {
	c, err := manifestcache.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	c.Put(&manifest.Manifest{FileName: "a.bin", FilePath: "/a.bin"})
	c.Clear()
	require.Equal(t, 0, c.Stats().Entries)
}
