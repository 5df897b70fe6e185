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

package fsclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/blobclient/fsclient"
	"github.com/puffious/rclone-pool/pkg/errtypes"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := fsclient.New(t.TempDir(), []string{"A"})
	require.NoError(t, err)

	require.NoError(t, c.Upload(ctx, "A", "chunks/a.bin.chunk.000", []byte("hello")))
	data, err := c.Download(ctx, "A", "chunks/a.bin.chunk.000")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestDownloadMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	c, err := fsclient.New(t.TempDir(), []string{"A"})
	require.NoError(t, err)

	_, err = c.Download(ctx, "A", "missing")
	var isNotFound errtypes.IsNotFound
	require.ErrorAs(t, err, &isNotFound)
}

func TestDownloadRangeClampsToFileSize(t *testing.T) {
	ctx := context.Background()
	c, err := fsclient.New(t.TempDir(), []string{"A"})
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx, "A", "f", []byte("0123456789")))

	data, err := c.DownloadRange(ctx, "A", "f", 5, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("56789"), data)
}

func TestDeleteThenExists(t *testing.T) {
	ctx := context.Background()
	c, err := fsclient.New(t.TempDir(), []string{"A"})
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx, "A", "f", []byte("x")))

	ok, err := c.Exists(ctx, "A", "f")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Delete(ctx, "A", "f"))
	ok, err = c.Exists(ctx, "A", "f")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListReturnsFileNamesUnderPrefix(t *testing.T) {
	ctx := context.Background()
	c, err := fsclient.New(t.TempDir(), []string{"A"})
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx, "A", "manifests/a.manifest.json", []byte("{}")))
	require.NoError(t, c.Upload(ctx, "A", "manifests/b.manifest.json", []byte("{}")))

	names, err := c.List(ctx, "A", "manifests")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.manifest.json", "b.manifest.json"}, names)
}

func TestListOnMissingPrefixReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	c, err := fsclient.New(t.TempDir(), []string{"A"})
	require.NoError(t, err)

	names, err := c.List(ctx, "A", "nope")
	require.NoError(t, err)
	require.Empty(t, names)
}
