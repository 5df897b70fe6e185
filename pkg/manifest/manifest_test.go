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

package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/manifest"
)

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/", manifest.NormalizePath(""))
	require.Equal(t, "/", manifest.NormalizePath("/"))
	require.Equal(t, "/docs", manifest.NormalizePath("docs"))
	require.Equal(t, "/docs", manifest.NormalizePath("/docs/"))
}

func TestSplitRemotePath(t *testing.T) {
	dir, name := manifest.SplitRemotePath("/docs/", "local.bin")
	require.Equal(t, "/docs", dir)
	require.Equal(t, "local.bin", name)

	dir, name = manifest.SplitRemotePath("/docs/renamed.bin", "local.bin")
	require.Equal(t, "/docs", dir)
	require.Equal(t, "renamed.bin", name)

	dir, name = manifest.SplitRemotePath("", "local.bin")
	require.Equal(t, "/", dir)
	require.Equal(t, "local.bin", name)
}

func TestJoinFilePath(t *testing.T) {
	require.Equal(t, "/a.bin", manifest.JoinFilePath("/", "a.bin"))
	require.Equal(t, "/docs/a.bin", manifest.JoinFilePath("/docs", "a.bin"))
}

func TestDataPrefixedPathPadsIndex(t *testing.T) {
	require.Equal(t, "chunks/file.bin.chunk.007", manifest.DataPrefixedPath("chunks", "file.bin", 7))
}

func TestParityPrefixedPathPadsIndex(t *testing.T) {
	require.Equal(t, "parity/file.bin.parity.001", manifest.ParityPrefixedPath("parity", "file.bin", 1))
}

func TestManifestRecordPathMangling(t *testing.T) {
	require.Equal(t, "manifests/docs_a.bin.manifest.json", manifest.ManifestRecordPath("manifests", "/docs/a.bin"))
	require.Equal(t, "manifests/root.manifest.json", manifest.ManifestRecordPath("manifests", "/"))
}
