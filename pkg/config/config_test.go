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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/config"
	"github.com/puffious/rclone-pool/pkg/errtypes"
)

func TestDefaultPassesValidateOnceRemotesSet(t *testing.T) {
	cfg := config.Default()
	cfg.Remotes = []string{"A", "B"}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNoRemotes(t *testing.T) {
	cfg := config.Default()
	err := cfg.Validate()
	var isPolicy errtypes.IsPolicy
	require.ErrorAs(t, err, &isPolicy)
}

func TestValidateRejectsReplicationFactorTooHigh(t *testing.T) {
	cfg := config.Default()
	cfg.Remotes = []string{"A", "B"}
	cfg.RedundancyMode = config.RedundancyReplication
	cfg.ReplicationFactor = 3
	err := cfg.Validate()
	var isPolicy errtypes.IsPolicy
	require.ErrorAs(t, err, &isPolicy)
}

func TestValidateRejectsParityShardsExceedingRemotes(t *testing.T) {
	cfg := config.Default()
	cfg.Remotes = []string{"A", "B"}
	cfg.RedundancyMode = config.RedundancyParity
	cfg.ParityDataShards = 3
	cfg.ParityShards = 2
	err := cfg.Validate()
	var isPolicy errtypes.IsPolicy
	require.ErrorAs(t, err, &isPolicy)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remotes:\n  - A\n  - B\nchunk_size: 4096\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, cfg.Remotes)
	require.EqualValues(t, 4096, cfg.ChunkSize)
	require.Equal(t, config.StrategyLeastUsed, cfg.BalancingStrategy) // default carried through
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remotes:\n  - A\nchunk_size: 4096\n"), 0o644))

	t.Setenv("RCLONEPOOL_CHUNK_SIZE", "8192")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 8192, cfg.ChunkSize)
}
