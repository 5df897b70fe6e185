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

// Package config decodes the pool's typed configuration from a file,
// environment variables, and defaults, with file/env/default precedence
// handled by viper and struct decoding handled by mapstructure — the
// same two-step "raw map then mapstructure.Decode" pattern the teacher
// repository uses for its pluggable cache drivers.
package config

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/puffious/rclone-pool/pkg/errtypes"
)

// BalancingStrategy names one of the C6 selection strategies.
type BalancingStrategy string

const (
	StrategyLeastUsed          BalancingStrategy = "least_used"
	StrategyRoundRobin         BalancingStrategy = "round_robin"
	StrategyWeighted           BalancingStrategy = "weighted"
	StrategyRandom             BalancingStrategy = "random"
	StrategyRoundRobinLeastUsed BalancingStrategy = "round_robin_least_used"
)

// RedundancyMode names one of the C8 redundancy modes.
type RedundancyMode string

const (
	RedundancyNone        RedundancyMode = "none"
	RedundancyReplication RedundancyMode = "replication"
	RedundancyParity      RedundancyMode = "parity"
	RedundancyHybrid      RedundancyMode = "hybrid"
)

// AuthMethod names the WebDAV/REST authentication contract in effect.
type AuthMethod string

const (
	AuthNone   AuthMethod = "none"
	AuthBasic  AuthMethod = "basic"
	AuthAPIKey AuthMethod = "api_key"
	AuthBearer AuthMethod = "bearer"
)

// Config is the full set of tunables from spec §6, decoded once at
// startup. Every field has a default applied by Default() so a zero
// Config is never handed to the engine.
type Config struct {
	Remotes []string `mapstructure:"remotes"`

	ChunkSize uint64 `mapstructure:"chunk_size"`

	DataPrefix     string `mapstructure:"data_prefix"`
	ManifestPrefix string `mapstructure:"manifest_prefix"`
	ParityPrefix   string `mapstructure:"parity_prefix"`
	TempDir        string `mapstructure:"temp_dir"`

	ParallelUploads    bool `mapstructure:"parallel_uploads"`
	ParallelDownloads  bool `mapstructure:"parallel_downloads"`
	MaxParallelWorkers int  `mapstructure:"max_parallel_workers"`

	BalancingStrategy  BalancingStrategy `mapstructure:"balancing_strategy"`
	RemoteWeights      map[string]float64 `mapstructure:"remote_weights"`
	RemotePriorities   map[string]int     `mapstructure:"remote_priorities"`

	RedundancyMode     RedundancyMode `mapstructure:"redundancy_mode"`
	ReplicationFactor  int            `mapstructure:"replication_factor"`
	ParityDataShards   int            `mapstructure:"parity_data_shards"`
	ParityShards       int            `mapstructure:"parity_shards"`

	RebalanceThreshold float64 `mapstructure:"rebalance_threshold"`

	EnableCompression bool `mapstructure:"enable_compression"`

	BandwidthLimitUploadMbps   float64 `mapstructure:"bandwidth_limit_upload_mbps"`
	BandwidthLimitDownloadMbps float64 `mapstructure:"bandwidth_limit_download_mbps"`

	WebDAVHost string `mapstructure:"webdav_host"`
	WebDAVPort int    `mapstructure:"webdav_port"`

	APIServerHost string `mapstructure:"api_server_host"`
	APIServerPort int    `mapstructure:"api_server_port"`

	WebDAVAuthMethod AuthMethod        `mapstructure:"webdav_auth_method"`
	Users            map[string]string `mapstructure:"users"`    // user -> sha256(password) hex
	APIKeys          map[string]string `mapstructure:"api_keys"` // key -> user
	JWTSecret        string            `mapstructure:"jwt_secret"`

	CacheDir         string `mapstructure:"cache_dir"`
	ChunkCacheBytes   uint64 `mapstructure:"chunk_cache_bytes"`

	// LocalStoreDir roots the built-in filesystem-backed blobclient.Client
	// (pkg/blobclient/fsclient), one subdirectory per remote. It has no
	// effect on a caller-supplied rclone-backed Client.
	LocalStoreDir string `mapstructure:"local_store_dir"`

	LogMode  string `mapstructure:"log_mode"`
	LogLevel string `mapstructure:"log_level"`

	AppName string `mapstructure:"app_name"`
}

// Default returns a Config with every documented default from spec §6
// applied.
func Default() *Config {
	return &Config{
		Remotes:            nil,
		ChunkSize:           100 * 1024 * 1024,
		DataPrefix:          "rclonepool_data",
		ManifestPrefix:      "rclonepool_manifests",
		ParityPrefix:        "rclonepool_parity",
		TempDir:             "/dev/shm/rclonepool",
		ParallelUploads:     false,
		ParallelDownloads:   false,
		MaxParallelWorkers:  4,
		BalancingStrategy:   StrategyLeastUsed,
		RemoteWeights:       map[string]float64{},
		RemotePriorities:    map[string]int{},
		RedundancyMode:      RedundancyNone,
		ReplicationFactor:   1,
		ParityDataShards:    3,
		ParityShards:        1,
		RebalanceThreshold:  10.0,
		EnableCompression:   false,
		WebDAVHost:          "0.0.0.0",
		WebDAVPort:          8080,
		APIServerHost:       "0.0.0.0",
		APIServerPort:       8081,
		WebDAVAuthMethod:    AuthNone,
		Users:               map[string]string{},
		APIKeys:             map[string]string{},
		CacheDir:            "~/.cache/rclonepool",
		LocalStoreDir:       "~/.local/share/rclonepool/store",
		ChunkCacheBytes:     1 * 1024 * 1024 * 1024,
		LogMode:             "dev",
		LogLevel:            "info",
		AppName:             "rclonepool",
	}
}

// Load reads configuration from environment variables prefixed
// RCLONEPOOL_, the given file path (if non-empty), and finally defaults,
// in that descending precedence order — viper's standard precedence,
// matching the original project's documented env > file > defaults
// resolution.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RCLONEPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	raw := map[string]interface{}{}
	if err := mapstructure.Decode(cfg, &raw); err != nil {
		return nil, errors.Wrap(err, "config: seeding viper defaults")
	}
	for k, val := range raw {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "config: reading config file")
		}
	}

	out := &Config{}
	if err := v.Unmarshal(out, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, errors.Wrap(err, "config: decoding")
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate fails fast on internally inconsistent configuration (spec §7
// "Policy" error kind).
func (c *Config) Validate() error {
	if len(c.Remotes) == 0 {
		return errtypes.Policy("at least one remote must be configured")
	}
	if c.ChunkSize == 0 {
		return errtypes.Policy("chunk_size must be > 0")
	}
	switch c.RedundancyMode {
	case RedundancyNone, RedundancyReplication, RedundancyParity, RedundancyHybrid:
	default:
		return errtypes.Policy("unknown redundancy_mode: " + string(c.RedundancyMode))
	}
	if c.RedundancyMode == RedundancyReplication || c.RedundancyMode == RedundancyHybrid {
		if c.ReplicationFactor < 1 || c.ReplicationFactor > len(c.Remotes) {
			return errtypes.Policy("replication_factor must be between 1 and len(remotes)")
		}
	}
	if c.RedundancyMode == RedundancyParity || c.RedundancyMode == RedundancyHybrid {
		if c.ParityDataShards < 1 || c.ParityShards < 1 {
			return errtypes.Policy("parity_data_shards and parity_shards must be > 0")
		}
		if c.ParityDataShards+c.ParityShards > len(c.Remotes) {
			return errtypes.Policy("parity_data_shards + parity_shards must be <= len(remotes)")
		}
	}
	switch c.WebDAVAuthMethod {
	case AuthNone, AuthBasic, AuthAPIKey, AuthBearer:
	default:
		return errtypes.Policy("unknown webdav_auth_method: " + string(c.WebDAVAuthMethod))
	}
	return nil
}
