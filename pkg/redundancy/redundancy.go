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

// Package redundancy implements replication and parity over a file's
// data chunks (C8).
package redundancy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/balancer"
	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/manifest"
)

// Mode names one of the redundancy modes (spec §4.8).
type Mode string

const (
	None        Mode = "none"
	Replication Mode = "replication"
	Parity      Mode = "parity"
	Hybrid      Mode = "hybrid"
)

// Config holds the tunables for a Redundancy instance.
type Config struct {
	Mode              Mode
	ReplicationFactor int
	ParityDataShards  int
	ParityShards      int
	ParityPrefix      string
}

// Redundancy materializes replicas/parity after the data chunks of a
// file have been uploaded, checks health, and rebuilds missing shards.
type Redundancy struct {
	client   blobclient.Client
	balancer *balancer.Balancer
	cfg      Config
	log      zerolog.Logger
}

// New builds a Redundancy layer. Under parity or hybrid mode it logs a
// warning that the XOR encoder (see addParity) recovers at most one lost
// shard per group.
func New(client blobclient.Client, bal *balancer.Balancer, cfg Config, log zerolog.Logger) *Redundancy {
	if cfg.Mode == Parity || cfg.Mode == Hybrid {
		log.Warn().Int("parity_shards", cfg.ParityShards).Msg("parity uses an XOR encoder: at most one lost shard per group can be rebuilt, whatever parity_shards is")
	}
	return &Redundancy{client: client, balancer: bal, cfg: cfg, log: log}
}

// Materialize writes replicas and/or parity for m's data chunks
// in-place, per the configured mode, mutating m.Chunks[i].Replicas and
// m.ParityChunks.
func (r *Redundancy) Materialize(ctx context.Context, m *manifest.Manifest, remotes []string) error {
	switch r.cfg.Mode {
	case None:
		return nil
	case Replication:
		return r.replicate(ctx, m, remotes)
	case Parity:
		return r.addParity(ctx, m, remotes)
	case Hybrid:
		if err := r.replicate(ctx, m, remotes); err != nil {
			return err
		}
		return r.addParity(ctx, m, remotes)
	default:
		return fmt.Errorf("redundancy: unknown mode %q", r.cfg.Mode)
	}
}

// replicate writes replication_factor-1 extra copies of every data
// chunk to distinct remotes.
func (r *Redundancy) replicate(ctx context.Context, m *manifest.Manifest, remotes []string) error {
	k := r.cfg.ReplicationFactor
	if k < 1 {
		k = 1
	}
	for i := range m.Chunks {
		c := &m.Chunks[i]
		data, err := r.client.Download(ctx, c.Remote, c.Path)
		if err != nil {
			return fmt.Errorf("redundancy: reading chunk %d for replication: %w", c.Index, err)
		}
		used := map[string]bool{c.Remote: true}
		for _, rep := range c.Replicas {
			used[rep.Remote] = true
		}
		for len(c.Replicas)+1 < k {
			target := pickUnused(remotes, used)
			if target == "" {
				break // fewer remotes than replication_factor; best effort
			}
			used[target] = true
			if err := r.client.Upload(ctx, target, c.Path, data); err != nil {
				return fmt.Errorf("redundancy: writing replica of chunk %d to %s: %w", c.Index, target, err)
			}
			c.Replicas = append(c.Replicas, manifest.ReplicaRef{Remote: target, Path: c.Path})
		}
	}
	return nil
}

func pickUnused(remotes []string, used map[string]bool) string {
	for _, r := range remotes {
		if !used[r] {
			return r
		}
	}
	return ""
}

// addParity groups data chunks into groups of ParityDataShards and
// writes ParityShards parity chunks per group, using the XOR placeholder
// documented in spec §4.8/§9: it tolerates exactly one shard loss per
// group regardless of p, not the full (d+p, d) MDS guarantee a
// production Reed-Solomon encoder would provide (see DESIGN.md).
func (r *Redundancy) addParity(ctx context.Context, m *manifest.Manifest, remotes []string) error {
	d := r.cfg.ParityDataShards
	p := r.cfg.ParityShards
	if d < 1 {
		d = 1
	}
	if p < 1 {
		p = 1
	}
	m.ParityChunks = m.ParityChunks[:0]
	for start := 0; start < len(m.Chunks); start += d {
		end := start + d
		if end > len(m.Chunks) {
			end = len(m.Chunks)
		}
		group := m.Chunks[start:end]

		maxLen := 0
		datas := make([][]byte, len(group))
		for i, c := range group {
			data, err := r.client.Download(ctx, c.Remote, c.Path)
			if err != nil {
				return fmt.Errorf("redundancy: reading chunk %d for parity: %w", c.Index, err)
			}
			datas[i] = data
			if len(data) > maxLen {
				maxLen = len(data)
			}
		}
		parity := xorShards(datas, maxLen)

		for pi := 0; pi < p; pi++ {
			parityIndex := uint32(start/d*p + pi)
			target := r.balancer.Next()
			path := manifest.ParityPrefixedPath(r.cfg.ParityPrefix, m.FileName, parityIndex)
			if err := r.client.Upload(ctx, target, path, parity); err != nil {
				return fmt.Errorf("redundancy: writing parity chunk %d: %w", parityIndex, err)
			}
			m.ParityChunks = append(m.ParityChunks, manifest.Chunk{
				Index:  parityIndex,
				Remote: target,
				Path:   path,
				Size:   uint64(len(parity)),
				Offset: group[0].Offset,
				Kind:   manifest.KindParity,
			})
			r.balancer.RecordUsage(target, int64(len(parity)))
		}
	}
	return nil
}

func xorShards(datas [][]byte, width int) []byte {
	out := make([]byte, width)
	for _, d := range datas {
		for i, b := range d {
			out[i] ^= b
		}
	}
	return out
}

// HealthStatus summarizes the survivability of a file's chunks, per
// spec §4.8.
type HealthStatus struct {
	Total          int
	Healthy        int
	Degraded       int
	Missing        int
	ParityTotal    int
	ParityHealthy  int
	IsRecoverable  bool
	Warnings       []string
}

// CheckHealth probes every data (and parity) chunk of m for existence
// and classifies recoverability under the configured mode.
func (r *Redundancy) CheckHealth(ctx context.Context, m *manifest.Manifest) HealthStatus {
	var hs HealthStatus
	hs.Total = len(m.Chunks)
	for _, c := range m.Chunks {
		primary, err := r.client.Exists(ctx, c.Remote, c.Path)
		if err != nil {
			hs.Warnings = append(hs.Warnings, fmt.Sprintf("chunk %d: probing %s/%s: %v", c.Index, c.Remote, c.Path, err))
		}
		if primary {
			hs.Healthy++
			continue
		}
		anyReplica := false
		for _, rep := range c.Replicas {
			if ok, _ := r.client.Exists(ctx, rep.Remote, rep.Path); ok {
				anyReplica = true
				break
			}
		}
		if anyReplica {
			hs.Degraded++
		} else {
			hs.Missing++
		}
	}

	hs.ParityTotal = len(m.ParityChunks)
	for _, pc := range m.ParityChunks {
		if ok, _ := r.client.Exists(ctx, pc.Remote, pc.Path); ok {
			hs.ParityHealthy++
		}
	}

	switch r.cfg.Mode {
	case None:
		hs.IsRecoverable = hs.Missing == 0
	case Replication:
		hs.IsRecoverable = hs.Missing == 0
	case Parity, Hybrid:
		hs.IsRecoverable = hs.Missing <= hs.ParityHealthy
	default:
		hs.IsRecoverable = hs.Missing == 0
	}
	return hs
}

// Rebuild restores every non-present primary chunk of m from a
// surviving replica, or — under parity/hybrid mode and lacking a
// replica — from the XOR parity group (which can only recover a single
// missing shard per group, per the limitation documented on addParity).
// It does not change any manifest path. It reports success only if a
// post-rebuild CheckHealth finds zero missing chunks.
func (r *Redundancy) Rebuild(ctx context.Context, m *manifest.Manifest) (HealthStatus, error) {
	d := r.cfg.ParityDataShards
	if d < 1 {
		d = 1
	}

	for i := range m.Chunks {
		c := &m.Chunks[i]
		ok, _ := r.client.Exists(ctx, c.Remote, c.Path)
		if ok {
			continue
		}

		restored := false
		for _, rep := range c.Replicas {
			data, err := r.client.Download(ctx, rep.Remote, rep.Path)
			if err != nil {
				continue
			}
			if err := r.client.Upload(ctx, c.Remote, c.Path, data); err == nil {
				restored = true
				break
			}
		}
		if restored {
			continue
		}
		if r.cfg.Mode != Parity && r.cfg.Mode != Hybrid {
			continue
		}

		group := m.Chunks[(i/d)*d : min((i/d)*d+d, len(m.Chunks))]
		missingInGroup := 0
		for _, gc := range group {
			if gc.Index == c.Index {
				continue
			}
			if ok, _ := r.client.Exists(ctx, gc.Remote, gc.Path); !ok {
				missingInGroup++
			}
		}
		if missingInGroup > 0 {
			continue // more than one shard down in this group, XOR cannot recover it
		}
		rebuilt, err := r.rebuildFromParity(ctx, m, group, c)
		if err != nil || rebuilt == nil {
			continue
		}
		_ = r.client.Upload(ctx, c.Remote, c.Path, rebuilt[:c.Size])
	}

	hs := r.CheckHealth(ctx, m)
	if hs.Missing != 0 {
		return hs, fmt.Errorf("redundancy: rebuild incomplete, %d chunks still missing", hs.Missing)
	}
	return hs, nil
}

func (r *Redundancy) rebuildFromParity(ctx context.Context, m *manifest.Manifest, group []manifest.Chunk, missing *manifest.Chunk) ([]byte, error) {
	d := r.cfg.ParityDataShards
	if d < 1 {
		d = 1
	}
	groupIdx := int(group[0].Index) / d
	p := r.cfg.ParityShards
	if p < 1 {
		p = 1
	}
	var parityChunk *manifest.Chunk
	for i := range m.ParityChunks {
		if int(m.ParityChunks[i].Index)/p == groupIdx {
			parityChunk = &m.ParityChunks[i]
			break
		}
	}
	if parityChunk == nil {
		return nil, fmt.Errorf("redundancy: no parity chunk for group %d", groupIdx)
	}
	parityData, err := r.client.Download(ctx, parityChunk.Remote, parityChunk.Path)
	if err != nil {
		return nil, err
	}
	surviving := make([][]byte, 0, len(group))
	for _, gc := range group {
		if gc.Index == missing.Index {
			continue
		}
		data, err := r.client.Download(ctx, gc.Remote, gc.Path)
		if err != nil {
			return nil, err
		}
		surviving = append(surviving, data)
	}
	surviving = append(surviving, parityData)
	width := len(parityData)
	return xorShards(surviving, width), nil
}
