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

// Package rebalancer analyzes per-remote utilization imbalance and moves
// chunks to restore it (C7).
package rebalancer

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/balancer"
	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/manifest"
)

// RemoteStats is one remote's row in an Analysis.
type RemoteStats struct {
	Remote      string
	Used        uint64
	Free        uint64
	Total       uint64
	Utilization float64
	ChunkCount  int
}

// Analysis is the result of analyze(), per spec §4.7.
type Analysis struct {
	PerRemote  map[string]RemoteStats
	Avg        float64
	Max        float64
	Min        float64
	Variance   float64
	IsBalanced bool
}

// Move describes one planned or executed chunk relocation.
type Move struct {
	FilePath   string
	ChunkIndex uint32
	Source     string
	Target     string
	ChunkPath  string
	Size       uint64
	Err        string
}

// Result is rebalance()'s return value.
type Result struct {
	Status string // "already_balanced" | "completed"
	Moves  []Move
}

// manifestStore is the subset of manifest.Store Rebalancer depends on.
type manifestStore interface {
	List(ctx context.Context, dir string, recursive bool) ([]*manifest.Manifest, error)
	Save(ctx context.Context, m *manifest.Manifest) error
}

// Rebalancer analyzes imbalance across remotes and moves chunks between
// them to restore it.
type Rebalancer struct {
	client blobclient.Client
	bal    *balancer.Balancer
	store  manifestStore
	log    zerolog.Logger
}

// New builds a Rebalancer.
func New(client blobclient.Client, bal *balancer.Balancer, store manifestStore, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{client: client, bal: bal, store: store, log: log}
}

// Analyze computes per-remote utilization and a balance verdict
// (variance < 10 percentage points), per spec §4.7. Chunk counts are
// derived from live manifests.
func (r *Rebalancer) Analyze(ctx context.Context) (Analysis, error) {
	r.bal.Refresh(ctx)
	usage := r.bal.UsageReport()

	manifests, err := r.store.List(ctx, "/", true)
	if err != nil {
		return Analysis{}, err
	}
	counts := map[string]int{}
	for _, m := range manifests {
		for _, c := range m.Chunks {
			counts[c.Remote]++
		}
		for _, c := range m.ParityChunks {
			counts[c.Remote]++
		}
	}

	a := Analysis{PerRemote: map[string]RemoteStats{}}
	var minUtil, maxUtil float64
	var sum float64
	first := true
	for remote, row := range usage {
		stats := RemoteStats{
			Remote:      remote,
			Used:        row.Used,
			Free:        row.Free,
			Total:       row.Total,
			Utilization: row.Utilization,
			ChunkCount:  counts[remote],
		}
		a.PerRemote[remote] = stats
		sum += row.Utilization
		if first {
			minUtil, maxUtil = row.Utilization, row.Utilization
			first = false
			continue
		}
		if row.Utilization < minUtil {
			minUtil = row.Utilization
		}
		if row.Utilization > maxUtil {
			maxUtil = row.Utilization
		}
	}
	if n := len(usage); n > 0 {
		a.Avg = sum / float64(n)
	}
	a.Max = maxUtil
	a.Min = minUtil
	a.Variance = maxUtil - minUtil
	a.IsBalanced = a.Variance < 10.0
	return a, nil
}

// Rebalance plans (and, unless dryRun, executes) chunk moves to bring
// variance under targetVariance, per spec §4.7.
func (r *Rebalancer) Rebalance(ctx context.Context, targetVariance float64, dryRun bool) (Result, error) {
	analysis, err := r.Analyze(ctx)
	if err != nil {
		return Result{}, err
	}
	if analysis.IsBalanced {
		return Result{Status: "already_balanced"}, nil
	}

	over, under := partition(analysis, targetVariance)
	if len(over) == 0 || len(under) == 0 {
		return Result{Status: "already_balanced"}, nil
	}

	manifests, err := r.store.List(ctx, "/", true)
	if err != nil {
		return Result{}, err
	}

	simUtil := map[string]float64{}
	for remote, stats := range analysis.PerRemote {
		simUtil[remote] = stats.Utilization
	}

	var moves []Move
	for _, overRemote := range over {
		chunksOnRemote := collectChunks(manifests, overRemote)
		sort.SliceStable(chunksOnRemote, func(i, j int) bool {
			return chunksOnRemote[i].chunk.Size > chunksOnRemote[j].chunk.Size
		})

		for _, cm := range chunksOnRemote {
			target := leastUtilized(under, simUtil)
			if target == "" {
				break
			}
			move := Move{
				FilePath:   cm.manifest.FilePath,
				ChunkIndex: cm.chunk.Index,
				Source:     overRemote,
				Target:     target,
				ChunkPath:  cm.chunk.Path,
				Size:       cm.chunk.Size,
			}

			if dryRun {
				moves = append(moves, move)
			} else if err := r.executeMove(ctx, cm.manifest, cm.index, target); err != nil {
				move.Err = err.Error()
				moves = append(moves, move)
				continue
			} else {
				moves = append(moves, move)
			}

			simUtil[overRemote] -= utilDelta(cm.chunk.Size, analysis.PerRemote[overRemote].Total)
			simUtil[target] += utilDelta(cm.chunk.Size, analysis.PerRemote[target].Total)

			if abs(simUtil[overRemote]-simUtil[target]) < 5.0 {
				break
			}
		}
	}

	return Result{Status: "completed", Moves: moves}, nil
}

type chunkOnManifest struct {
	manifest *manifest.Manifest
	chunk    manifest.Chunk
	index    int
}

func collectChunks(manifests []*manifest.Manifest, remote string) []chunkOnManifest {
	var out []chunkOnManifest
	for _, m := range manifests {
		for i, c := range m.Chunks {
			if c.Remote == remote {
				out = append(out, chunkOnManifest{manifest: m, chunk: c, index: i})
			}
		}
	}
	return out
}

func partition(a Analysis, targetVariance float64) (over, under []string) {
	for remote, stats := range a.PerRemote {
		if stats.Utilization > a.Avg+targetVariance {
			over = append(over, remote)
		} else if stats.Utilization < a.Avg-targetVariance {
			under = append(under, remote)
		}
	}
	sort.Strings(over)
	sort.Strings(under)
	return over, under
}

func leastUtilized(candidates []string, simUtil map[string]float64) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if simUtil[c] < simUtil[best] {
			best = c
		}
	}
	return best
}

func utilDelta(size, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(size) / float64(total) * 100
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// executeMove performs one atomic chunk relocation: download from
// source, upload to target, update+save the manifest, then delete from
// source. Any mid-step failure aborts just this move, leaving the chunk
// on source and the manifest unchanged (spec §4.7).
func (r *Rebalancer) executeMove(ctx context.Context, m *manifest.Manifest, chunkIdx int, target string) error {
	c := m.Chunks[chunkIdx]
	data, err := r.client.Download(ctx, c.Remote, c.Path)
	if err != nil {
		return err
	}
	if err := r.client.Upload(ctx, target, c.Path, data); err != nil {
		return err
	}

	source := c.Remote
	m.Chunks[chunkIdx].Remote = target
	if err := r.store.Save(ctx, m); err != nil {
		m.Chunks[chunkIdx].Remote = source // roll back in-memory manifest
		return err
	}

	if err := r.client.Delete(ctx, source, c.Path); err != nil {
		r.log.Warn().Str("remote", source).Str("path", c.Path).Err(err).Msg("rebalance: stale copy left on source after move")
	}
	r.bal.RecordUsage(source, -int64(c.Size))
	r.bal.RecordUsage(target, int64(c.Size))
	return nil
}
