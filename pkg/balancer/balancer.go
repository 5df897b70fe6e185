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

// Package balancer implements per-chunk remote selection under a
// pluggable strategy (C6).
package balancer

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/blobclient"
)

// Strategy names one of the selection strategies (spec §4.6).
type Strategy string

const (
	LeastUsed          Strategy = "least_used"
	RoundRobin         Strategy = "round_robin"
	Weighted           Strategy = "weighted"
	Random             Strategy = "random"
	RoundRobinLeastUsed Strategy = "round_robin_least_used"
)

// RemoteInfo is the balancer's per-remote policy+usage row.
type RemoteInfo struct {
	Name     string
	Used     uint64
	Free     uint64
	Total    uint64
	Weight   float64
	Priority int
	Enabled  bool

	consecutiveFailures int
	penalizedUntil      time.Time
}

// Utilization returns used/total as a percentage, 0 when total is 0.
func (r RemoteInfo) Utilization() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Used) / float64(r.Total) * 100
}

// UsageRow is the public projection returned by UsageReport.
type UsageRow struct {
	Used        uint64
	Free        uint64
	Total       uint64
	Utilization float64
	Weight      float64
	Priority    int
	Enabled     bool
}

// Balancer holds the remote policy/usage table and implements next()
// selection under the configured strategy.
type Balancer struct {
	client blobclient.Client
	log    zerolog.Logger
	rng    *rand.Rand

	mu             sync.Mutex
	table          map[string]*RemoteInfo
	order          []string // configured remote order, stable for tie-breaks
	strategy       Strategy
	roundRobinIdx  int
	failureLimit   int
	penaltyWindow  time.Duration
	now            func() time.Time
}

// New builds a Balancer for remotes. Used/free/total start at zero and
// are filled in only by Refresh; Next does not call client.About itself.
// Policy defaults match spec §3: weight 1.0, priority 0, enabled true.
func New(client blobclient.Client, remotes []string, strategy Strategy, log zerolog.Logger) *Balancer {
	b := &Balancer{
		client:        client,
		log:           log,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		table:         map[string]*RemoteInfo{},
		order:         append([]string{}, remotes...),
		strategy:      strategy,
		failureLimit:  3,
		penaltyWindow: 30 * time.Second,
		now:           time.Now,
	}
	for _, r := range remotes {
		b.table[r] = &RemoteInfo{Name: r, Weight: 1.0, Priority: 0, Enabled: true}
	}
	return b
}

// Refresh populates used/free/total for every configured remote from
// BlobClient.About. Call periodically; next() uses whatever was last
// refreshed plus RecordUsage deltas.
func (b *Balancer) Refresh(ctx context.Context) {
	for _, r := range b.order {
		usage, err := b.client.About(ctx, r)
		if err != nil {
			b.log.Warn().Str("remote", r).Err(err).Msg("about() failed, keeping last known usage")
			continue
		}
		total := usage.Total
		if total == 0 {
			total = usage.Used + usage.Free
		}
		b.mu.Lock()
		if info, ok := b.table[r]; ok {
			info.Used, info.Free, info.Total = usage.Used, usage.Free, total
		}
		b.mu.Unlock()
	}
}

// SetStrategy changes the active selection strategy.
func (b *Balancer) SetStrategy(s Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategy = s
}

// SetWeight sets the weight used by the WEIGHTED strategy.
func (b *Balancer) SetWeight(remote string, w float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.table[remote]; ok {
		info.Weight = w
	}
}

// SetPriority sets the priority tier used by every strategy.
func (b *Balancer) SetPriority(remote string, p int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.table[remote]; ok {
		info.Priority = p
	}
}

// SetEnabled toggles whether next() will ever return remote.
func (b *Balancer) SetEnabled(remote string, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.table[remote]; ok {
		info.Enabled = enabled
	}
}

// RecordUsage adjusts the cached used/free for remote by delta bytes,
// without a round-trip to the remote (spec §4.6).
func (b *Balancer) RecordUsage(remote string, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.table[remote]
	if !ok {
		return
	}
	if delta >= 0 {
		d := uint64(delta)
		info.Used += d
		if info.Free > d {
			info.Free -= d
		} else {
			info.Free = 0
		}
	} else {
		d := uint64(-delta)
		if info.Used > d {
			info.Used -= d
		} else {
			info.Used = 0
		}
		info.Free += d
	}
}

// RecordFailure increments remote's consecutive-failure count, applying
// a temporary penalty (treated as disabled by next()) once the count
// reaches the failure limit — carried over from the original project's
// advanced_balancer health tracking (SPEC_FULL.md §C), not named in
// spec §4.6 itself.
func (b *Balancer) RecordFailure(remote string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.table[remote]
	if !ok {
		return
	}
	info.consecutiveFailures++
	if info.consecutiveFailures >= b.failureLimit {
		info.penalizedUntil = b.now().Add(b.penaltyWindow)
	}
}

// RecordSuccess clears remote's failure streak.
func (b *Balancer) RecordSuccess(remote string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.table[remote]; ok {
		info.consecutiveFailures = 0
		info.penalizedUntil = time.Time{}
	}
}

// IsPenalized reports whether remote is under a failure-cooldown
// penalty right now.
func (b *Balancer) IsPenalized(remote string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.table[remote]
	if !ok {
		return false
	}
	return b.now().Before(info.penalizedUntil)
}

// UsageReport returns a snapshot of every remote's usage and policy.
func (b *Balancer) UsageReport() map[string]UsageRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]UsageRow, len(b.table))
	for name, info := range b.table {
		out[name] = UsageRow{
			Used:        info.Used,
			Free:        info.Free,
			Total:       info.Total,
			Utilization: info.Utilization(),
			Weight:      info.Weight,
			Priority:    info.Priority,
			Enabled:     info.Enabled,
		}
	}
	return out
}

// Next selects the remote for the next chunk placement under the
// active strategy (spec §4.6).
func (b *Balancer) Next() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.eligibleLocked()
	if len(candidates) == 0 {
		b.log.Warn().Msg("balancer: no eligible remotes, falling back to first configured remote")
		if len(b.order) == 0 {
			return ""
		}
		return b.order[0]
	}

	switch b.strategy {
	case RoundRobin:
		return b.roundRobinLocked(candidates)
	case Weighted:
		return b.weightedLocked(topPriorityTierLocked(candidates))
	case Random:
		tier := topPriorityTierLocked(candidates)
		return tier[b.rng.Intn(len(tier))].Name
	case RoundRobinLeastUsed:
		return b.roundRobinLeastUsedLocked(candidates)
	case LeastUsed:
		fallthrough
	default:
		return leastUsedLocked(candidates)
	}
}

func (b *Balancer) eligibleLocked() []*RemoteInfo {
	var out []*RemoteInfo
	for _, name := range b.order {
		info, ok := b.table[name]
		if !ok || !info.Enabled || info.Free == 0 {
			continue
		}
		if b.now().Before(info.penalizedUntil) {
			continue
		}
		out = append(out, info)
	}
	return out
}

// leastUsedLocked sorts by (-priority, used, name) ascending and picks
// the first, a stable tie-break on name.
func leastUsedLocked(candidates []*RemoteInfo) string {
	sorted := append([]*RemoteInfo{}, candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		if a.Used != c.Used {
			return a.Used < c.Used
		}
		return a.Name < c.Name
	})
	return sorted[0].Name
}

func (b *Balancer) roundRobinLocked(candidates []*RemoteInfo) string {
	sorted := append([]*RemoteInfo{}, candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		return a.Name < c.Name
	})
	idx := b.roundRobinIdx % len(sorted)
	b.roundRobinIdx++
	return sorted[idx].Name
}

func topPriorityTierLocked(candidates []*RemoteInfo) []*RemoteInfo {
	top := candidates[0].Priority
	for _, c := range candidates {
		if c.Priority > top {
			top = c.Priority
		}
	}
	var tier []*RemoteInfo
	for _, c := range candidates {
		if c.Priority == top {
			tier = append(tier, c)
		}
	}
	sort.SliceStable(tier, func(i, j int) bool { return tier[i].Name < tier[j].Name })
	return tier
}

func (b *Balancer) weightedLocked(tier []*RemoteInfo) string {
	var totalWeight float64
	for _, c := range tier {
		totalWeight += c.Weight
	}
	if totalWeight <= 0 {
		return tier[0].Name
	}
	r := b.rng.Float64() * totalWeight
	var cum float64
	for _, c := range tier {
		cum += c.Weight
		if cum >= r {
			return c.Name
		}
	}
	return tier[len(tier)-1].Name
}

func (b *Balancer) roundRobinLeastUsedLocked(candidates []*RemoteInfo) string {
	tier := topPriorityTierLocked(candidates)
	idx := b.roundRobinIdx % len(tier)
	b.roundRobinIdx++
	picked := tier[idx]

	minUtil := picked.Utilization()
	least := picked
	for _, c := range tier {
		if u := c.Utilization(); u < minUtil {
			minUtil = u
			least = c
		}
	}
	if picked.Utilization()-minUtil > 10.0 {
		return least.Name
	}
	return picked.Name
}
