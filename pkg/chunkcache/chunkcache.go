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

// Package chunkcache is a bounded LRU of chunk bytes on fast local
// storage (C5). The eviction rule is byte-budget driven — "evict LRU
// entries until there's room for the new one" — rather than a fixed
// entry count, which is why the ordering structure here is a hand-rolled
// container/list ring instead of a count-capped library cache (see
// DESIGN.md for why github.com/bluele/gcache, used elsewhere in this
// repo for the dedup index, doesn't fit this shape).
package chunkcache

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type entry struct {
	key        string
	size       uint64
	accessedAt time.Time
}

// Stats summarizes cache occupancy.
type Stats struct {
	Entries     int
	CurrentSize uint64
	MaxSize     uint64
}

// Cache is a bounded, thread-safe LRU of byte blobs backed by files
// under Dir. Files are named "{key}.chunk".
type Cache struct {
	dir     string
	maxSize uint64
	log     zerolog.Logger

	mu          sync.Mutex
	ll          *list.List
	index       map[string]*list.Element
	currentSize uint64
}

// Open builds a Cache rooted at dir, bounded to maxSizeBytes. dir is
// created if missing; any files already present are not indexed (the
// index is always rebuilt empty at startup, per spec §6).
func Open(dir string, maxSizeBytes uint64, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "chunkcache: creating cache dir")
	}
	return &Cache{
		dir:     dir,
		maxSize: maxSizeBytes,
		log:     log,
		ll:      list.New(),
		index:   map[string]*list.Element{},
	}, nil
}

func (c *Cache) filePath(key string) string {
	return filepath.Join(c.dir, key+".chunk")
}

// Get returns the cached bytes for key, touching its access time on a
// hit.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	el, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	c.ll.MoveToFront(el)
	el.Value.(*entry).accessedAt = time.Now()
	path := c.filePath(key)
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		// File vanished out from under the index (e.g. external cleanup);
		// drop the stale entry rather than report a hit we can't serve.
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return nil, false
	}
	return data, true
}

// Put stores data under key, evicting least-recently-used entries until
// there is room. If len(data) alone exceeds maxSize, the value is not
// cached (spec §4.5).
func (c *Cache) Put(key string, data []byte) error {
	size := uint64(len(data))
	if size > c.maxSize {
		return nil
	}

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.currentSize -= el.Value.(*entry).size
		c.ll.Remove(el)
		delete(c.index, key)
	}
	for c.currentSize+size > c.maxSize && c.ll.Len() > 0 {
		back := c.ll.Back()
		victim := back.Value.(*entry)
		c.ll.Remove(back)
		delete(c.index, victim.key)
		c.currentSize -= victim.size
		_ = os.Remove(c.filePath(victim.key))
	}
	el := c.ll.PushFront(&entry{key: key, size: size, accessedAt: time.Now()})
	c.index[key] = el
	c.currentSize += size
	c.mu.Unlock()

	if err := renameio.WriteFile(c.filePath(key), data, 0o644); err != nil {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return errors.Wrap(err, "chunkcache: writing chunk file")
	}
	return nil
}

func (c *Cache) removeLocked(key string) {
	el, ok := c.index[key]
	if !ok {
		return
	}
	c.currentSize -= el.Value.(*entry).size
	c.ll.Remove(el)
	delete(c.index, key)
}

// Clear empties the cache, removing every backing file.
func (c *Cache) Clear() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.ll = list.New()
	c.index = map[string]*list.Element{}
	c.currentSize = 0
	c.mu.Unlock()

	for _, k := range keys {
		_ = os.Remove(c.filePath(k))
	}
}

// Stats reports current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.ll.Len(), CurrentSize: c.currentSize, MaxSize: c.maxSize}
}
