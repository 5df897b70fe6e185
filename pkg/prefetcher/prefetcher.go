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

// Package prefetcher runs a background read-ahead worker that warms the
// ChunkCache (C10).
package prefetcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/chunkcache"
)

// stopDrainTimeout bounds how long Stop waits for the worker to drain.
const stopDrainTimeout = 5 * time.Second

// Item names one chunk to make sure is cached.
type Item struct {
	Key    string
	Remote string
	Path   string
}

// Prefetcher drains a bounded queue of Items with a single background
// goroutine, populating cache on misses. request() never blocks the
// caller: a full queue silently drops the overflow, since prefetching is
// best-effort (spec §4.10).
type Prefetcher struct {
	client blobclient.Client
	cache  *chunkcache.Cache
	log    zerolog.Logger

	queue chan Item
	done  chan struct{}
	wg    sync.WaitGroup
}

// New builds a Prefetcher with the given queue capacity and starts its
// worker goroutine immediately.
func New(client blobclient.Client, cache *chunkcache.Cache, queueCapacity int, log zerolog.Logger) *Prefetcher {
	p := &Prefetcher{
		client: client,
		cache:  cache,
		log:    log,
		queue:  make(chan Item, queueCapacity),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Prefetcher) run() {
	defer p.wg.Done()
	for {
		select {
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.fetch(item)
		case <-p.done:
			return
		}
	}
}

func (p *Prefetcher) fetch(item Item) {
	if _, hit := p.cache.Get(item.Key); hit {
		return
	}
	data, err := p.client.Download(context.Background(), item.Remote, item.Path)
	if err != nil {
		p.log.Debug().Str("remote", item.Remote).Str("path", item.Path).Err(err).Msg("prefetch download failed")
		return
	}
	if err := p.cache.Put(item.Key, data); err != nil {
		p.log.Debug().Str("key", item.Key).Err(err).Msg("prefetch cache put failed")
	}
}

// Request offers items for prefetch, non-blockingly; any item that
// can't be enqueued immediately is dropped.
func (p *Prefetcher) Request(items []Item) {
	for _, item := range items {
		select {
		case p.queue <- item:
		default:
			p.log.Debug().Str("key", item.Key).Msg("prefetch queue full, dropping")
		}
	}
}

// Stop signals the worker to terminate and waits up to 5s for it to
// drain, per spec §4.10.
func (p *Prefetcher) Stop() {
	close(p.done)
	waitCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(stopDrainTimeout):
	}
}
