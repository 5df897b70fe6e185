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

// Package dedup is a process-local, count-capped index from chunk
// content hash to its existing (remote, path), letting the upload path
// skip re-uploading bytes it has already placed. Unlike ChunkCache's
// byte-budget LRU, this index only ever holds small (hash -> location)
// pairs, so a plain count-capped cache is the right shape — grounded on
// cs3org/reva's thumbnails LRU driver, which wraps the same
// github.com/bluele/gcache the same way: gcache.New(size).LRU().Build().
package dedup

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/bluele/gcache"
)

// Location names where a chunk's bytes already live.
type Location struct {
	Remote     string
	Path       string
	Compressed bool
}

// Index is a bounded hash -> Location lookup.
type Index struct {
	cache gcache.Cache
}

// New builds an Index capped at maxEntries distinct content hashes.
func New(maxEntries int) *Index {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Index{cache: gcache.New(maxEntries).LRU().Build()}
}

// Hash returns the hex SHA-256 of data, the key this index is keyed on.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the remembered location for hash, if any.
func (i *Index) Lookup(hash string) (Location, bool) {
	v, err := i.cache.Get(hash)
	if err != nil {
		return Location{}, false
	}
	loc, ok := v.(Location)
	return loc, ok
}

// Remember records that hash's bytes live at loc.
func (i *Index) Remember(hash string, loc Location) {
	_ = i.cache.Set(hash, loc)
}
