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

package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/dedup"
)

func TestLookupMissReturnsFalse(t *testing.T) {
	idx := dedup.New(4)
	_, ok := idx.Lookup(dedup.Hash([]byte("x")))
	require.False(t, ok)
}

func TestRememberThenLookupHits(t *testing.T) {
	idx := dedup.New(4)
	h := dedup.Hash([]byte("payload"))
	idx.Remember(h, dedup.Location{Remote: "A", Path: "chunks/0"})

	loc, ok := idx.Lookup(h)
	require.True(t, ok)
	require.Equal(t, "A", loc.Remote)
	require.Equal(t, "chunks/0", loc.Path)
}

func TestEvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	idx := dedup.New(2)
	idx.Remember("h1", dedup.Location{Remote: "A", Path: "1"})
	idx.Remember("h2", dedup.Location{Remote: "A", Path: "2"})
	idx.Remember("h3", dedup.Location{Remote: "A", Path: "3"})

	_, ok := idx.Lookup("h1")
	require.False(t, ok, "h1 should have been evicted once capacity 2 was exceeded")

	_, ok = idx.Lookup("h3")
	require.True(t, ok)
}

func TestDifferentContentDifferentHash(t *testing.T) {
	require.NotEqual(t, dedup.Hash([]byte("a")), dedup.Hash([]byte("b")))
}
