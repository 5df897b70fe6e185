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

package chunker_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puffious/rclone-pool/pkg/chunker"
)

func TestCount(t *testing.T) {
	require.Equal(t, uint32(0), chunker.Count(0, 100))
	require.Equal(t, uint32(3), chunker.Count(250, 100))
	require.Equal(t, uint32(1), chunker.Count(100, 100))
}

func TestSplitAndReassemble(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 64) // 256 bytes
	require.NoError(t, os.WriteFile(src, data, 0o644))

	var records []chunker.Record
	require.NoError(t, chunker.Split(src, 100, func(r chunker.Record) error {
		records = append(records, r)
		return nil
	}))

	require.Len(t, records, 3)
	require.Equal(t, uint64(100), records[0].Length)
	require.Equal(t, uint64(100), records[1].Length)
	require.Equal(t, uint64(56), records[2].Length)
	require.Equal(t, uint64(0), records[0].Offset)
	require.Equal(t, uint64(100), records[1].Offset)
	require.Equal(t, uint64(200), records[2].Offset)

	sources := make([]chunker.Source, len(records))
	for i, r := range records {
		sources[i] = chunker.Source{Index: r.Index, Data: r.Data}
	}
	out := filepath.Join(dir, "out.bin")
	require.NoError(t, chunker.Reassemble(sources, out))

	gotData, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, data, gotData)
}

func TestSplitEmptyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	var records []chunker.Record
	require.NoError(t, chunker.Split(src, 100, func(r chunker.Record) error {
		records = append(records, r)
		return nil
	}))
	require.Empty(t, records)
}

func TestSplitCDCReassemblesToOriginalBytes(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 4096)

	var records []chunker.Record
	require.NoError(t, chunker.SplitCDC(bytes.NewReader(data), func(r chunker.Record) error {
		records = append(records, r)
		return nil
	}))
	require.NotEmpty(t, records)

	var reassembled []byte
	for _, r := range records {
		reassembled = append(reassembled, r.Data...)
	}
	require.Equal(t, data, reassembled)
}

func TestSplitCDCIsDeterministicAcrossRuns(t *testing.T) {
	data := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, 8192)

	splitOnce := func() []uint64 {
		var lengths []uint64
		_ = chunker.SplitCDC(bytes.NewReader(data), func(r chunker.Record) error {
			lengths = append(lengths, r.Length)
			return nil
		})
		return lengths
	}

	require.Equal(t, splitOnce(), splitOnce(), "same polynomial and input must yield identical chunk boundaries")
}
