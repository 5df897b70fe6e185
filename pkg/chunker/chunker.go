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

// Package chunker streams a local file into fixed-size records (C2),
// keeping at most one chunk resident in the producer at a time.
package chunker

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Record is one (index, bytes, offset, length) slice of a file.
type Record struct {
	Index  uint32
	Data   []byte
	Offset uint64
	Length uint64
}

// Count returns the number of chunks a file of fileSize bytes splits
// into at chunkSize, per spec §4.2: ceil(fileSize/chunkSize).
func Count(fileSize, chunkSize uint64) uint32 {
	if fileSize == 0 {
		return 0
	}
	return uint32((fileSize + chunkSize - 1) / chunkSize)
}

// Split streams path, invoking emit once per chunk in ascending index
// order. Only one chunk's bytes are resident at a time. The final chunk
// may be shorter than chunkSize.
func Split(path string, chunkSize uint64, emit func(Record) error) error {
	if chunkSize == 0 {
		return fmt.Errorf("chunker: chunk size must be > 0")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("chunker: open %s: %w", path, err)
	}
	defer f.Close()
	return SplitReader(bufio.NewReaderSize(f, 1<<20), chunkSize, emit)
}

// SplitReader is Split generalized over an io.Reader, for streamed
// uploads whose source is not a local file (e.g. an HTTP PUT body).
func SplitReader(r io.Reader, chunkSize uint64, emit func(Record) error) error {
	if chunkSize == 0 {
		return fmt.Errorf("chunker: chunk size must be > 0")
	}
	var index uint32
	var offset uint64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := emit(Record{Index: index, Data: data, Offset: offset, Length: uint64(n)}); err != nil {
				return err
			}
			index++
			offset += uint64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("chunker: read at offset %d: %w", offset, readErr)
		}
	}
}

// Source is anything reassemble can pull ordered chunk bytes from.
type Source struct {
	Index uint32
	Data  []byte
}

// Reassemble writes sortedChunks (already sorted ascending by Index) to
// outPath in order, failing on an index gap.
func Reassemble(sortedChunks []Source, outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("chunker: create %s: %w", outPath, err)
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 1<<20)
	for i, c := range sortedChunks {
		if uint32(i) != c.Index {
			return fmt.Errorf("chunker: non-contiguous chunk index: want %d, got %d", i, c.Index)
		}
		if _, err := w.Write(c.Data); err != nil {
			return fmt.Errorf("chunker: write chunk %d: %w", c.Index, err)
		}
	}
	return w.Flush()
}
