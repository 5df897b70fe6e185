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

package chunker

import (
	"fmt"
	"io"

	resticchunker "github.com/restic/chunker"
)

// cdcPolynomial is a fixed irreducible polynomial for the rolling hash.
// Using a constant (rather than deriving a random one per run, as
// restic itself does for repository-wide uniqueness) keeps chunk
// boundaries reproducible across pool instances splitting the same
// source, which is what lets two uploads of the same file dedup.
const cdcPolynomial = resticchunker.Pol(0x3DA3358B4DC173)

// SplitCDC is a supplemental, non-default splitting mode: content-defined
// chunking with restic/chunker's rolling hash, useful when callers want
// chunk boundaries that survive small inserts/deletes upstream of the
// pool (better cross-version dedup than fixed offsets). The fixed-size
// Split remains the default splitting mode per spec §4.2.
func SplitCDC(r io.Reader, emit func(Record) error) error {
	ch := resticchunker.New(r, cdcPolynomial)
	buf := make([]byte, resticchunker.MaxSize)

	var index uint32
	var offset uint64
	for {
		chunk, err := ch.Next(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chunker: cdc read at offset %d: %w", offset, err)
		}
		data := make([]byte, len(chunk.Data))
		copy(data, chunk.Data)
		if err := emit(Record{Index: index, Data: data, Offset: offset, Length: uint64(len(data))}); err != nil {
			return err
		}
		index++
		offset += uint64(len(data))
	}
}
