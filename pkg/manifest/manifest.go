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

// Package manifest holds the per-file manifest type (C3's data model,
// spec §3) and the ManifestStore that replicates manifests across every
// configured remote.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// ChunkKind distinguishes data chunks from parity chunks.
type ChunkKind string

const (
	KindData   ChunkKind = "data"
	KindParity ChunkKind = "parity"
)

// ReplicaRef is an extra copy of a chunk on a different remote.
type ReplicaRef struct {
	Remote string `json:"remote"`
	Path   string `json:"path"`
}

// Chunk is one contiguous slice of a file, stored as one object on one
// remote (spec §3's chunk descriptor C).
type Chunk struct {
	Index    uint32       `json:"index"`
	Remote   string       `json:"remote"`
	Path     string       `json:"path"`
	Size     uint64       `json:"size"`
	Offset   uint64       `json:"offset"`
	Replicas   []ReplicaRef `json:"replicas,omitempty"`
	Kind       ChunkKind    `json:"kind"`
	Compressed bool         `json:"compressed,omitempty"`
}

// Manifest is the metadata record describing a file's chunk placement
// (spec §3's Manifest M).
type Manifest struct {
	Version      int     `json:"version"`
	FileName     string  `json:"file_name"`
	RemoteDir    string  `json:"remote_dir"`
	FilePath     string  `json:"file_path"`
	FileSize     uint64  `json:"file_size"`
	ChunkSize    uint64  `json:"chunk_size"`
	ChunkCount   uint32  `json:"chunk_count"`
	Chunks       []Chunk `json:"chunks"`
	ParityChunks []Chunk `json:"parity_chunks,omitempty"`
	ContentHash  string  `json:"content_hash,omitempty"`
	CreatedAt    float64 `json:"created_at"`
	Checksum     string  `json:"checksum"`
}

// DataPrefixedPath returns the object key for a data chunk at index i
// of fileName: "{dataPrefix}/{fileName}.chunk.{i:03d}".
func DataPrefixedPath(dataPrefix, fileName string, index uint32) string {
	return fmt.Sprintf("%s/%s.chunk.%03d", dataPrefix, fileName, index)
}

// ParityPrefixedPath returns the object key for a parity chunk:
// "{parityPrefix}/{fileName}.parity.{i:03d}".
func ParityPrefixedPath(parityPrefix, fileName string, index uint32) string {
	return fmt.Sprintf("%s/%s.parity.%03d", parityPrefix, fileName, index)
}

// NormalizePath ensures a leading "/" and strips any trailing "/" (but
// keeps a bare "/" as-is), the canonical form every manifest operation
// keys on.
func NormalizePath(p string) string {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// SplitRemotePath resolves (remote_dir, file_name) from a destination
// path per spec §4.12 step 1: if it ends in "/" or is empty, it names a
// directory and the file keeps localName; otherwise the last path
// component is the file name.
func SplitRemotePath(remotePath, localName string) (remoteDir, fileName string) {
	if remotePath == "" || strings.HasSuffix(remotePath, "/") {
		return NormalizePath(remotePath), localName
	}
	dir, name := path.Split(remotePath)
	return NormalizePath(dir), name
}

// JoinFilePath builds the canonical file_path from remote_dir and
// file_name (spec §3's Manifest invariant).
func JoinFilePath(remoteDir, fileName string) string {
	if remoteDir == "/" {
		return NormalizePath("/" + fileName)
	}
	return NormalizePath(remoteDir + "/" + fileName)
}

// ManifestRecordPath computes the manifest object key for filePath per
// spec §3/§6: "{manifestPrefix}/{mangled(filePath)}.manifest.json"
// where mangled replaces '/' with '_' and strips leading underscores,
// or is "root" for the empty/slash path.
func ManifestRecordPath(manifestPrefix, filePath string) string {
	fp := NormalizePath(filePath)
	mangled := strings.ReplaceAll(fp, "/", "_")
	mangled = strings.TrimLeft(mangled, "_")
	if mangled == "" {
		mangled = "root"
	}
	return manifestPrefix + "/" + mangled + ".manifest.json"
}

// computeChecksum is the first 16 hex characters of
// SHA256(file_name + ":" + file_size + ":" + chunk_count), per spec §3.
func computeChecksum(fileName string, fileSize uint64, chunkCount uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", fileName, fileSize, chunkCount)))
	return hex.EncodeToString(sum[:])[:16]
}
