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

// Package blobclienttest provides an in-memory blobclient.Client for
// tests, replacing the "mock backend" duck-typing the original project
// used with an explicit interface implementation (spec §9).
package blobclienttest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/errtypes"
)

// Memory is a thread-safe, in-process blobclient.Client. Each remote
// name gets its own object namespace; Total bounds reported usage.
type Memory struct {
	mu            sync.Mutex
	objects       map[string]map[string][]byte // remote -> path -> bytes
	totals        map[string]uint64
	uploadCount   int
	downloadCount int
}

// NewMemory builds a Memory client for the given remote names, each
// with the given total byte capacity (0 means unbounded / unreported).
func NewMemory(remotes []string, totalPerRemote uint64) *Memory {
	m := &Memory{
		objects: make(map[string]map[string][]byte, len(remotes)),
		totals:  make(map[string]uint64, len(remotes)),
	}
	for _, r := range remotes {
		m.objects[r] = map[string][]byte{}
		m.totals[r] = totalPerRemote
	}
	return m
}

func (m *Memory) bucket(remote string) map[string][]byte {
	b, ok := m.objects[remote]
	if !ok {
		b = map[string][]byte{}
		m.objects[remote] = b
	}
	return b
}

func (m *Memory) Upload(_ context.Context, remote, remotePath string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.bucket(remote)[remotePath] = cp
	m.uploadCount++
	return nil
}

// UploadCount returns how many times Upload has been called, for tests
// that assert a dedup layer skipped a redundant upload.
func (m *Memory) UploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploadCount
}

func (m *Memory) Download(_ context.Context, remote, remotePath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.bucket(remote)[remotePath]
	if !ok {
		return nil, errtypes.NotFound(remote + ":" + remotePath)
	}
	m.downloadCount++
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// DownloadCount returns how many times Download has been called, for
// tests that assert a read-through cache avoided a redundant fetch.
func (m *Memory) DownloadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadCount
}

func (m *Memory) DownloadRange(ctx context.Context, remote, remotePath string, offset, length uint64) ([]byte, error) {
	data, err := m.Download(ctx, remote, remotePath)
	if err != nil {
		return nil, err
	}
	if offset > uint64(len(data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[offset:end], nil
}

func (m *Memory) Delete(_ context.Context, remote, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucket(remote)
	if _, ok := b[remotePath]; !ok {
		return errtypes.NotFound(remote + ":" + remotePath)
	}
	delete(b, remotePath)
	return nil
}

func (m *Memory) List(_ context.Context, remote, pathPrefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for p := range m.bucket(remote) {
		if strings.HasPrefix(p, pathPrefix) {
			rest := strings.TrimPrefix(p, pathPrefix)
			rest = strings.TrimPrefix(rest, "/")
			if rest != "" && !strings.Contains(rest, "/") {
				names = append(names, rest)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) About(_ context.Context, remote string) (blobclient.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used uint64
	for _, v := range m.bucket(remote) {
		used += uint64(len(v))
	}
	total := m.totals[remote]
	if total == 0 {
		return blobclient.Usage{Used: used}, nil
	}
	free := uint64(0)
	if total > used {
		free = total - used
	}
	return blobclient.Usage{Used: used, Free: free, Total: total}, nil
}

func (m *Memory) Exists(ctx context.Context, remote, remotePath string) (bool, error) {
	m.mu.Lock()
	_, ok := m.bucket(remote)[remotePath]
	m.mu.Unlock()
	return ok, nil
}

var _ blobclient.Client = (*Memory)(nil)
