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

// Package fsclient is a local-disk blobclient.Client: each configured
// remote name is a subdirectory under a base directory. It exists so
// cmd/poold has something concrete to run against out of the box — the
// rclone-backed Client the pool is designed around is explicitly outside
// this repository's scope (see blobclient.Client's doc comment), and
// callers who want remote backends wire their own Client in its place.
// The per-remote-subdirectory layout follows cs3org/reva's storage/fs
// drivers, which likewise root every backend at one directory per space.
package fsclient

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/errtypes"
)

// Client stores each remote's objects under {baseDir}/{remote}/...,
// mirroring the object path as a nested file path.
type Client struct {
	baseDir string
}

// New builds a Client rooted at baseDir, creating one subdirectory per
// named remote.
func New(baseDir string, remotes []string) (*Client, error) {
	for _, r := range remotes {
		if err := os.MkdirAll(filepath.Join(baseDir, r), 0o755); err != nil {
			return nil, err
		}
	}
	return &Client{baseDir: baseDir}, nil
}

func (c *Client) resolve(remote, remotePath string) string {
	return filepath.Join(c.baseDir, remote, filepath.FromSlash(remotePath))
}

func (c *Client) Upload(_ context.Context, remote, remotePath string, data []byte) error {
	full := c.resolve(remote, remotePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (c *Client) Download(_ context.Context, remote, remotePath string) ([]byte, error) {
	data, err := os.ReadFile(c.resolve(remote, remotePath))
	if os.IsNotExist(err) {
		return nil, errtypes.NotFound(remote + ":" + remotePath)
	}
	return data, err
}

func (c *Client) DownloadRange(ctx context.Context, remote, remotePath string, offset, length uint64) ([]byte, error) {
	f, err := os.Open(c.resolve(remote, remotePath))
	if os.IsNotExist(err) {
		return nil, errtypes.NotFound(remote + ":" + remotePath)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	if offset >= size {
		return []byte{}, nil
	}
	if offset+length > size {
		length = size - offset
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

func (c *Client) Delete(_ context.Context, remote, remotePath string) error {
	err := os.Remove(c.resolve(remote, remotePath))
	if os.IsNotExist(err) {
		return errtypes.NotFound(remote + ":" + remotePath)
	}
	return err
}

func (c *Client) List(_ context.Context, remote, pathPrefix string) ([]string, error) {
	dir := c.resolve(remote, pathPrefix)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (c *Client) About(_ context.Context, remote string) (blobclient.Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(filepath.Join(c.baseDir, remote), &stat); err != nil {
		return blobclient.Usage{}, nil
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free
	return blobclient.Usage{Used: used, Free: free, Total: total}, nil
}

func (c *Client) Exists(_ context.Context, remote, remotePath string) (bool, error) {
	_, err := os.Stat(c.resolve(remote, remotePath))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoteNames lists the configured remote subdirectories under baseDir,
// in lexical order, for callers that want to discover remotes from disk
// rather than configuration.
func RemoteNames(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

var _ blobclient.Client = (*Client)(nil)
