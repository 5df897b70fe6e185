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

// Package blobclient defines the uniform per-remote byte-I/O contract
// (C1). The concrete rclone-backed implementation is outside this
// repository's scope; callers wire in whatever implements Client —
// tests use the in-memory double in blobclienttest.
package blobclient

import "context"

// Usage reports a remote's reported capacity, per about().
type Usage struct {
	Used  uint64
	Free  uint64
	Total uint64
}

// Client is the uniform per-remote byte I/O contract (spec §4.1). Every
// method must be safe to call concurrently from multiple goroutines.
// Implementations are expected to apply their own per-call timeout; the
// reference bound is 10 minutes per primitive call.
type Client interface {
	// Upload writes data to remotePath on remote.
	Upload(ctx context.Context, remote, remotePath string, data []byte) error
	// Download reads the full object at remotePath on remote.
	Download(ctx context.Context, remote, remotePath string) ([]byte, error)
	// DownloadRange reads length bytes starting at offset. Implementations
	// SHOULD use a true server-side range when the remote supports it and
	// MUST otherwise emulate it by downloading and slicing.
	DownloadRange(ctx context.Context, remote, remotePath string, offset, length uint64) ([]byte, error)
	// Delete removes remotePath. A not-found error is recoverable: callers
	// treat delete as idempotent and do not surface it as failure.
	Delete(ctx context.Context, remote, remotePath string) error
	// List returns the file names directly under pathPrefix. A prefix
	// that does not exist is reported like an empty one: no names and a
	// nil error. A non-nil error means the listing itself failed.
	List(ctx context.Context, remote, pathPrefix string) ([]string, error)
	// About reports used/free/total bytes. Implementations MAY return all
	// zeros when the remote does not expose usage accounting.
	About(ctx context.Context, remote string) (Usage, error)
	// Exists reports whether remotePath is present on remote. It MAY be
	// implemented as a one-byte range read.
	Exists(ctx context.Context, remote, remotePath string) (bool, error)
}
