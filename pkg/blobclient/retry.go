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

package blobclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/pkg/errtypes"
)

// RetryPolicy mirrors spec §7's transient-I/O retry parameters:
// delay_i = min(base * base_exp^i, max_delay), capped at max_retries.
type RetryPolicy struct {
	Base       time.Duration
	Exponent   float64
	Max        time.Duration
	MaxRetries uint64
}

// DefaultRetryPolicy is the spec's reference policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 1 * time.Second, Exponent: 2, Max: 60 * time.Second, MaxRetries: 3}
}

// retrying wraps a Client, retrying every call under an exponential
// backoff built from cenkalti/backoff, surfacing a final failure as
// *errtypes.Transient.
type retrying struct {
	inner  Client
	policy RetryPolicy
	log    zerolog.Logger
}

// WithRetry wraps inner so every operation is retried per policy.
func WithRetry(inner Client, policy RetryPolicy, log zerolog.Logger) Client {
	return &retrying{inner: inner, policy: policy, log: log}
}

func (r *retrying) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.Base
	b.Multiplier = r.policy.Exponent
	b.MaxInterval = r.policy.Max
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries instead
	return backoff.WithMaxRetries(b, r.policy.MaxRetries)
}

func (r *retrying) run(ctx context.Context, remote, op string, fn func() error) error {
	attempts := 0
	var permanent error
	err := backoff.Retry(func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			permanent = errtypes.Cancelled(op)
			return backoff.Permanent(permanent)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if isNotFound(err) {
			permanent = err
			return backoff.Permanent(err)
		}
		r.log.Warn().Str("remote", remote).Str("op", op).Int("attempt", attempts).Err(err).Msg("retrying after transient error")
		return err
	}, r.backoff())
	if err == nil {
		return nil
	}
	if permanent != nil {
		return permanent
	}
	return &errtypes.Transient{Remote: remote, Attempts: attempts, Err: err}
}

func isNotFound(err error) bool {
	var marker errtypes.IsNotFound
	return errors.As(err, &marker)
}

func (r *retrying) Upload(ctx context.Context, remote, remotePath string, data []byte) error {
	return r.run(ctx, remote, "upload", func() error { return r.inner.Upload(ctx, remote, remotePath, data) })
}

func (r *retrying) Download(ctx context.Context, remote, remotePath string) ([]byte, error) {
	var out []byte
	err := r.run(ctx, remote, "download", func() error {
		var innerErr error
		out, innerErr = r.inner.Download(ctx, remote, remotePath)
		return innerErr
	})
	return out, err
}

func (r *retrying) DownloadRange(ctx context.Context, remote, remotePath string, offset, length uint64) ([]byte, error) {
	var out []byte
	err := r.run(ctx, remote, "download_range", func() error {
		var innerErr error
		out, innerErr = r.inner.DownloadRange(ctx, remote, remotePath, offset, length)
		return innerErr
	})
	return out, err
}

func (r *retrying) Delete(ctx context.Context, remote, remotePath string) error {
	err := r.run(ctx, remote, "delete", func() error { return r.inner.Delete(ctx, remote, remotePath) })
	if isNotFound(err) {
		return nil // delete-not-found is recoverable, treated as idempotent success
	}
	return err
}

func (r *retrying) List(ctx context.Context, remote, pathPrefix string) ([]string, error) {
	var out []string
	err := r.run(ctx, remote, "list", func() error {
		var innerErr error
		out, innerErr = r.inner.List(ctx, remote, pathPrefix)
		return innerErr
	})
	return out, err
}

func (r *retrying) About(ctx context.Context, remote string) (Usage, error) {
	var out Usage
	err := r.run(ctx, remote, "about", func() error {
		var innerErr error
		out, innerErr = r.inner.About(ctx, remote)
		return innerErr
	})
	return out, err
}

func (r *retrying) Exists(ctx context.Context, remote, remotePath string) (bool, error) {
	var out bool
	err := r.run(ctx, remote, "exists", func() error {
		var innerErr error
		out, innerErr = r.inner.Exists(ctx, remote, remotePath)
		return innerErr
	})
	return out, err
}
