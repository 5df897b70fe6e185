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

// Package plugin implements the synchronous named-hook registry (C15).
package plugin

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hook names one of the fixed extension points, per spec §4.15.
type Hook string

const (
	PreUpload     Hook = "PRE_UPLOAD"
	PostUpload    Hook = "POST_UPLOAD"
	PreDownload   Hook = "PRE_DOWNLOAD"
	PostDownload  Hook = "POST_DOWNLOAD"
	PreDelete     Hook = "PRE_DELETE"
	PostDelete    Hook = "POST_DELETE"
	PreChunk      Hook = "PRE_CHUNK"
	PostChunk     Hook = "POST_CHUNK"
	PreBalance    Hook = "PRE_BALANCE"
	PostBalance   Hook = "POST_BALANCE"
	FileVerified  Hook = "FILE_VERIFIED"
	FileRepaired  Hook = "FILE_REPAIRED"
	ChunkMissing  Hook = "CHUNK_MISSING"
	RemoteError   Hook = "REMOTE_ERROR"
)

// Context is the mutable key/value bag passed through a hook chain. A
// handler may return a replacement Context to pass downstream.
type Context map[string]any

// Handler is one registered hook callback.
type Handler func(Context) (Context, error)

// Registry holds the named hook handlers and invokes them synchronously
// on the calling goroutine, logging (not propagating) handler errors so
// the remaining handlers for that hook still run.
type Registry struct {
	log      zerolog.Logger
	handlers map[Hook][]Handler
}

// New builds an empty Registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{log: log, handlers: map[Hook][]Handler{}}
}

// Register appends h to the handler chain for hook.
func (r *Registry) Register(hook Hook, h Handler) {
	r.handlers[hook] = append(r.handlers[hook], h)
}

// Invoke runs every handler registered for hook in registration order,
// threading the (possibly replaced) Context through the chain. A
// handler's correlation_id, if absent, is stamped once at the start of
// the call — carried over from the original project's plugin_system
// tracing (SPEC_FULL.md §C), not named in spec §4.15 itself.
func (r *Registry) Invoke(hook Hook, ctx Context) Context {
	if ctx == nil {
		ctx = Context{}
	}
	if _, ok := ctx["correlation_id"]; !ok {
		ctx["correlation_id"] = uuid.NewString()
	}

	for _, h := range r.handlers[hook] {
		next, err := h(ctx)
		if err != nil {
			r.log.Warn().Str("hook", string(hook)).Err(err).Msg("plugin hook handler failed, continuing")
			continue
		}
		if next != nil {
			ctx = next
		}
	}
	return ctx
}
