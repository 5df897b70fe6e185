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

// Package log builds the zerolog loggers handed to every component.
// There is no package-level logger: New is called once per component at
// wiring time in cmd/poold, and the *zerolog.Logger is carried as a
// field, never reached for as global state.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Mode selects console (dev) or JSON (prod) output.
type Mode string

const (
	// ModeDev prints a human-readable console line per record.
	ModeDev Mode = "dev"
	// ModeProd prints one JSON object per record.
	ModeProd Mode = "prod"
)

// Root builds the process-wide root logger. Call once at startup and
// derive every component logger from it with New.
func Root(mode Mode, level zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if mode == ModeDev || mode == "" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// New derives a component-scoped logger carrying a "component" field.
func New(root zerolog.Logger, component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}
