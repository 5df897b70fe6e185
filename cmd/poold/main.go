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

// Command poold is the pool daemon: it wires config, the storage
// backend, every C1-C15 component, and the WebDAV and REST frontends,
// then serves both until told to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "poold",
	Short: "rclonepool daemon: chunked, load-balanced, redundant object pool over rclone remotes",
	Example: `  # run with defaults plus a config file
  poold --config /etc/rclonepool/config.yaml

  # remotes, ports and everything else may also come from RCLONEPOOL_* env vars`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file (optional; env and defaults still apply)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
