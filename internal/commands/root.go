// Copyright 2026 The Flowmesh Authors
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

// Package commands implements the flowmesh CLI: a thin client over the
// flowmeshd control API.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:580"

// VersionInfo contains version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	server string
	asJSON bool
}

// NewRootCommand creates the flowmesh root command.
func NewRootCommand(info VersionInfo) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "flowmesh",
		Short:         "Control the flowmesh orchestrator daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("FLOWMESH_SERVER", defaultServer),
		"flowmeshd control API base URL")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Output raw JSON responses")

	root.AddCommand(
		newStartCommand(opts),
		newStopCommand(opts),
		newStatusCommand(opts),
		newSchedulerCommand(opts),
		newHealthCommand(opts),
		newVersionCommand(info),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printResponse renders a decoded API response either as indented JSON
// or as a flat key: value listing.
func printResponse(cmd *cobra.Command, opts *rootOptions, body map[string]any) error {
	if opts.asJSON {
		data, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	for _, key := range sortedKeys(body) {
		cmd.Printf("%s: %v\n", key, body[key])
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newVersionCommand(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("flowmesh version %s\n", info.Version)
			cmd.Printf("  commit:     %s\n", info.Commit)
			cmd.Printf("  build date: %s\n", info.BuildDate)
			return nil
		},
	}
}
