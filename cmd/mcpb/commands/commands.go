// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the mcpb CLI command tree.
package commands

import (
	"fmt"
	"strings"

	"github.com/matrix-foundation/mcpb/cmd/mcpb/cli"
	"github.com/matrix-foundation/mcpb/lib/config"
)

// Root builds and returns the complete mcpb CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "mcpb",
		Description: `mcpb: package, install, and probe MCP server bundles.

Bundles are deterministic content-addressed archives. Installs are
atomic: a versioned directory under the runners root either holds a
complete verified install or nothing.`,
		Subcommands: []*cli.Command{
			buildCommand(),
			planCommand(),
			installCommand(),
			runCommand(),
			verifyCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Package a built server tree",
				Command:     "mcpb build ./my-server --out ./dist",
			},
			{
				Description: "Emit an install plan for a bundle",
				Command:     "mcpb plan ./dist/bundle.zip --as hello --out plan.json",
			},
			{
				Description: "Install a bundle and probe it",
				Command:     "mcpb install ./dist/bundle.zip --as hello",
			},
			{
				Description: "Run an installed server in the foreground",
				Command:     "mcpb run hello --port 9000",
			},
			{
				Description: "Verify a bundle against its sidecar digest",
				Command:     "mcpb verify ./dist/bundle.zip",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Printf("mcpb %s\n", toolVersion)
			return nil
		},
	}
}

// toolVersion is stamped by the release build via -ldflags.
var toolVersion = "dev"

// loadConfig resolves tool configuration for a command invocation.
func loadConfig(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}

// parseEnvPairs converts repeated --env KEY=VAL flags into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--env %q is not KEY=VAL", pair)
		}
		env[key] = value
	}
	return env, nil
}
