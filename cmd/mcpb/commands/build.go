// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/matrix-foundation/mcpb/cmd/mcpb/cli"
	"github.com/matrix-foundation/mcpb/lib/bundle"
	"github.com/matrix-foundation/mcpb/lib/manifest"
)

func buildCommand() *cli.Command {
	var (
		outputDir   string
		name        string
		entrypoints []string
	)
	return &cli.Command{
		Name:    "build",
		Summary: "Package a server tree into a deterministic bundle",
		Description: `Package a built server tree into a deterministic zip bundle.

The source directory must contain mcp.server.json and runner.json;
both are embedded verbatim as top-level archive entries. The bundle's
sha256 digest is written to a sidecar file next to the archive.`,
		Usage: "mcpb build <source-dir> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("build", pflag.ContinueOnError)
			flags.StringVar(&outputDir, "out", "dist", "output directory for the bundle and sidecar")
			flags.StringVar(&name, "name", "", "archive base name (default: the manifest's name)")
			flags.StringArrayVar(&entrypoints, "entrypoint", nil, "archive path that keeps its executable bit (repeatable)")
			return flags
		},
		Examples: []cli.Example{
			{Command: "mcpb build ./my-server --out ./dist --entrypoint server.py"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("build takes exactly one source directory, got %d args", len(args))
			}
			sourceDir := args[0]
			logger := cli.NewCommandLogger().With("command", "build")

			doc, err := manifest.Load(filepath.Join(sourceDir, manifest.ManifestFileName))
			if err != nil {
				return err
			}
			runner, err := manifest.LoadRunnerSpec(filepath.Join(sourceDir, manifest.RunnerSpecFileName))
			if err != nil {
				return err
			}
			if name == "" {
				name = doc.Name
			}

			result, err := bundle.Build(sourceDir, doc, runner, bundle.Options{
				OutputDir:   outputDir,
				Name:        name,
				Entrypoints: entrypoints,
			})
			if err != nil {
				return err
			}

			logger.Info("bundle built",
				"path", result.Path, "digest", result.Digest, "files", result.FileCount)
			fmt.Printf("%s\t%s\n", result.Path, result.Digest)
			return nil
		},
	}
}
