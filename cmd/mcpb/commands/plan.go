// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/matrix-foundation/mcpb/cmd/mcpb/cli"
	"github.com/matrix-foundation/mcpb/lib/plan"
)

func planCommand() *cli.Command {
	var (
		alias   string
		noProbe bool
		outPath string
	)
	return &cli.Command{
		Name:    "plan",
		Summary: "Emit a declarative install plan for a bundle",
		Description: `Derive an install plan from a bundle archive or directory.

The plan names the alias, resolved version, source locator, expected
digest, and the ordered install steps. It is written as JSON to the
--out path, or to stdout when no path is given.`,
		Usage: "mcpb plan <bundle> --as <alias> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			flags.StringVar(&alias, "as", "", "install alias (required)")
			flags.BoolVar(&noProbe, "no-probe", false, "omit the probe step from the plan")
			flags.StringVar(&outPath, "out", "", "plan file path (default: stdout)")
			return flags
		},
		Examples: []cli.Example{
			{Command: "mcpb plan ./dist/bundle.zip --as hello --out plan.json"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("plan takes exactly one bundle locator, got %d args", len(args))
			}
			if alias == "" {
				return fmt.Errorf("--as is required")
			}
			logger := cli.NewCommandLogger().With("command", "plan")

			p, err := plan.Emit(args[0], alias, !noProbe, logger)
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := p.Write(outPath); err != nil {
					return err
				}
				logger.Info("plan written", "path", outPath, "alias", p.Alias, "version", p.Version)
				return nil
			}

			data, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding plan: %w", err)
			}
			data = append(data, '\n')
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}
