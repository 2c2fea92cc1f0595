// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/matrix-foundation/mcpb/cmd/mcpb/cli"
	"github.com/matrix-foundation/mcpb/lib/install"
	"github.com/matrix-foundation/mcpb/lib/integrity"
)

func verifyCommand() *cli.Command {
	var (
		expected   string
		installed  bool
		version    string
		configPath string
	)
	return &cli.Command{
		Name:    "verify",
		Summary: "Verify a bundle or an installed runner",
		Description: `Verify integrity.

For a bundle, the archive's sha256 digest is checked against --digest,
or against the .sha256 sidecar when no digest is given. With
--installed the target is an installed alias instead: every file is
re-hashed and checked against the install's lock record. Any mismatch
exits ` + fmt.Sprint(cli.ExitCodeDigest) + `.`,
		Usage: "mcpb verify <bundle-or-alias> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flags.StringVar(&expected, "digest", "", "expected digest (sha256:<hex> or bare hex)")
			flags.BoolVar(&installed, "installed", false, "deep-verify an installed alias against its lock record")
			flags.StringVar(&version, "version", "", "installed version (default: latest)")
			flags.StringVar(&configPath, "config", "", "config file path (default: $MCPB_CONFIG or built-in defaults)")
			return flags
		},
		Examples: []cli.Example{
			{Command: "mcpb verify ./dist/bundle.zip"},
			{Command: "mcpb verify ./dist/bundle.zip --digest sha256:ab12..."},
			{Command: "mcpb verify hello --installed"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("verify takes exactly one target, got %d args", len(args))
			}
			target := args[0]

			if installed {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				installedPath, err := resolveInstalled(cfg, target, version)
				if err != nil {
					return err
				}
				if err := install.VerifyInstalled(installedPath); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					return &cli.ExitError{Code: cli.ExitCodeDigest}
				}
				fmt.Printf("ok\t%s\n", installedPath)
				return nil
			}

			want := expected
			if want == "" {
				sidecar, err := integrity.ReadSidecar(target)
				if err != nil {
					return fmt.Errorf("no --digest given and no sidecar found: %w", err)
				}
				want = string(sidecar)
			}
			if err := integrity.VerifyFile(target, want); err != nil {
				var mismatch *integrity.MismatchError
				if errors.As(err, &mismatch) {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					return &cli.ExitError{Code: cli.ExitCodeDigest}
				}
				return err
			}
			fmt.Printf("ok\t%s\n", target)
			return nil
		},
	}
}
