// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/matrix-foundation/mcpb/cmd/mcpb/cli"
	"github.com/matrix-foundation/mcpb/lib/config"
	"github.com/matrix-foundation/mcpb/lib/install"
	"github.com/matrix-foundation/mcpb/lib/probe"
)

func runCommand() *cli.Command {
	var (
		version    string
		probeOnly  bool
		port       int
		envPairs   []string
		timeoutSec int
		configPath string
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Run or probe an installed server",
		Description: `Launch an installed server in the foreground, or probe it.

The target is an installed alias (latest version unless --version is
given) or a direct path to an install directory. With --probe the
server is health-checked and terminated instead of left running; a
failed probe exits ` + fmt.Sprint(cli.ExitCodeProbe) + `.`,
		Usage: "mcpb run <alias-or-path> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.StringVar(&version, "version", "", "installed version (default: latest)")
			flags.BoolVar(&probeOnly, "probe", false, "probe for health instead of running in the foreground")
			flags.IntVar(&port, "port", 0, "port override injected into the process as PORT")
			flags.StringArrayVar(&envPairs, "env", nil, "extra KEY=VAL for the process (repeatable)")
			flags.IntVar(&timeoutSec, "timeout", 0, "probe timeout in seconds (default from config)")
			flags.StringVar(&configPath, "config", "", "config file path (default: $MCPB_CONFIG or built-in defaults)")
			return flags
		},
		Examples: []cli.Example{
			{Command: "mcpb run hello --port 9000"},
			{Command: "mcpb run hello --version 0.1.0 --probe"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("run takes exactly one alias or path, got %d args", len(args))
			}
			logger := cli.NewCommandLogger().With("command", "run")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}

			installedPath, err := resolveInstalled(cfg, args[0], version)
			if err != nil {
				return err
			}

			prober := cfg.Prober()
			prober.Logger = logger
			overrides := probe.Overrides{Port: port, Env: env}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if probeOnly {
				timeout := cfg.ProbeTimeout()
				if timeoutSec > 0 {
					timeout = time.Duration(timeoutSec) * time.Second
				}
				result, err := prober.Probe(ctx, installedPath, overrides, timeout)
				if err != nil {
					return err
				}
				fmt.Printf("probe %s after %v\n", result.Status, result.Duration)
				if !result.Passed() {
					fmt.Fprint(os.Stderr, result.LogExcerpt)
					return &cli.ExitError{Code: cli.ExitCodeProbe}
				}
				return nil
			}

			return prober.Run(ctx, installedPath, overrides)
		},
	}
}

// resolveInstalled maps an alias (plus optional version) or a direct
// directory path to an install directory.
func resolveInstalled(cfg *config.Config, target, version string) (string, error) {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return target, nil
	}
	root, err := cfg.RunnersRoot()
	if err != nil {
		return "", err
	}
	if version == "" {
		version, err = install.LatestVersion(root, target)
		if err != nil {
			return "", err
		}
	}
	path := install.InstalledPath(root, target, version)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s/%s is not installed: %w", target, version, err)
	}
	return path, nil
}
