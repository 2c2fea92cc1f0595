// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/matrix-foundation/mcpb/cmd/mcpb/cli"
	"github.com/matrix-foundation/mcpb/lib/install"
	"github.com/matrix-foundation/mcpb/lib/integrity"
	"github.com/matrix-foundation/mcpb/lib/plan"
)

func installCommand() *cli.Command {
	var (
		alias      string
		planPath   string
		force      bool
		noProbe    bool
		port       int
		envPairs   []string
		timeoutSec int
		configPath string
	)
	return &cli.Command{
		Name:    "install",
		Summary: "Install a bundle under the runners root",
		Description: `Verify, extract, and atomically install a bundle.

The target directory <root>/<alias>/<version>/ appears only when the
install is complete and verified; a failed install leaves it exactly
as it was. Unless --no-probe is given, the installed runner is probed
for health afterwards. A failed probe exits ` + fmt.Sprint(cli.ExitCodeProbe) + ` but does not undo
the install; a digest mismatch exits ` + fmt.Sprint(cli.ExitCodeDigest) + `.`,
		Usage: "mcpb install <bundle> --as <alias> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flags.StringVar(&alias, "as", "", "install alias (required unless --plan is given)")
			flags.StringVar(&planPath, "plan", "", "install from a previously emitted plan file")
			flags.BoolVar(&force, "force", false, "replace an existing install of the same version")
			flags.BoolVar(&noProbe, "no-probe", false, "skip the post-install health probe")
			flags.IntVar(&port, "port", 0, "port override injected into the probed process as PORT")
			flags.StringArrayVar(&envPairs, "env", nil, "extra KEY=VAL for the probed process (repeatable)")
			flags.IntVar(&timeoutSec, "timeout", 0, "probe timeout in seconds (default from config)")
			flags.StringVar(&configPath, "config", "", "config file path (default: $MCPB_CONFIG or built-in defaults)")
			return flags
		},
		Examples: []cli.Example{
			{Command: "mcpb install ./dist/bundle.zip --as hello"},
			{Command: "mcpb install ./dist/bundle.zip --as hello --force --no-probe"},
			{Command: "mcpb install --plan plan.json --env DEBUG=1 --port 9000"},
		},
		Run: func(args []string) error {
			logger := cli.NewCommandLogger().With("command", "install")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}

			var p *plan.InstallPlan
			switch {
			case planPath != "":
				if len(args) != 0 {
					return fmt.Errorf("--plan and a bundle argument are mutually exclusive")
				}
				p, err = plan.Load(planPath)
			case len(args) == 1:
				if alias == "" {
					return fmt.Errorf("--as is required")
				}
				p, err = plan.Emit(args[0], alias, !noProbe, logger)
			default:
				return fmt.Errorf("install takes one bundle locator or --plan, got %d args", len(args))
			}
			if err != nil {
				return err
			}

			root, err := cfg.RunnersRoot()
			if err != nil {
				return err
			}
			installer := &install.Installer{
				Root:   root,
				Limits: cfg.ExtractLimits(),
				Logger: logger,
				Prober: cfg.Prober(),
			}

			timeout := cfg.ProbeTimeout()
			if timeoutSec > 0 {
				timeout = time.Duration(timeoutSec) * time.Second
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			outcome, err := installer.Install(ctx, p, install.Options{
				Force:   force,
				NoProbe: noProbe,
				Port:    port,
				Env:     env,
				Timeout: timeout,
			})
			if err != nil {
				var mismatch *integrity.MismatchError
				if errors.As(err, &mismatch) {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					return &cli.ExitError{Code: cli.ExitCodeDigest}
				}
				return err
			}

			fmt.Printf("installed %s/%s at %s\n", p.Alias, p.Version, outcome.Path)
			if !outcome.Probe.Passed() {
				fmt.Fprintf(os.Stderr, "probe %s after %v\n%s",
					outcome.Probe.Status, outcome.Probe.Duration, outcome.Probe.LogExcerpt)
				return &cli.ExitError{Code: cli.ExitCodeProbe}
			}
			return nil
		},
	}
}
