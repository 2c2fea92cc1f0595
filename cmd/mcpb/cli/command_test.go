// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testTree(ran *string) *Command {
	return &Command{
		Name: "mcpb",
		Subcommands: []*Command{
			{
				Name:    "install",
				Summary: "Install a bundle",
				Flags: func() *pflag.FlagSet {
					flags := pflag.NewFlagSet("install", pflag.ContinueOnError)
					flags.Bool("force", false, "")
					return flags
				},
				Run: func(args []string) error {
					*ran = "install " + strings.Join(args, " ")
					return nil
				},
			},
			{
				Name:    "verify",
				Summary: "Verify a bundle",
				Run: func(args []string) error {
					*ran = "verify"
					return nil
				},
			},
		},
	}
}

func TestExecuteDispatches(t *testing.T) {
	var ran string
	root := testTree(&ran)
	if err := root.Execute([]string{"install", "--force", "bundle.zip"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if ran != "install bundle.zip" {
		t.Errorf("ran = %q, want the install handler with positional args", ran)
	}
}

func TestExecuteUnknownCommandSuggests(t *testing.T) {
	var ran string
	root := testTree(&ran)
	err := root.Execute([]string{"instal"})
	if err == nil {
		t.Fatal("Execute accepted an unknown command")
	}
	if !strings.Contains(err.Error(), `"install"`) {
		t.Errorf("error %q does not suggest the close match", err)
	}
}

func TestExecuteNoSubcommand(t *testing.T) {
	var ran string
	root := testTree(&ran)
	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute with no subcommand should fail after printing help")
	}
}

func TestExecuteUnknownFlag(t *testing.T) {
	var ran string
	root := testTree(&ran)
	err := root.Execute([]string{"install", "--frce"})
	if err == nil {
		t.Fatal("Execute accepted an unknown flag")
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error %q lacks the --help pointer", err)
	}
}

func TestPrintHelpListsSubcommands(t *testing.T) {
	var ran string
	root := testTree(&ran)
	var out strings.Builder
	root.PrintHelp(&out)
	help := out.String()
	for _, want := range []string{"install", "verify", "Install a bundle"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q:\n%s", want, help)
		}
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"install", "install", 0},
		{"instal", "install", 1},
		{"veryfi", "verify", 2},
		{"plan", "run", 3},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
