// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// Exit codes the mcpb binary maps failures onto. Generic errors exit 1;
// these distinguish the failure classes scripts branch on.
const (
	ExitCodeDigest = 3
	ExitCodeProbe  = 4
)

// ExitError signals a non-zero exit code without printing an extra
// error message: the command is expected to have already written its
// own output. main checks for the ExitCode method on returned errors to
// distinguish "handled non-zero exit" from "unexpected error to
// display".
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
