// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// RunnerSpec is the process-launch description for a server. It is
// produced by buildpacks and consumed read-only by the packager and
// the prober.
type RunnerSpec struct {
	Type    string            `json:"type,omitempty"`
	Command []string          `json:"command"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Workdir string            `json:"workdir,omitempty"`

	Raw []byte `json:"-"`
}

// ParseRunnerSpec decodes a runner spec, tolerating JSONC extensions.
// The original bytes are retained in Raw.
func ParseRunnerSpec(data []byte) (*RunnerSpec, error) {
	var spec RunnerSpec
	if err := json.Unmarshal(jsonc.ToJSON(data), &spec); err != nil {
		return nil, fmt.Errorf("decoding runner spec: %w", err)
	}
	spec.Raw = data
	return &spec, nil
}

// LoadRunnerSpec reads and parses a runner spec file. A missing file
// returns an error wrapping both ErrMissing and os.ErrNotExist.
func LoadRunnerSpec(path string) (*RunnerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w (%w)", path, ErrMissing, err)
		}
		return nil, fmt.Errorf("reading runner spec: %w", err)
	}
	spec, err := ParseRunnerSpec(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return spec, nil
}

// Argv returns the full launch argv (command followed by args).
func (s *RunnerSpec) Argv() ([]string, error) {
	if len(s.Command) == 0 || s.Command[0] == "" {
		return nil, fmt.Errorf("runner spec has no launch command")
	}
	argv := make([]string, 0, len(s.Command)+len(s.Args))
	argv = append(argv, s.Command...)
	argv = append(argv, s.Args...)
	return argv, nil
}
