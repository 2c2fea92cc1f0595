// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the mcpb tool.
//
// Configuration is loaded from a single file specified by either the
// MCPB_CONFIG environment variable or a --config flag. There are no
// fallbacks, no ~/.config discovery, and no automatic file search; an
// unset path means the built-in defaults apply unchanged. This keeps
// configuration deterministic and auditable with no hidden overrides.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Extract, Probe
//   - [Default] -- returns a Config with full working defaults
//   - [Load] -- the single entry point for loading
//
// This package depends only on lib/extract and lib/probe, for
// converting configured bounds into their native types.
package config
