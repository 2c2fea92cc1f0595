// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads the two metadata documents that travel with
// every server bundle: the server manifest (mcp.server.json) and the
// runner spec (runner.json).
//
// Both documents are owned by external tooling (buildpacks and schema
// validators); this package treats them as opaque beyond the fields the
// packaging, install, and probe pipeline needs. Files are parsed with
// JSONC tolerance — // line comments, /* block comments */, and
// trailing commas are stripped before decoding — so hand-edited
// documents keep working.
package manifest
