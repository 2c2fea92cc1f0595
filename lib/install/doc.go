// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package install places verified bundles under the runners root as
// immutable versioned directories.
//
// Every install is staged in a sibling directory and promoted with a
// single rename, so the final path <root>/<alias>/<version>/ is never
// observable in a partial state: it either holds the previous install
// (or nothing) or the complete new one. Racing installs of the same
// alias are serialized with an advisory file lock rather than left to
// the rename race.
package install
