// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle packages a built server tree into a deterministic,
// content-addressed zip archive.
//
// Identical source content always produces a byte-identical archive
// and therefore an identical digest: entries are written in sorted
// path order, timestamps are pinned to a fixed epoch, modes are
// normalized, and the deflate stream comes from a fixed encoder at a
// fixed level. That determinism is what makes repeated installs
// idempotent and any downstream signing step meaningful.
package bundle
