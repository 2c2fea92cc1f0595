// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package extract materializes untrusted bundle content onto disk
// without letting it escape the target directory.
//
// Every entry path is checked against the target root before a single
// byte is written: absolute paths, empty names, and paths that resolve
// outside the root after normalization are rejected (zip-slip).
// Symlink entries whose targets escape the root are rejected. Byte
// caps are enforced against actual bytes written — declared sizes in
// archive headers are untrusted — and an entry-count cap bounds
// degenerate archives.
//
// Any rejection aborts the whole extraction and removes the target
// root; partial content is never left behind for a caller to promote.
package extract
