// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import "fmt"

// PathTraversalError reports an entry whose declared path would land
// outside the target root (absolute, empty, or escaping via ".."
// segments).
type PathTraversalError struct {
	Entry string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("entry %q escapes the target root", e.Entry)
}

// SymlinkEscapeError reports a symlink entry whose resolved target
// falls outside the target root.
type SymlinkEscapeError struct {
	Entry  string
	Target string
}

func (e *SymlinkEscapeError) Error() string {
	return fmt.Sprintf("symlink entry %q points outside the target root (target %q)", e.Entry, e.Target)
}

// EntryTooLargeError reports an entry whose declared uncompressed size
// exceeds the per-entry cap. Declared sizes are untrusted, so this is
// only a fast-fail; actual bytes are still capped during the copy.
type EntryTooLargeError struct {
	Entry string
	Size  int64
	Limit int64
}

func (e *EntryTooLargeError) Error() string {
	return fmt.Sprintf("entry %q declares %d bytes, over the %d byte per-entry cap", e.Entry, e.Size, e.Limit)
}

// BombDetectedError reports that actual decompressed output hit a byte
// cap mid-copy. The entry's declared size was within limits, so this
// is the decompression-bomb case.
type BombDetectedError struct {
	Entry   string
	Written int64
	Limit   int64
}

func (e *BombDetectedError) Error() string {
	return fmt.Sprintf("entry %q exceeded the %d byte cap after %d bytes written", e.Entry, e.Limit, e.Written)
}

// TooManyEntriesError reports an archive with more entries than the
// configured maximum.
type TooManyEntriesError struct {
	Count int
	Limit int
}

func (e *TooManyEntriesError) Error() string {
	return fmt.Sprintf("archive has %d entries, over the %d entry cap", e.Count, e.Limit)
}
