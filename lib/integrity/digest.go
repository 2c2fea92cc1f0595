// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Algorithm is the digest algorithm prefix used in the canonical
// string form. Only SHA-256 is supported; the prefix exists so the
// format can name a successor without breaking parsers.
const Algorithm = "sha256"

// Digest is a content digest in canonical "sha256:<hex>" form. The
// hex portion is always 64 lowercase characters.
type Digest string

// Hex returns the bare hex portion of the digest.
func (d Digest) Hex() string {
	return strings.TrimPrefix(string(d), Algorithm+":")
}

// String returns the canonical "sha256:<hex>" form.
func (d Digest) String() string {
	return string(d)
}

// MismatchError reports that a computed digest does not equal the
// expected one. It names the source that was digested so operators can
// tell which artifact failed.
type MismatchError struct {
	Source string
	Got    Digest
	Want   Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: got %s, want %s", e.Source, e.Got, e.Want)
}

// ParseDigest parses an expected digest in either "sha256:<hex>" or
// bare hex form, case-insensitively, and returns the canonical Digest.
func ParseDigest(s string) (Digest, error) {
	raw := strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(strings.ToLower(raw), Algorithm+":"); ok {
		raw = rest
	} else {
		raw = strings.ToLower(raw)
	}
	if len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("digest %q: hex portion is %d characters, want %d", s, len(raw), sha256.Size*2)
	}
	for _, c := range raw {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("digest %q: invalid hex character %q", s, c)
		}
	}
	return Digest(Algorithm + ":" + raw), nil
}

// DigestBytes computes the digest of a byte slice.
func DigestBytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest(fmt.Sprintf("%s:%x", Algorithm, sum))
}

// DigestFile computes the digest over a file's raw bytes. This is the
// digest form used for bundle archives.
func DigestFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for digest: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("digesting %s: %w", path, err)
	}
	return Digest(fmt.Sprintf("%s:%x", Algorithm, hasher.Sum(nil))), nil
}

// DigestDirectory computes the canonical digest of a directory source.
// Regular files are enumerated, sorted lexicographically by
// slash-separated relative path, and each contributes its path, its
// normalized mode (0755 when any executable bit is set, else 0644),
// and its content to the hash. Every field is length-prefixed so the
// concatenation is unambiguous. Symlinks and other irregular entries
// are not part of a directory source's identity and are skipped.
func DigestDirectory(root string) (Digest, error) {
	type entry struct {
		relPath string
		absPath string
		mode    string
	}

	var entries []entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		mode := "0644"
		if info.Mode()&0o111 != 0 {
			mode = "0755"
		}
		entries = append(entries, entry{
			relPath: filepath.ToSlash(rel),
			absPath: path,
			mode:    mode,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s for digest: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].relPath < entries[j].relPath
	})

	hasher := sha256.New()
	for _, e := range entries {
		writeFramed(hasher, []byte(e.relPath))
		writeFramed(hasher, []byte(e.mode))

		file, err := os.Open(e.absPath)
		if err != nil {
			return "", fmt.Errorf("opening %s for digest: %w", e.absPath, err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return "", fmt.Errorf("stating %s for digest: %w", e.absPath, err)
		}
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(info.Size()))
		hasher.Write(length[:])
		if _, err := io.Copy(hasher, file); err != nil {
			file.Close()
			return "", fmt.Errorf("digesting %s: %w", e.absPath, err)
		}
		file.Close()
	}

	return Digest(fmt.Sprintf("%s:%x", Algorithm, hasher.Sum(nil))), nil
}

// writeFramed writes a big-endian length prefix followed by the data.
func writeFramed(h hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
}

// VerifyFile checks a file's raw-byte digest against an expected value
// given in either accepted form. Returns a *MismatchError on failure.
func VerifyFile(path string, expected string) error {
	want, err := ParseDigest(expected)
	if err != nil {
		return err
	}
	got, err := DigestFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return &MismatchError{Source: path, Got: got, Want: want}
	}
	return nil
}

// VerifyDirectory checks a directory source's canonical digest against
// an expected value. Returns a *MismatchError on failure.
func VerifyDirectory(root string, expected string) error {
	want, err := ParseDigest(expected)
	if err != nil {
		return err
	}
	got, err := DigestDirectory(root)
	if err != nil {
		return err
	}
	if got != want {
		return &MismatchError{Source: root, Got: got, Want: want}
	}
	return nil
}
