// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// fileDomainKey is the 32-byte key for BLAKE3 keyed hashing of
// installed files. Domain separation keeps these hashes distinct from
// any other BLAKE3 use; the key bytes are the ASCII domain name,
// zero-padded, so it stays inspectable in hex dumps. Changing it
// invalidates every recorded file hash.
var fileDomainKey = [32]byte{
	'm', 'a', 't', 'r', 'i', 'x', '.', 'r', 'u', 'n', 'n', 'e', 'r', '.',
	'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashFileBLAKE3 computes the keyed BLAKE3 hash of a file's content
// and returns it hex-encoded. These hashes are recorded per file in
// install lock records and checked by deep verification.
func HashFileBLAKE3(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for file hash: %w", path, err)
	}
	defer file.Close()
	return hashReaderBLAKE3(file)
}

// HashBytesBLAKE3 computes the keyed BLAKE3 hash of a byte slice and
// returns it hex-encoded.
func HashBytesBLAKE3(data []byte) string {
	hasher := newFileHasher()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func hashReaderBLAKE3(r io.Reader) (string, error) {
	hasher := newFileHasher()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func newFileHasher() *blake3.Hasher {
	// NewKeyed only fails for a wrong key length, which the fixed-size
	// array rules out.
	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		panic("integrity: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}
