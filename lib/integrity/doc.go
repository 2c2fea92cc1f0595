// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package integrity computes and checks content digests for bundles
// and installed runner trees.
//
// The external digest format is "sha256:<hex>". Bundle archives are
// digested over their raw bytes; directory sources are digested over a
// canonical reconstruction (entries sorted by relative path, each
// contributing path, normalized mode, and content) so two trees with
// identical content always produce identical digests regardless of
// filesystem iteration order.
//
// Lock records additionally carry per-file keyed BLAKE3 hashes
// (domain-separated) so an installed tree can be deep-verified long
// after the original bundle is gone.
package integrity
