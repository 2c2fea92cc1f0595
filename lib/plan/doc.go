// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan derives declarative install plans from packaged bundles.
//
// A plan is pure data: alias, version, source locator, expected digest,
// and an ordered step list. Emitting one reads the bundle and its
// sidecar digest file but mutates nothing; all side effects happen when
// the installer consumes the plan.
package plan
