// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe launches an installed runner and asserts it is healthy
// within a bounded window.
//
// Two activities run for the duration of a probe: the supervised child
// process and the health-polling loop. A single context governs both,
// so no child ever outlives the call — on success, timeout, or caller
// cancellation the child is sent SIGTERM, given a short grace period,
// and then killed.
package probe
