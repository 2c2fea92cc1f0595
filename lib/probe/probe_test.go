// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestMain doubles as the probed child: when re-executed with
// childModeEnv set, the test binary serves a health endpoint instead of
// running tests.
const childModeEnv = "PROBE_TEST_CHILD_MODE"

func TestMain(m *testing.M) {
	if os.Getenv(childModeEnv) == "serve" {
		serveHealth()
		return
	}
	os.Exit(m.Run())
}

func serveHealth() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	addr := net.JoinHostPort("127.0.0.1", os.Getenv("PORT"))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// writeInstalled lays out a minimal installed runner directory.
func writeInstalled(t *testing.T, transportType string, command []string, url string) string {
	t.Helper()
	dir := t.TempDir()

	doc := map[string]any{
		"name":    "probe-target",
		"version": "0.1.0",
		"transports": []map[string]any{{
			"type":    transportType,
			"command": command,
			"url":     url,
			"health":  "/health",
		}},
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mcp.server.json"), docBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	runner := map[string]any{"type": transportType, "command": command, "url": url}
	runnerBytes, err := json.Marshal(runner)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "runner.json"), runnerBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func TestProbeStdioPasses(t *testing.T) {
	dir := writeInstalled(t, "stdio", []string{"/bin/sh", "-c", "sleep 30"}, "")
	prober := &Prober{GraceWindow: 200 * time.Millisecond, TerminateGrace: time.Second}

	start := time.Now()
	result, err := prober.Probe(context.Background(), dir, Overrides{}, 10*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Passed() {
		t.Errorf("Status = %s, want passed", result.Status)
	}
	// The call must return promptly after the grace window, which
	// proves the sleeping child was terminated rather than awaited.
	if elapsed > 5*time.Second {
		t.Errorf("probe took %v; child was not terminated", elapsed)
	}
}

func TestProbeStdioCrash(t *testing.T) {
	dir := writeInstalled(t, "stdio", []string{"/bin/sh", "-c", "echo boom >&2; exit 3"}, "")
	prober := &Prober{GraceWindow: 2 * time.Second}

	result, err := prober.Probe(context.Background(), dir, Overrides{}, 10*time.Second)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.LogExcerpt, "boom") {
		t.Errorf("LogExcerpt = %q, want it to contain the child's stderr", result.LogExcerpt)
	}
}

func TestProbeEndpointPasses(t *testing.T) {
	port := freePort(t)
	dir := writeInstalled(t, "sse", []string{os.Args[0]},
		fmt.Sprintf("http://127.0.0.1:%d/", port))
	prober := &Prober{PollInterval: 50 * time.Millisecond, TerminateGrace: time.Second}

	result, err := prober.Probe(context.Background(), dir, Overrides{
		Port: port,
		Env:  map[string]string{childModeEnv: "serve"},
	}, 10*time.Second)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Passed() {
		t.Errorf("Status = %s, want passed (log: %s)", result.Status, result.LogExcerpt)
	}
}

func TestProbeEndpointTimeoutIsBounded(t *testing.T) {
	port := freePort(t)
	// The child never serves anything, so health never succeeds.
	dir := writeInstalled(t, "sse", []string{"/bin/sh", "-c", "sleep 30"},
		fmt.Sprintf("http://127.0.0.1:%d/", port))
	prober := &Prober{
		PollInterval:    100 * time.Millisecond,
		MaxPollInterval: 200 * time.Millisecond,
		TerminateGrace:  time.Second,
	}

	timeout := 500 * time.Millisecond
	start := time.Now()
	result, err := prober.Probe(context.Background(), dir, Overrides{Port: port}, timeout)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Errorf("Status = %s, want timed-out", result.Status)
	}
	// Bounded by timeout plus one poll interval plus termination slack.
	if elapsed > timeout+prober.MaxPollInterval+prober.TerminateGrace+2*time.Second {
		t.Errorf("probe took %v, not bounded by the timeout", elapsed)
	}
	if result.Duration > elapsed {
		t.Errorf("reported duration %v exceeds wall time %v", result.Duration, elapsed)
	}
}

func TestProbePortInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	dir := writeInstalled(t, "sse", []string{"/bin/sh", "-c", "sleep 30"},
		fmt.Sprintf("http://127.0.0.1:%d/", port))
	prober := &Prober{}

	_, err = prober.Probe(context.Background(), dir, Overrides{Port: port}, time.Second)
	var portErr *PortInUseError
	if !errors.As(err, &portErr) {
		t.Fatalf("error = %v, want *PortInUseError", err)
	}
}

func TestProbeCancellation(t *testing.T) {
	dir := writeInstalled(t, "stdio", []string{"/bin/sh", "-c", "sleep 30"}, "")
	prober := &Prober{GraceWindow: 20 * time.Second, TerminateGrace: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := prober.Probe(ctx, dir, Overrides{}, 30*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Passed() {
		t.Error("cancelled probe reported passed")
	}
	if elapsed > 5*time.Second {
		t.Errorf("cancellation took %v to take effect", elapsed)
	}
}

func TestProbeMissingMetadata(t *testing.T) {
	prober := &Prober{}
	_, err := prober.Probe(context.Background(), t.TempDir(), Overrides{}, time.Second)
	if err == nil {
		t.Fatal("Probe succeeded against an empty directory")
	}
}

func TestSkippedResult(t *testing.T) {
	result := Skipped()
	if !result.Passed() {
		t.Error("skipped probe must report passed")
	}
	if result.Duration != 0 {
		t.Errorf("Duration = %v, want 0", result.Duration)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"durationMs":0`) {
		t.Errorf("encoded result %s lacks durationMs 0", data)
	}
	if !strings.Contains(string(data), `"status":"passed"`) {
		t.Errorf("encoded result %s lacks passed status", data)
	}
}

func TestTailBufferWraps(t *testing.T) {
	ring := newTailBuffer(8)
	ring.Write([]byte("abc"))
	if got := string(ring.Tail()); got != "abc" {
		t.Errorf("Tail() = %q, want abc", got)
	}
	ring.Write([]byte("defghijk"))
	if got := string(ring.Tail()); got != "defghijk" {
		t.Errorf("Tail() = %q, want the last 8 bytes", got)
	}
	ring.Write([]byte("XY"))
	if got := string(ring.Tail()); got != "fghijkXY" {
		t.Errorf("Tail() = %q, want fghijkXY", got)
	}
}
