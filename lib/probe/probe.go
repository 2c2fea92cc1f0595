// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/matrix-foundation/mcpb/lib/manifest"
)

// Status classifies a probe outcome.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed-out"
)

// PortInUseError reports that the health port was already bound before
// the child was launched.
type PortInUseError struct {
	Address string
	Err     error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port already in use at %s: %v", e.Address, e.Err)
}

func (e *PortInUseError) Unwrap() error { return e.Err }

// Result is the outcome of one probe.
type Result struct {
	Status Status

	// Duration is how long the probe ran. Zero for a skipped probe.
	Duration time.Duration

	// ExitCode is the child's exit code when it exited before the probe
	// concluded; -1 otherwise.
	ExitCode int

	// LogExcerpt holds the tail of the child's combined output.
	LogExcerpt string
}

// Passed reports whether the probe (or its skip) counts as healthy.
func (r *Result) Passed() bool { return r.Status == StatusPassed }

// MarshalJSON emits the wire form with the duration in integer
// milliseconds.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status     Status `json:"status"`
		DurationMs int64  `json:"durationMs"`
		ExitCode   int    `json:"exitCode,omitempty"`
		LogExcerpt string `json:"logExcerpt,omitempty"`
	}{
		Status:     r.Status,
		DurationMs: r.Duration.Milliseconds(),
		ExitCode:   r.ExitCode,
		LogExcerpt: r.LogExcerpt,
	})
}

// Skipped returns the result reported when probing is disabled: passed,
// with zero duration.
func Skipped() *Result {
	return &Result{Status: StatusPassed, ExitCode: -1}
}

// Overrides adjusts the probed child's environment. Values here are
// injected into the child only, never into the probing process.
type Overrides struct {
	// Port overrides the health port. Injected as PORT.
	Port int

	// Env is extra KEY=VAL pairs for the child.
	Env map[string]string
}

// Prober runs health probes against installed runners. The zero value
// is usable; unset fields take defaults.
type Prober struct {
	// GraceWindow is how long a stdio child must survive to pass.
	// Default 2s.
	GraceWindow time.Duration

	// PollInterval is the initial health-poll spacing, doubled after
	// each failure up to MaxPollInterval. Defaults 250ms and 2s.
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	// TerminateGrace is how long a child gets between SIGTERM and
	// SIGKILL. Default 3s.
	TerminateGrace time.Duration

	Logger *slog.Logger
}

func (p *Prober) graceWindow() time.Duration {
	if p.GraceWindow > 0 {
		return p.GraceWindow
	}
	return 2 * time.Second
}

func (p *Prober) pollInterval() time.Duration {
	if p.PollInterval > 0 {
		return p.PollInterval
	}
	return 250 * time.Millisecond
}

func (p *Prober) maxPollInterval() time.Duration {
	if p.MaxPollInterval > 0 {
		return p.MaxPollInterval
	}
	return 2 * time.Second
}

func (p *Prober) terminateGrace() time.Duration {
	if p.TerminateGrace > 0 {
		return p.TerminateGrace
	}
	return 3 * time.Second
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Probe launches the runner installed at installedPath and reports
// whether it is healthy within timeout. The transport declared in the
// installed manifest decides the check: stdio children pass by
// surviving the grace window; sse/websocket children pass when their
// health endpoint answers.
//
// The returned error covers setup problems (missing metadata, port
// collision); health outcomes are reported in the Result, not as
// errors.
func (p *Prober) Probe(ctx context.Context, installedPath string, overrides Overrides, timeout time.Duration) (*Result, error) {
	doc, err := manifest.Load(filepath.Join(installedPath, manifest.ManifestFileName))
	if err != nil {
		return nil, err
	}
	runner, err := manifest.LoadRunnerSpec(filepath.Join(installedPath, manifest.RunnerSpecFileName))
	if err != nil {
		return nil, err
	}
	transport, err := doc.PrimaryTransport()
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch transport.Type {
	case manifest.TransportStdio, "":
		return p.probeStdio(ctx, installedPath, runner, overrides)
	case manifest.TransportSSE, manifest.TransportWebsocket:
		return p.probeEndpoint(ctx, installedPath, transport, runner, overrides)
	default:
		return nil, fmt.Errorf("manifest %q declares unsupported transport %q", doc.Name, transport.Type)
	}
}

// Run launches the runner in the foreground and waits until it exits
// or ctx is cancelled. Same launch path as Probe, no health check.
func (p *Prober) Run(ctx context.Context, installedPath string, overrides Overrides) error {
	runner, err := manifest.LoadRunnerSpec(filepath.Join(installedPath, manifest.RunnerSpecFileName))
	if err != nil {
		return err
	}
	cmd, _, err := p.startChild(ctx, installedPath, runner, overrides, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	p.logger().Info("runner started", "pid", cmd.Process.Pid, "path", installedPath)
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("runner exited: %w", err)
	}
	return nil
}

// probeStdio passes when the child survives the grace window without
// exiting.
func (p *Prober) probeStdio(ctx context.Context, installedPath string, runner *manifest.RunnerSpec, overrides Overrides) (*Result, error) {
	start := time.Now()
	cmd, tail, err := p.startChild(ctx, installedPath, runner, overrides, nil, nil)
	if err != nil {
		return nil, err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	grace := time.NewTimer(p.graceWindow())
	defer grace.Stop()

	select {
	case <-grace.C:
		// Healthy: shut the child down and collect it.
		stopChild(cmd, exited)
		return &Result{
			Status:     StatusPassed,
			Duration:   time.Since(start),
			ExitCode:   -1,
			LogExcerpt: string(tail.Tail()),
		}, nil

	case waitErr := <-exited:
		status := StatusFailed
		if ctx.Err() == context.DeadlineExceeded {
			status = StatusTimedOut
		}
		return &Result{
			Status:     status,
			Duration:   time.Since(start),
			ExitCode:   exitCode(cmd, waitErr),
			LogExcerpt: string(tail.Tail()),
		}, nil
	}
}

// probeEndpoint passes when the declared health endpoint answers with a
// 2xx before the deadline.
func (p *Prober) probeEndpoint(ctx context.Context, installedPath string, transport *manifest.Transport, runner *manifest.RunnerSpec, overrides Overrides) (*Result, error) {
	healthURL, address, err := resolveHealthEndpoint(transport, overrides.Port)
	if err != nil {
		return nil, err
	}
	if err := checkPortFree(address); err != nil {
		return nil, err
	}

	start := time.Now()
	cmd, tail, err := p.startChild(ctx, installedPath, runner, overrides, nil, nil)
	if err != nil {
		return nil, err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	client := &http.Client{Timeout: p.maxPollInterval()}
	interval := p.pollInterval()
	poll := time.NewTimer(interval)
	defer poll.Stop()

	for {
		select {
		case waitErr := <-exited:
			return &Result{
				Status:     StatusFailed,
				Duration:   time.Since(start),
				ExitCode:   exitCode(cmd, waitErr),
				LogExcerpt: string(tail.Tail()),
			}, nil

		case <-ctx.Done():
			stopChild(cmd, exited)
			return &Result{
				Status:     StatusTimedOut,
				Duration:   time.Since(start),
				ExitCode:   -1,
				LogExcerpt: string(tail.Tail()),
			}, nil

		case <-poll.C:
			if healthy(ctx, client, healthURL) {
				stopChild(cmd, exited)
				return &Result{
					Status:     StatusPassed,
					Duration:   time.Since(start),
					ExitCode:   -1,
					LogExcerpt: string(tail.Tail()),
				}, nil
			}
			p.logger().Debug("health poll failed, backing off",
				"url", healthURL, "nextInterval", interval)
			interval *= 2
			if max := p.maxPollInterval(); interval > max {
				interval = max
			}
			poll.Reset(interval)
		}
	}
}

// startChild launches the runner process under ctx with SIGTERM-then-
// SIGKILL termination. Output goes to the returned tail buffer unless
// explicit writers are given.
func (p *Prober) startChild(ctx context.Context, installedPath string, runner *manifest.RunnerSpec, overrides Overrides, stdout, stderr *os.File) (*exec.Cmd, *tailBuffer, error) {
	argv, err := runner.Argv()
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = installedPath
	if runner.Workdir != "" {
		cmd.Dir = filepath.Join(installedPath, filepath.FromSlash(runner.Workdir))
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.terminateGrace()

	// Overrides reach the child only; the probing process environment
	// is never mutated.
	env := os.Environ()
	for key, value := range runner.Env {
		env = append(env, key+"="+value)
	}
	if overrides.Port != 0 {
		env = append(env, "PORT="+strconv.Itoa(overrides.Port))
	}
	for key, value := range overrides.Env {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	tail := newTailBuffer(logTailBytes)
	if stdout != nil {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	} else {
		cmd.Stdout = tail
		cmd.Stderr = tail
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("launching runner %q: %w", argv[0], err)
	}
	p.logger().Debug("probe child started", "pid", cmd.Process.Pid, "argv", argv)
	return cmd, tail, nil
}

// stopChild terminates a running child and waits for it to be
// collected. SIGTERM first; WaitDelay escalates to SIGKILL if the child
// ignores it.
func stopChild(cmd *exec.Cmd, exited <-chan error) {
	if cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-exited:
	case <-time.After(cmd.WaitDelay + time.Second):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-exited
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func healthy(ctx context.Context, client *http.Client, healthURL string) bool {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	response, err := client.Do(request)
	if err != nil {
		return false
	}
	response.Body.Close()
	return response.StatusCode >= 200 && response.StatusCode < 300
}

// resolveHealthEndpoint derives the URL to poll and the host:port to
// preflight from the declared transport, applying a port override.
func resolveHealthEndpoint(transport *manifest.Transport, portOverride int) (healthURL, address string, err error) {
	base := transport.URL
	if base == "" {
		base = "http://127.0.0.1:8000/"
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("parsing transport url %q: %w", transport.URL, err)
	}
	if parsed.Hostname() == "" {
		return "", "", fmt.Errorf("transport url %q has no host", transport.URL)
	}

	port := parsed.Port()
	if portOverride != 0 {
		port = strconv.Itoa(portOverride)
	}
	if port == "" {
		switch parsed.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	parsed.Host = net.JoinHostPort(parsed.Hostname(), port)

	// Websocket URLs are polled over plain HTTP.
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	}

	if transport.Health != "" {
		reference, err := url.Parse(transport.Health)
		if err != nil {
			return "", "", fmt.Errorf("parsing health path %q: %w", transport.Health, err)
		}
		parsed = parsed.ResolveReference(reference)
	}
	return parsed.String(), net.JoinHostPort(parsed.Hostname(), port), nil
}

// checkPortFree binds and immediately releases the health port, so a
// collision is reported before the child launches and muddies the
// diagnosis.
func checkPortFree(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return &PortInUseError{Address: address, Err: err}
	}
	return listener.Close()
}
