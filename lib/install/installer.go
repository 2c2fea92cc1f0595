// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/matrix-foundation/mcpb/lib/extract"
	"github.com/matrix-foundation/mcpb/lib/integrity"
	"github.com/matrix-foundation/mcpb/lib/manifest"
	"github.com/matrix-foundation/mcpb/lib/plan"
	"github.com/matrix-foundation/mcpb/lib/probe"
)

// ErrAlreadyInstalled is returned when the target alias+version already
// exists and force was not requested.
var ErrAlreadyInstalled = errors.New("already installed")

// ErrInstallInProgress is returned when another process holds the
// per-alias install lock.
var ErrInstallInProgress = errors.New("another install for this alias is in progress")

// installLockName is the advisory lock file inside each alias
// directory. Two racing installs of the same alias would otherwise both
// succeed with the later rename winning silently.
const installLockName = ".install.lock"

// Prefixes of transient directories the installer creates inside an
// alias directory. Anything matching them is leftover from a crashed
// run and safe to reap under the lock.
const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// Options adjusts a single install.
type Options struct {
	// Force replaces an existing alias+version install.
	Force bool

	// NoProbe skips the plan's probe step; the outcome reports a
	// passed probe with zero duration.
	NoProbe bool

	// Port and Env are passed through to the probe.
	Port int
	Env  map[string]string

	// Timeout bounds the probe. Zero uses the prober default.
	Timeout time.Duration
}

// Outcome reports a completed install.
type Outcome struct {
	// Path is the final install directory.
	Path string

	Record *LockRecord

	// Probe is the probe result, or the skipped result when probing
	// was disabled. A failed probe does not undo the install.
	Probe *probe.Result
}

// Installer executes install plans under a runners root.
type Installer struct {
	// Root is the runners root directory, e.g. ~/.matrix/runners.
	Root string

	// Limits bounds extraction. Zero value means extract.DefaultLimits.
	Limits extract.Limits

	Logger *slog.Logger

	// Prober runs the plan's probe step. Nil uses a default Prober.
	Prober *probe.Prober
}

func (ins *Installer) logger() *slog.Logger {
	if ins.Logger != nil {
		return ins.Logger
	}
	return slog.Default()
}

func (ins *Installer) limits() extract.Limits {
	if ins.Limits == (extract.Limits{}) {
		return extract.DefaultLimits()
	}
	return ins.Limits
}

// Install executes a plan: verify the source digest, extract into a
// staging directory, write the lock record, promote with one rename,
// then probe. A failure before the rename leaves the final path exactly
// as it was.
func (ins *Installer) Install(ctx context.Context, p *plan.InstallPlan, opts Options) (*Outcome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	aliasDir := filepath.Join(ins.Root, p.Alias)
	if err := os.MkdirAll(aliasDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating alias directory: %w", err)
	}

	unlock, err := acquireAliasLock(aliasDir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ins.reapStale(aliasDir)

	finalPath := filepath.Join(aliasDir, p.Version)
	priorExists := false
	if _, err := os.Stat(finalPath); err == nil {
		if !opts.Force {
			return nil, fmt.Errorf("%s/%s at %s: %w", p.Alias, p.Version, finalPath, ErrAlreadyInstalled)
		}
		priorExists = true
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("inspecting install path: %w", err)
	}

	// Digest check happens before any byte lands in staging.
	if err := ins.verifySource(p); err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(aliasDir, stagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	promoted := false
	defer func() {
		if !promoted {
			os.RemoveAll(staging)
		}
	}()

	if err := ins.materialize(p, staging); err != nil {
		return nil, err
	}

	// Both metadata documents must have made it into the tree; an
	// install without them is not launchable.
	if _, err := manifest.Load(filepath.Join(staging, manifest.ManifestFileName)); err != nil {
		return nil, err
	}
	if _, err := manifest.LoadRunnerSpec(filepath.Join(staging, manifest.RunnerSpecFileName)); err != nil {
		return nil, err
	}

	files, err := buildFileIndex(staging)
	if err != nil {
		return nil, err
	}
	record := &LockRecord{
		Alias:       p.Alias,
		Version:     p.Version,
		Digest:      p.Digest,
		InstalledAt: time.Now().UTC(),
		Source:      p.Source,
		Files:       files,
	}
	if err := writeLockRecord(staging, record); err != nil {
		return nil, err
	}

	if err := ins.promote(staging, finalPath, priorExists); err != nil {
		return nil, err
	}
	promoted = true
	syncDir(aliasDir)

	ins.logger().Info("installed",
		"alias", p.Alias, "version", p.Version,
		"digest", record.Digest, "path", finalPath, "files", len(files))

	outcome := &Outcome{Path: finalPath, Record: record}
	if !p.WantsProbe() || opts.NoProbe {
		outcome.Probe = probe.Skipped()
		return outcome, nil
	}

	result, err := ins.prober().Probe(ctx, finalPath, probe.Overrides{Port: opts.Port, Env: opts.Env}, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", finalPath, err)
	}
	if !result.Passed() {
		ins.logger().Warn("install succeeded but probe did not pass",
			"alias", p.Alias, "version", p.Version, "status", result.Status)
	}
	outcome.Probe = result
	return outcome, nil
}

func (ins *Installer) prober() *probe.Prober {
	if ins.Prober != nil {
		return ins.Prober
	}
	return &probe.Prober{Logger: ins.Logger}
}

// verifySource checks the plan's digest against the actual source
// before extraction begins.
func (ins *Installer) verifySource(p *plan.InstallPlan) error {
	switch p.Source.Kind {
	case plan.SourceZip:
		return integrity.VerifyFile(p.Source.Locator, string(p.Digest))
	case plan.SourceDir:
		return integrity.VerifyDirectory(p.Source.Locator, string(p.Digest))
	default:
		return fmt.Errorf("unknown source kind %q", p.Source.Kind)
	}
}

// materialize fills the staging directory from the plan's source.
func (ins *Installer) materialize(p *plan.InstallPlan, staging string) error {
	switch p.Source.Kind {
	case plan.SourceZip:
		return extract.ExtractZip(p.Source.Locator, staging, ins.limits())
	case plan.SourceDir:
		return extract.MirrorDirectory(p.Source.Locator, staging, ins.limits())
	default:
		return fmt.Errorf("unknown source kind %q", p.Source.Kind)
	}
}

// promote swaps staging into the final path. A prior install is moved
// aside first so the final path transitions in a single rename, then
// removed once the swap is done.
func (ins *Installer) promote(staging, finalPath string, priorExists bool) error {
	if priorExists {
		trash, err := os.MkdirTemp(filepath.Dir(finalPath), trashPrefix)
		if err != nil {
			return fmt.Errorf("creating trash directory: %w", err)
		}
		aside := filepath.Join(trash, "prior")
		if err := os.Rename(finalPath, aside); err != nil {
			os.RemoveAll(trash)
			return fmt.Errorf("moving prior install aside: %w", err)
		}
		if err := os.Rename(staging, finalPath); err != nil {
			// Try to put the prior install back before failing.
			if restoreErr := os.Rename(aside, finalPath); restoreErr != nil {
				return fmt.Errorf("promoting staging (prior install left at %s): %w", aside, err)
			}
			os.RemoveAll(trash)
			return fmt.Errorf("promoting staging: %w", err)
		}
		os.RemoveAll(trash)
		return nil
	}
	if err := os.Rename(staging, finalPath); err != nil {
		return fmt.Errorf("promoting staging: %w", err)
	}
	return nil
}

// reapStale removes leftover staging and trash directories from crashed
// runs. Best-effort and only under the alias lock, so a live install's
// staging is never touched.
func (ins *Installer) reapStale(aliasDir string) {
	entries, err := os.ReadDir(aliasDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, stagingPrefix) && !strings.HasPrefix(name, trashPrefix) {
			continue
		}
		path := filepath.Join(aliasDir, name)
		if err := os.RemoveAll(path); err != nil {
			ins.logger().Warn("could not reap stale directory", "path", path, "error", err)
			continue
		}
		ins.logger().Debug("reaped stale directory", "path", path)
	}
}

// acquireAliasLock takes the advisory per-alias install lock. The lock
// is released by the returned function; it also dies with the process,
// so a crashed install never wedges the alias.
func acquireAliasLock(aliasDir string) (func(), error) {
	path := filepath.Join(aliasDir, installLockName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening install lock: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrInstallInProgress)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}

// InstalledPath returns the directory of an installed alias+version.
func InstalledPath(root, alias, version string) string {
	return filepath.Join(root, alias, version)
}

// LatestVersion returns the highest installed semantic version of an
// alias. Directory names that are not plain versions are ignored.
func LatestVersion(root, alias string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(root, alias))
	if err != nil {
		return "", fmt.Errorf("listing installs for %s: %w", alias, err)
	}
	best := ""
	for _, entry := range entries {
		if !entry.IsDir() || !manifest.IsSemanticVersion(entry.Name()) {
			continue
		}
		if best == "" || semverLess(best, entry.Name()) {
			best = entry.Name()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no installed versions for %s", alias)
	}
	return best, nil
}

func semverLess(a, b string) bool {
	var aMajor, aMinor, aPatch, bMajor, bMinor, bPatch int
	fmt.Sscanf(a, "%d.%d.%d", &aMajor, &aMinor, &aPatch)
	fmt.Sscanf(b, "%d.%d.%d", &bMajor, &bMinor, &bPatch)
	if aMajor != bMajor {
		return aMajor < bMajor
	}
	if aMinor != bMinor {
		return aMinor < bMinor
	}
	return aPatch < bPatch
}
