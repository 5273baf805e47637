// Package background provides non-blocking consolidation: a file lock
// keyed on the database path prevents two consolidation runs from
// overlapping, and a detached subprocess runs the actual cycle so the
// calling CLI invocation returns immediately (spec §4.6, §5).
package background

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// LockTimeout is carried for parity with the originating design (the lock
// is advisory and os-level; nothing in this package currently enforces a
// timeout beyond the non-blocking try-lock itself).
const LockTimeout = 1800 // seconds

// lockDir returns (creating if necessary) the directory holding
// consolidation lock files, honoring the same data-dir resolution as
// internal/config.
func lockDir(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create lock dir: %w", err)
	}
	return dir, nil
}

// lockPath returns the lock file path for dbPath: a 12-hex-char md5 prefix
// of the absolute database path, so distinct databases never collide.
func lockPath(dataDir, dbPath string) (string, error) {
	dir, err := lockDir(dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		abs = dbPath
	}
	sum := md5.Sum([]byte(abs))
	hash := hex.EncodeToString(sum[:])[:12]
	return filepath.Join(dir, fmt.Sprintf(".consolidate-%s.lock", hash)), nil
}

// Lock holds an acquired, process-exclusive file lock for a single database.
// It must be released with Release once the holder is done.
type Lock struct {
	file *os.File
	path string
}

// TryAcquire attempts to take the consolidation lock for dbPath without
// blocking. ok is false if another process already holds it.
func TryAcquire(dataDir, dbPath string) (lock *Lock, ok bool, err error) {
	path, err := lockPath(dataDir, dbPath)
	if err != nil {
		return nil, false, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock: %w", err)
	}
	return &Lock{file: f, path: path}, true, nil
}

// Release unlocks and closes the lock file. The OS releases the flock
// automatically on process exit or crash even without a call to Release.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}

// IsConsolidationRunning reports whether another process currently holds
// the consolidation lock for dbPath.
func IsConsolidationRunning(dataDir, dbPath string) (bool, error) {
	lock, ok, err := TryAcquire(dataDir, dbPath)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	lock.Release()
	return false, nil
}

// WorkerSpec describes how to invoke the detached consolidation worker:
// an executable path and argv, in the style of internal/live's
// UpstreamSpec{Command, Args} from the teacher repo. Callers that embed a
// worker subcommand into their own binary pass os.Executable() plus that
// subcommand's flags; callers that ship a standalone worker binary pass
// its path directly.
type WorkerSpec struct {
	Command string
	Args    []string
}

// SpawnBackgroundConsolidation spawns a detached worker process described
// by spec, first checking (and, implicitly via the worker's own lock
// acquisition, re-checking) that no consolidation is already running for
// dbPath. Returns false (without spawning) if one is.
func SpawnBackgroundConsolidation(dataDir, dbPath string, spec WorkerSpec) (bool, error) {
	running, err := IsConsolidationRunning(dataDir, dbPath)
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("spawn background consolidation: %w", err)
	}
	// Detach: the worker outlives this process, so don't Wait() on it.
	go cmd.Process.Release()

	return true, nil
}
