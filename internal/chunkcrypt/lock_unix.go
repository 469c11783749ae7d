//go:build linux || darwin || freebsd

package chunkcrypt

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrWorkdirBusy is returned when another process already holds the
// workdir lock.
var ErrWorkdirBusy = errors.New("workdir is locked by another process")

const lockFileName = ".lock"

// AcquireWorkdirLock takes an advisory, exclusive, non-blocking flock on
// <dir>/.lock and returns a release function. It never blocks: a stuck
// lock almost always means a previous run is still alive (or crashed
// while holding it), and blocking here would hang the operator's
// terminal with no feedback, so this fails fast with ErrWorkdirBusy
// instead.
func AcquireWorkdirLock(dir string) (func() error, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWorkdirBusy
		}
		return nil, newErr(KindIO, err)
	}
	release := func() error {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return f.Close()
	}
	return release, nil
}
