//go:build linux

package chunkcrypt

import (
	"os"
	"syscall"
)

// On Linux we additionally request O_DSYNC so every WriteAt is
// synchronous at the kernel level; Sync() is still called explicitly at
// the points the crash-safety ordering requires, so correctness never
// depends on the platform having honored this flag.
const devOpenFlags = os.O_RDWR | syscall.O_DSYNC
