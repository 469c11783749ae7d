//go:build !linux

package chunkcrypt

import "os"

// Other platforms fall back to plain O_RDWR; Sync() still runs
// explicitly at every ordering point the spec requires.
const devOpenFlags = os.O_RDWR
