package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// validateWorkdirPath rejects directory traversal in a workdir path. It
// does not reject absolute paths — a workdir under /var/lib/devcrypt is
// normal — only ".." segments that could escape an intended parent.
func validateWorkdirPath(p string) error {
	if p == "" {
		return errors.New("workdir path is empty")
	}
	cleaned := filepath.Clean(p)
	for _, part := range strings.Split(cleaned, string(os.PathSeparator)) {
		if part == ".." {
			return errors.New("workdir path must not contain '..'")
		}
	}
	return nil
}

// ensureWorkdir creates the workdir (and parents) if it does not yet
// exist, and fails with a clear error when the path exists but is not a
// directory.
func ensureWorkdir(p string) error {
	info, err := os.Stat(p)
	if err == nil {
		if !info.IsDir() {
			return errors.New("workdir path exists and is not a directory")
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(p, 0o700)
}
