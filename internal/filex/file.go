// Package filex holds filesystem helpers for the client's private data dir.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EnsurePrivateDir creates dir (and parents) readable only by the current
// user and returns its absolute path. A relative dir is resolved against the
// working directory. An existing directory with wider permissions is
// narrowed to 0700.
func EnsurePrivateDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		if fi.Mode().Perm()&0o077 != 0 {
			if err := os.Chmod(abs, 0o700); err != nil {
				return "", fmt.Errorf("chmod %s: %w", abs, err)
			}
		}
	}

	return abs, nil
}
