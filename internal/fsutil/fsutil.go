// Package fsutil holds the file helpers shared by the CLI, config and the
// JSON evaluation store.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned by ReadFileScoped when a file exceeds its limit.
var ErrTooLarge = errors.New("file too large")

// ReadFileScoped reads path through an os.Root opened on its directory, so
// symlinks cannot escape it. maxBytes <= 0 disables the size limit.
func ReadFileScoped(path string, maxBytes int64) ([]byte, error) {
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	if base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("not a file path: %q", path)
	}

	root, err := os.OpenRoot(filepath.Dir(cleaned))
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if maxBytes <= 0 {
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", path, ErrTooLarge, maxBytes)
	}
	return data, nil
}

// modeFor keeps an existing file's permission bits, or returns perm.
func modeFor(path string, perm os.FileMode) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return perm
}
