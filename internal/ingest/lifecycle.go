package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultProcessedDir is the sibling directory successful files are moved into.
const DefaultProcessedDir = "processed"

// MarkProcessed moves path into <dir of path>/<dirName>/<base of path> and
// returns the new path. The directory is created if missing. An existing
// file at the destination is never overwritten.
//
// The move is a rename: atomic within one filesystem, an error across devices.
//
// Errors:
//   - *LifecycleError; the file stays where it was.
func MarkProcessed(path, dirName string) (string, error) {
	if dirName == "" {
		dirName = DefaultProcessedDir
	}
	dir := filepath.Join(filepath.Dir(path), dirName)
	dest := filepath.Join(dir, filepath.Base(path))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &LifecycleError{Path: path, Dest: dest, Err: err}
	}

	if _, err := os.Lstat(dest); err == nil {
		return "", &LifecycleError{Path: path, Dest: dest, Err: fmt.Errorf("destination %w", os.ErrExist)}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", &LifecycleError{Path: path, Dest: dest, Err: err}
	}

	if err := os.Rename(path, dest); err != nil {
		return "", &LifecycleError{Path: path, Dest: dest, Err: err}
	}
	return dest, nil
}
