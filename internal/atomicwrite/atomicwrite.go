// Package atomicwrite implements an atomic file write contract: write
// to a sibling temporary file under the destination's directory, then
// rename into place on success; remove the temporary on any error.
package atomicwrite

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Write creates dest atomically: a sibling temp file is written via fn,
// its mode is set to perm, and it is renamed over dest only once fn and
// the fsync both succeed. dest is never opened for writing directly, so
// a symlink at dest is replaced by rename rather than followed.
func Write(dest string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(dest)
	tmpName := filepath.Join(dir, ".sanitize-"+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("atomicwrite: creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpName)
		}
	}()

	if err = fn(f); err != nil {
		return fmt.Errorf("atomicwrite: writing %s: %w", dest, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("atomicwrite: syncing %s: %w", dest, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("atomicwrite: closing %s: %w", dest, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("atomicwrite: setting mode on %s: %w", dest, err)
	}
	if err = os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("atomicwrite: renaming into place %s: %w", dest, err)
	}
	return nil
}

// WriteBytes is a convenience wrapper around Write for already-materialized
// data, the common case for every sanitizer in this repo.
func WriteBytes(dest string, perm os.FileMode, data []byte) error {
	return Write(dest, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
