package utils

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// WriteFileAtomic writes data next to path and renames it into place, so
// readers see either the old or the new content. The directory is created
// with owner-only access.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to set file permissions")
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to write file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "failed to replace file")
	}
	return nil
}
