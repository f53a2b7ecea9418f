// Package fsutil provides filesystem utilities for atomic rewrites and
// transcript path allocation.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxUniqueAttempts bounds the suffix search in UniquePath.
const maxUniqueAttempts = 1_000_000

// TempPrefix starts the name of every temporary file AtomicWrite creates.
// A file with this prefix that outlives its writer is an orphan.
const TempPrefix = ".runlog-tmp-"

// AtomicWrite writes data to a temporary file, fsyncs, then renames to target path.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("atomic write create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up on failure
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("atomic write chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomic write fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write close: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write rename: %w", err)
	}
	if err := FsyncDir(dir); err != nil {
		return fmt.Errorf("atomic write fsync dir: %w", err)
	}

	success = true
	return nil
}

// FsyncDir fsyncs a directory to ensure rename visibility is durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("fsync dir open: %w", err)
	}
	defer d.Close()
	return d.Sync()
}

// PrepareDir creates dirPath (and parents) if it does not exist yet.
func PrepareDir(dirPath string) error {
	info, err := os.Stat(dirPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("prepare dir: %s is not a directory", dirPath)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("prepare dir: %w", err)
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("prepare dir: %w", err)
	}
	return nil
}

// Exists reports whether path can be stat'ed.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// UniquePath returns preferred if nothing exists there. Otherwise it inserts
// "_0", "_1", ... before the extension until a free path is found.
//
// The result is only free at the moment of the check; callers that need
// exclusivity must still create the file with O_EXCL.
func UniquePath(preferred string) (string, error) {
	if !Exists(preferred) {
		return preferred, nil
	}

	dir := filepath.Dir(preferred)
	base := filepath.Base(preferred)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	for i := 0; i < maxUniqueAttempts; i++ {
		candidate := filepath.Join(dir, name+"_"+strconv.Itoa(i)+ext)
		if !Exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unique path: no free name for %s", preferred)
}
