// Package archive stores finished transcripts as zstd-compressed copies.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/fsutil"
	"github.com/runlog-project/runlog/pkg/model"
)

// Extension is appended to the transcript file name.
const Extension = ".zst"

// maxPublishAttempts bounds the retries when another archiver takes the
// chosen name first.
const maxPublishAttempts = 8

// Archive compresses srcPath into archiveDir/<file name>.zst and returns the
// archive path. Existing archives are never replaced: when the name is taken
// a "_N" suffix is added, as fsutil.UniquePath does.
func Archive(srcPath, archiveDir string) (string, error) {
	if err := fsutil.PrepareDir(archiveDir); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(archiveDir, ".runlog-archive-*")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder, err := zstd.NewWriter(tmp)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("finalize compression: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	destPath, err := publish(tmpPath, Path(filepath.Base(srcPath), archiveDir))
	if err != nil {
		return "", err
	}
	success = true
	os.Remove(tmpPath)
	return destPath, nil
}

// publish hard-links tmpPath to a free name derived from preferred. A link
// fails instead of replacing an archive created since the name was chosen.
func publish(tmpPath, preferred string) (string, error) {
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		destPath, err := fsutil.UniquePath(preferred)
		if err != nil {
			return "", err
		}
		err = os.Link(tmpPath, destPath)
		if err == nil {
			return destPath, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("publish archive: %w", err)
		}
	}
	return "", fmt.Errorf("publish archive: %s keeps being taken", preferred)
}

// ReadHeader decompresses archivePath only up to the output marker and
// returns the header text, as transcript.ReadHeader does for plain files.
func ReadHeader(archivePath string) (wellFormed bool, header string, err error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return false, "", fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return false, "", fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	return transcript.ReadHeader(decoder)
}

// Find returns the path of the archive holding executionID. Only headers
// are decompressed while searching; unreadable archives are skipped.
func Find(archiveDir, executionID string) (string, bool) {
	names, err := List(archiveDir)
	if err != nil {
		return "", false
	}
	for _, name := range names {
		path := filepath.Join(archiveDir, name)
		wellFormed, header, err := ReadHeader(path)
		if err != nil || !wellFormed {
			continue
		}
		fields, err := transcript.DecodeHeader(header)
		if err == nil && fields[model.FieldID] == executionID {
			return path, true
		}
	}
	return "", false
}

// Read returns the decompressed content of archivePath.
func Read(archivePath string) ([]byte, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return data, nil
}

// IsArchived reports whether an archive exists under the transcript file
// name itself, without a "_N" suffix.
func IsArchived(name, archiveDir string) bool {
	return fsutil.Exists(Path(name, archiveDir))
}

// Path returns the preferred archive path for a transcript file name.
func Path(name, archiveDir string) string {
	return filepath.Join(archiveDir, name+Extension)
}

// List returns the archive file names in archiveDir, or nothing if the
// directory does not exist.
func List(archiveDir string) ([]string, error) {
	entries, err := os.ReadDir(archiveDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
