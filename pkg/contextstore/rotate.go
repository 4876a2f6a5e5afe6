package contextstore

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// archivePastDays gzips every dated session file older than today and
// removes the original. Called under the chat lock before each append.
func (s *Store) archivePastDays(chatDir, sessionID string, now time.Time) error {
	today := now.Format("20060102")

	entries, err := os.ReadDir(chatDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading chat dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".ndjson") || !sessionOwnsFile(sessionID, name) {
			continue
		}
		base := strings.TrimSuffix(name, ".ndjson")
		dateIdx := strings.LastIndexByte(base, '-')
		if dateIdx < 0 {
			continue // undated file, rotation was off when it was written
		}
		date := base[dateIdx+1:]
		if !isDateSuffix(date) || date >= today {
			continue
		}
		if err := gzipAndRemove(filepath.Join(chatDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// gzipAndRemove writes {path}.gz and deletes the original.
func gzipAndRemove(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening for archive: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		dst.Close()
		return fmt.Errorf("compressing %s: %w", filepath.Base(path), err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return os.Remove(path)
}
