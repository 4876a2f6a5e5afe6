package contextstore

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/neira-project/neira/pkg/config"
)

const storageMetricsFile = "storage_metrics.json"

// storageState tracks the adaptive sizing thresholds. Updates are
// best-effort and last-writer-wins on the metrics file; the file is
// always valid JSON because writes go through a temp file.
type storageState struct {
	mu sync.Mutex
	m  StorageMetrics
}

// load reads persisted metrics and refreshes them from the disk.
func (st *storageState) load(cfg config.ContextConfig) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if raw, err := os.ReadFile(filepath.Join(cfg.Dir, storageMetricsFile)); err == nil {
		_ = json.Unmarshal(raw, &st.m)
	}
	st.refreshLocked(cfg)
}

// observe folds a write into the rolling average and periodically
// refreshes disk numbers.
func (st *storageState) observe(cfg config.ContextConfig, bytes int64, count int) {
	if count == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	per := float64(bytes) / float64(count)
	for i := 0; i < count; i++ {
		st.m.sampledCount++
		st.m.AvgMsgBytes += (per - st.m.AvgMsgBytes) / float64(st.m.sampledCount)
	}
	// Re-stat the disk every 100 messages; stat calls on every append
	// would dominate small writes.
	if st.m.sampledCount%100 < int64(count) {
		st.refreshLocked(cfg)
	}
}

func (st *storageState) refreshLocked(cfg config.ContextConfig) {
	usage, err := disk.Usage(cfg.Dir)
	if err != nil {
		slog.Warn("Failed to stat context disk", "error", err)
	} else {
		st.m.DiskTotal = usage.Total
		st.m.DiskAvail = usage.Free
	}

	st.m.MaxBytes = cfg.MaxBytes
	if st.m.MaxBytes == 0 && st.m.DiskAvail > 0 {
		st.m.MaxBytes = int64(st.m.DiskAvail / 100)
	}
	st.m.MaxLines = cfg.MaxLines
	if st.m.MaxLines == 0 && st.m.AvgMsgBytes > 0 && st.m.MaxBytes > 0 {
		st.m.MaxLines = int(float64(st.m.MaxBytes) / st.m.AvgMsgBytes)
	}
	st.m.UpdatedMS = time.Now().UnixMilli()

	raw, err := json.MarshalIndent(&st.m, "", "  ")
	if err != nil {
		return
	}
	tmp := filepath.Join(cfg.Dir, storageMetricsFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		slog.Warn("Failed to write storage metrics", "error", err)
		return
	}
	if err := os.Rename(tmp, filepath.Join(cfg.Dir, storageMetricsFile)); err != nil {
		slog.Warn("Failed to replace storage metrics", "error", err)
		return
	}
	slog.Debug("Storage metrics updated",
		"disk_available", humanize.Bytes(st.m.DiskAvail),
		"avg_msg_bytes", int64(st.m.AvgMsgBytes),
		"max_bytes", st.m.MaxBytes)
}

// thresholds returns (maxLines, maxBytes); zero means unlimited.
func (st *storageState) thresholds() (int, int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.m.MaxLines, st.m.MaxBytes
}

// Metrics returns a copy of the current storage metrics.
func (s *Store) Metrics() StorageMetrics {
	s.storage.mu.Lock()
	defer s.storage.mu.Unlock()
	return s.storage.m
}

// maybeTrim rewrites the file keeping only the last maxLines lines
// when it exceeds maxBytes. Called under the chat lock.
func (s *Store) maybeTrim(path string) error {
	maxLines, maxBytes := s.storage.thresholds()
	if maxBytes <= 0 || maxLines <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() <= maxBytes {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return err
	}
	f.Close()

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	slog.Info("Trimmed oversized session file", "path", path, "kept_lines", len(lines))
	return nil
}
