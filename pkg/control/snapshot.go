package control

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/neira-project/neira/pkg/masking"
)

// SnapshotOptions selects what goes into a snapshot.
type SnapshotOptions struct {
	IncludeMetrics bool
	IncludeContext bool
	IncludeLogs    bool
	RequestID      string // non-empty adds the trace dump
	LogLevel       string // minimum level for the log tail
	SinceMS        int64
	Zip            bool
}

// Snapshot is the exported document.
type Snapshot struct {
	TSMS    int64          `json:"ts_ms"`
	Metrics string         `json:"metrics,omitempty"`
	Context []ContextEntry `json:"context,omitempty"`
	Logs    []LogRecord    `json:"logs,omitempty"`
	Trace   []TraceEvent   `json:"trace,omitempty"`
}

// ContextEntry is one file of the context directory listing.
type ContextEntry struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// WriteSnapshot writes a snapshot to the snapshot directory and
// returns its path. contextDir may be empty to skip the listing; logs
// and masker may be nil.
func (p *Plane) WriteSnapshot(opts SnapshotOptions, contextDir string, logs *LogBuffer, masker *masking.Masker) (string, error) {
	snap := Snapshot{TSMS: time.Now().UnixMilli()}

	if opts.IncludeMetrics {
		text, err := p.renderMetrics()
		if err != nil {
			slog.Error("Failed to render metrics for snapshot", "error", err)
		} else {
			snap.Metrics = text
		}
	}

	if opts.IncludeContext && contextDir != "" {
		entries, err := listContextDir(contextDir)
		if err != nil {
			slog.Error("Failed to list context dir for snapshot", "error", err)
		} else {
			snap.Context = entries
		}
	}

	if opts.IncludeLogs && logs != nil {
		tail := logs.Tail(levelValue(opts.LogLevel), opts.SinceMS)
		if masker != nil {
			for i := range tail {
				tail[i].Message = masker.Preview(tail[i].Message)
			}
		}
		snap.Logs = tail
	}

	if opts.RequestID != "" {
		snap.Trace = p.TraceDump(opts.RequestID)
	}

	if err := os.MkdirAll(p.cfg.SnapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	raw, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	if opts.Zip {
		path := filepath.Join(p.cfg.SnapshotDir, "snapshot-"+stamp+".zip")
		if err := writeZip(path, "snapshot.json", raw); err != nil {
			return "", err
		}
		return path, nil
	}

	path := filepath.Join(p.cfg.SnapshotDir, "snapshot-"+stamp+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return path, nil
}

// renderMetrics gathers the registry into Prometheus text exposition.
func (p *Plane) renderMetrics() (string, error) {
	families, err := p.metrics.Registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gathering metrics: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return buf.String(), nil
}

func listContextDir(dir string) ([]ContextEntry, error) {
	var out []ContextEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, ContextEntry{Path: rel, Bytes: info.Size()})
		return nil
	})
	return out, err
}

func writeZip(path, name string, content []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating zip: %w", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(name)
	if err != nil {
		f.Close()
		return fmt.Errorf("adding zip entry: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finishing zip: %w", err)
	}
	return f.Close()
}
