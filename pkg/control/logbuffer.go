package control

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is one captured log line.
type LogRecord struct {
	TSMS    int64  `json:"ts_ms"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LogBuffer is a slog.Handler that tees records into a bounded ring
// so the snapshot endpoint can return a recent log tail.
type LogBuffer struct {
	next slog.Handler
	max  int

	mu      sync.Mutex
	records []LogRecord
}

// NewLogBuffer wraps next, keeping the last max records.
func NewLogBuffer(next slog.Handler, max int) *LogBuffer {
	if max <= 0 {
		max = 1024
	}
	return &LogBuffer{next: next, max: max}
}

// Enabled implements slog.Handler.
func (b *LogBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return b.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (b *LogBuffer) Handle(ctx context.Context, r slog.Record) error {
	b.mu.Lock()
	b.records = append(b.records, LogRecord{
		TSMS:    r.Time.UnixMilli(),
		Level:   r.Level.String(),
		Message: r.Message,
	})
	if len(b.records) > b.max {
		b.records = b.records[1:]
	}
	b.mu.Unlock()
	return b.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler. Attribute-scoped handlers share
// the same ring.
func (b *LogBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sharedBuffer{LogBuffer: b, next: b.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *LogBuffer) WithGroup(name string) slog.Handler {
	return &sharedBuffer{LogBuffer: b, next: b.next.WithGroup(name)}
}

// sharedBuffer delegates formatting to a derived handler while
// recording into the parent ring.
type sharedBuffer struct {
	*LogBuffer
	next slog.Handler
}

func (s *sharedBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return s.next.Enabled(ctx, level)
}

func (s *sharedBuffer) Handle(ctx context.Context, r slog.Record) error {
	s.mu.Lock()
	s.records = append(s.records, LogRecord{
		TSMS:    r.Time.UnixMilli(),
		Level:   r.Level.String(),
		Message: r.Message,
	})
	if len(s.records) > s.max {
		s.records = s.records[1:]
	}
	s.mu.Unlock()
	return s.next.Handle(ctx, r)
}

func (s *sharedBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sharedBuffer{LogBuffer: s.LogBuffer, next: s.next.WithAttrs(attrs)}
}

func (s *sharedBuffer) WithGroup(name string) slog.Handler {
	return &sharedBuffer{LogBuffer: s.LogBuffer, next: s.next.WithGroup(name)}
}

// Tail returns records at or above minLevel with ts_ms >= sinceMS.
func (b *LogBuffer) Tail(minLevel slog.Level, sinceMS int64) []LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []LogRecord
	for _, r := range b.records {
		if r.TSMS < sinceMS {
			continue
		}
		if levelValue(r.Level) < minLevel {
			continue
		}
		out = append(out, r)
	}
	return out
}

func levelValue(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}
