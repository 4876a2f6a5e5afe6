// Package ratelimit implements the per-minute windowed counter used
// by the chat hub. Keys are derived from auth token, chat id, or
// session depending on CHAT_RATE_KEY.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Mode selects how the rate-limit key is derived.
type Mode string

// Key modes.
const (
	ModeAuth    Mode = "auth"
	ModeChat    Mode = "chat"
	ModeSession Mode = "session"
)

// BuildKey derives the rate-limit key for the given mode.
func BuildKey(mode Mode, token, chatID, sessionID string) string {
	switch mode {
	case ModeChat:
		return fmt.Sprintf("chat:%s", chatID)
	case ModeSession:
		return fmt.Sprintf("session:%s:%s", chatID, sessionID)
	default:
		return fmt.Sprintf("auth:%s", token)
	}
}

// Result describes the window state after a limiter decision; the API
// layer maps it onto X-RateLimit-* response headers.
type Result struct {
	Limit     int
	Remaining int
	Used      int
	Key       string
}

type window struct {
	bucket int64 // now_unix / 60
	count  int
}

// Limiter is an in-memory per-minute counter. A zero limit disables
// limiting entirely.
type Limiter struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a limiter allowing limit requests per key per minute.
func New(limit int) *Limiter {
	return &Limiter{
		limit:   limit,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow consumes one slot for key. Returns the window state and
// whether the request may proceed. When the wall clock enters a new
// minute the counter resets.
func (l *Limiter) Allow(key string) (Result, bool) {
	if l.limit <= 0 {
		return Result{Limit: 0, Remaining: -1, Key: key}, true
	}

	bucket := l.now().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || w.bucket != bucket {
		w = &window{bucket: bucket}
		l.windows[key] = w
	}

	if w.count >= l.limit {
		return Result{Limit: l.limit, Remaining: 0, Used: w.count, Key: key}, false
	}
	w.count++
	return Result{
		Limit:     l.limit,
		Remaining: l.limit - w.count,
		Used:      w.count,
		Key:       key,
	}, true
}

// Prune drops windows older than the current minute. Called from the
// index compaction timer to keep the map bounded.
func (l *Limiter) Prune() {
	bucket := l.now().Unix() / 60
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.windows {
		if w.bucket != bucket {
			delete(l.windows, k)
		}
	}
}
