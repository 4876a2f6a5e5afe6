// Package hub orchestrates the chat and analysis pipelines: auth,
// rate limiting, idempotency, scheduling, watchdog enforcement,
// streaming, and the cancellation registries behind the control
// plane.
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neira-project/neira/pkg/antiidle"
	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/cancel"
	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/contextstore"
	"github.com/neira-project/neira/pkg/control"
	"github.com/neira-project/neira/pkg/idempotency"
	"github.com/neira-project/neira/pkg/masking"
	"github.com/neira-project/neira/pkg/memory"
	"github.com/neira-project/neira/pkg/metrics"
	"github.com/neira-project/neira/pkg/ratelimit"
	"github.com/neira-project/neira/pkg/registry"
	"github.com/neira-project/neira/pkg/scheduler"
)

// Hub owns the runtime state shared by all request handlers. The hub
// exclusively owns the scheduler, registry, memory, traces, rate
// map, and idempotency cache; cancellation tokens are shared with
// in-flight work.
type Hub struct {
	Cfg       *config.Config
	Metrics   *metrics.Metrics
	Auth      *auth.Store
	Masking   *masking.Service
	Store     *contextstore.Store
	Idem      *idempotency.Store
	Limiter   *ratelimit.Limiter
	Registry  *registry.Registry
	Sched     *scheduler.Scheduler
	QueueCfg  *scheduler.QueueConfig
	Memory    *memory.Store
	Control   *control.Plane
	AntiIdle  *antiidle.Tracker
	Collector *metrics.Collector

	shutdown *cancel.Token

	streamMu sync.Mutex
	streams  map[string]*cancel.Token

	analysisMu sync.Mutex
	analyses   map[string]*cancel.Token

	sessionCounter atomic.Uint64
	now            func() time.Time
}

// New wires a hub from its parts. shutdown is the process-wide token.
func New(
	cfg *config.Config,
	m *metrics.Metrics,
	authStore *auth.Store,
	maskingSvc *masking.Service,
	store *contextstore.Store,
	idem *idempotency.Store,
	reg *registry.Registry,
	mem *memory.Store,
	plane *control.Plane,
	tracker *antiidle.Tracker,
	collector *metrics.Collector,
	shutdown *cancel.Token,
) *Hub {
	h := &Hub{
		Cfg:       cfg,
		Metrics:   m,
		Auth:      authStore,
		Masking:   maskingSvc,
		Store:     store,
		Idem:      idem,
		Limiter:   ratelimit.New(cfg.Chat.RateLimitPerMin),
		Registry:  reg,
		Memory:    mem,
		Control:   plane,
		AntiIdle:  tracker,
		Collector: collector,
		shutdown:  shutdown,
		streams:   make(map[string]*cancel.Token),
		analyses:  make(map[string]*cancel.Token),
		now:       time.Now,
	}
	h.Sched = scheduler.New(h.publishFlow)
	h.QueueCfg = scheduler.NewQueueConfig(mem, cfg.Analysis)
	store.SetActivityFunc(tracker.MarkActivity)
	return h
}

// publishFlow mirrors enqueue events onto the queue gauges.
func (h *Hub) publishFlow(scheduler.FlowEvent) {
	f, s, l := h.Sched.Lengths()
	h.Metrics.QueueLength.WithLabelValues("fast").Set(float64(f))
	h.Metrics.QueueLength.WithLabelValues("standard").Set(float64(s))
	h.Metrics.QueueLength.WithLabelValues("long").Set(float64(l))
	h.Metrics.Backpressure.Set(float64(f + s + l))
}

// rejectIfPaused returns a paused error while the system is paused.
func (h *Hub) rejectIfPaused() *Error {
	if info := h.Control.Paused(); info.Paused {
		return errPaused(info.Reason)
	}
	return nil
}

// throttle applies backpressure delays before dispatch: a fixed sleep
// when the queue sum crosses the high watermark, plus a proportional
// backoff when AUTO_BACKOFF_ENABLED.
func (h *Hub) throttle(ctx context.Context) {
	cfg := h.Cfg.Analysis
	bp := h.Sched.Backpressure()
	if cfg.ThrottleSleep <= 0 || bp <= cfg.BackpressureHigh {
		return
	}
	h.Metrics.ThrottleEvents.Inc()
	sleep := cfg.ThrottleSleep
	if cfg.AutoBackoff && cfg.BackpressureHigh > 0 {
		over := float64(bp-cfg.BackpressureHigh) / float64(cfg.BackpressureHigh)
		extra := time.Duration(over * float64(cfg.MaxBackoff))
		if extra > cfg.MaxBackoff {
			extra = cfg.MaxBackoff
		}
		sleep += extra
	}
	select {
	case <-ctx.Done():
	case <-time.After(sleep):
	}
}

// streamKey builds the cancellation key for an SSE stream.
func streamKey(chatID, sessionID string) string {
	return chatID + "|" + sessionID
}

// RegisterStream creates and tracks a cancellation token for an SSE
// stream. An existing token under the same key is replaced (and left
// to its stream).
func (h *Hub) RegisterStream(chatID, sessionID string) *cancel.Token {
	tok := h.shutdown.Child()
	h.streamMu.Lock()
	h.streams[streamKey(chatID, sessionID)] = tok
	h.streamMu.Unlock()
	return tok
}

// UnregisterStream drops the tracked token if it is still the one
// registered.
func (h *Hub) UnregisterStream(chatID, sessionID string, tok *cancel.Token) {
	key := streamKey(chatID, sessionID)
	h.streamMu.Lock()
	if h.streams[key] == tok {
		delete(h.streams, key)
	}
	h.streamMu.Unlock()
}

// CancelStream fires the token for one stream. Returns whether a
// stream was found.
func (h *Hub) CancelStream(chatID, sessionID string) bool {
	h.streamMu.Lock()
	tok, ok := h.streams[streamKey(chatID, sessionID)]
	h.streamMu.Unlock()
	if !ok {
		return false
	}
	tok.Cancel()
	h.Metrics.StreamsCancelled.Inc()
	return true
}

// CancelAllStreams fires every active stream token and returns how
// many were cancelled. Used by pause-with-drain.
func (h *Hub) CancelAllStreams() int {
	h.streamMu.Lock()
	tokens := make([]*cancel.Token, 0, len(h.streams))
	for _, tok := range h.streams {
		tokens = append(tokens, tok)
	}
	h.streams = make(map[string]*cancel.Token)
	h.streamMu.Unlock()

	for _, tok := range tokens {
		tok.Cancel()
	}
	if n := len(tokens); n > 0 {
		h.Metrics.StreamsCancelled.Add(float64(n))
	}
	return len(tokens)
}

// ActiveStreams returns the number of tracked SSE streams.
func (h *Hub) ActiveStreams() int {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	return len(h.streams)
}

// NewSessionID generates "{prefix}-YYYYMMDDhhmmss-{hex}" ids for the
// session/new endpoint.
func (h *Hub) NewSessionID(prefix string) string {
	if prefix == "" {
		prefix = "sess"
	}
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%s-%s",
		prefix, h.now().UTC().Format("20060102150405"), suffix)
}

// autoSessionID generates "auto-{ms}-{counter}" ids for persist
// requests without a session.
func (h *Hub) autoSessionID() string {
	return fmt.Sprintf("auto-%d-%d", h.now().UnixMilli(), h.sessionCounter.Add(1))
}

// MaskPreview runs the masking dry run: the active masker plus any
// extra regexes, no role gate, nothing persisted.
func (h *Hub) MaskPreview(text string, regexes []string) string {
	if len(regexes) == 0 {
		return h.Masking.Active().Preview(text)
	}
	cfg := h.Cfg.Masking
	cfg.Enabled = true
	cfg.Regexes = append(append([]string{}, cfg.Regexes...), regexes...)
	return masking.New(cfg).Preview(text)
}

// Status summarizes runtime state for the control status endpoint.
type Status struct {
	Paused        bool   `json:"paused"`
	PausedForMS   int64  `json:"paused_for_ms"`
	PausedSinceMS int64  `json:"paused_since_ts_ms,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ActiveTasks   int    `json:"active_tasks"`
	Backpressure  int    `json:"backpressure"`
	QueueFast     int    `json:"queue_fast"`
	QueueStandard int    `json:"queue_standard"`
	QueueLong     int    `json:"queue_long"`
	ActiveStreams int    `json:"active_streams"`
	SafeMode      bool   `json:"safe_mode"`
}

// CurrentStatus builds a status report.
func (h *Hub) CurrentStatus() Status {
	info := h.Control.Paused()
	f, s, l := h.Sched.Lengths()
	st := Status{
		Paused:        info.Paused,
		Reason:        info.Reason,
		Backpressure:  f + s + l,
		QueueFast:     f,
		QueueStandard: s,
		QueueLong:     l,
		ActiveStreams: h.ActiveStreams(),
		SafeMode:      h.Auth.SafeMode(),
	}
	h.analysisMu.Lock()
	st.ActiveTasks = len(h.analyses)
	h.analysisMu.Unlock()
	if info.Paused {
		st.PausedForMS = time.Since(info.Since).Milliseconds()
		st.PausedSinceMS = info.Since.UnixMilli()
	}
	return st
}
