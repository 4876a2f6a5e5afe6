// Package antiidle derives the system's idle state from the last
// authorized activity and publishes it as gauges.
package antiidle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/metrics"
)

// State is the derived idle level.
type State int

// Idle states, published numerically as the idle_state gauge.
const (
	StateActive State = iota
	StateShort
	StateLong
	StateDeep
)

// tickInterval is how often the tracker re-derives the state.
const tickInterval = 5 * time.Second

// Tracker watches activity and publishes idle gauges. MarkActivity is
// called from hot request paths and must stay cheap.
type Tracker struct {
	cfg     config.AntiIdleConfig
	metrics *metrics.Metrics
	enabled atomic.Bool

	lastActivity atomic.Int64 // unix nanos

	mu             sync.Mutex
	smoothed       float64
	activeStreams  func() int
	microtaskDepth func() int
	idleCarryover  time.Duration
	now            func() time.Time
}

// New creates a tracker. activeStreams and microtaskDepth supply the
// live gauge sources; either may be nil.
func New(cfg config.AntiIdleConfig, m *metrics.Metrics, activeStreams, microtaskDepth func() int) *Tracker {
	t := &Tracker{
		cfg:            cfg,
		metrics:        m,
		activeStreams:  activeStreams,
		microtaskDepth: microtaskDepth,
		now:            time.Now,
	}
	t.enabled.Store(cfg.Enabled)
	t.lastActivity.Store(time.Now().UnixNano())
	return t
}

// MarkActivity records that something authorized just happened.
func (t *Tracker) MarkActivity() {
	t.lastActivity.Store(t.now().UnixNano())
}

// SetEnabled flips idle tracking at runtime (control plane toggle).
func (t *Tracker) SetEnabled(v bool) {
	t.enabled.Store(v)
	slog.Info("Anti-idle toggled", "enabled", v)
}

// Enabled reports the current toggle.
func (t *Tracker) Enabled() bool {
	return t.enabled.Load()
}

// SinceActivity returns the time since the last recorded activity.
func (t *Tracker) SinceActivity() time.Duration {
	return t.now().Sub(time.Unix(0, t.lastActivity.Load()))
}

// Run publishes gauges every five seconds until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick derives and publishes the current idle state.
func (t *Tracker) tick() {
	if !t.enabled.Load() {
		return
	}
	since := t.SinceActivity()
	streams := 0
	if t.activeStreams != nil {
		streams = t.activeStreams()
	}
	state := t.derive(streams, since)

	t.mu.Lock()
	t.smoothed = t.cfg.EMAAlpha*float64(state) + (1-t.cfg.EMAAlpha)*t.smoothed
	smoothed := t.smoothed
	if state != StateActive {
		t.idleCarryover += tickInterval
		for t.idleCarryover >= time.Minute {
			t.idleCarryover -= time.Minute
			t.metrics.IdleMinutesToday.Inc()
		}
	}
	t.mu.Unlock()

	t.metrics.IdleState.Set(float64(state))
	t.metrics.IdleStateSmoothed.Set(smoothed)
	t.metrics.TimeSinceActivity.Set(since.Seconds())
	if t.microtaskDepth != nil {
		t.metrics.MicrotaskDepth.Set(float64(t.microtaskDepth()))
	}
}

// derive maps (active streams, inactivity) to a state. Open streams
// always count as active.
func (t *Tracker) derive(activeStreams int, since time.Duration) State {
	if activeStreams > 0 {
		return StateActive
	}
	switch {
	case since >= t.cfg.DeepAfter:
		return StateDeep
	case since >= t.cfg.LongAfter:
		return StateLong
	case since >= t.cfg.IdleAfter:
		return StateShort
	default:
		return StateActive
	}
}
