// Package control implements the operator control plane: pause and
// resume, graceful kill with a forced-exit grace timer, per-request
// trace buffers, and state snapshots.
package control

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neira-project/neira/pkg/cancel"
	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/metrics"
)

// PauseInfo describes the current pause state.
type PauseInfo struct {
	Paused bool
	Since  time.Time
	Reason string
}

// Plane is the control plane. One instance per process.
type Plane struct {
	cfg     config.ControlConfig
	metrics *metrics.Metrics

	mu    sync.RWMutex
	pause PauseInfo

	traceEnabled atomic.Bool
	traceMu      sync.Mutex
	traces       map[string]*traceBuffer

	shutdown *cancel.Token
	exitFn   func(code int)
	killOnce sync.Once
}

// New creates the control plane. shutdown is the process-wide token
// that Kill fires.
func New(cfg config.ControlConfig, m *metrics.Metrics, shutdown *cancel.Token) *Plane {
	p := &Plane{
		cfg:      cfg,
		metrics:  m,
		traces:   make(map[string]*traceBuffer),
		shutdown: shutdown,
		exitFn:   os.Exit,
	}
	p.traceEnabled.Store(cfg.TraceEnabled)
	return p
}

// Pause sets the paused state. drain, when non-nil, is invoked to
// cancel active streams. Returns false when pausing is disabled.
func (p *Plane) Pause(reason string, drain func() int) bool {
	if !p.cfg.AllowPause {
		return false
	}
	p.mu.Lock()
	p.pause = PauseInfo{Paused: true, Since: time.Now(), Reason: reason}
	p.mu.Unlock()
	p.metrics.PauseTotal.Inc()

	drained := 0
	if drain != nil {
		drained = drain()
	}
	slog.Warn("System paused", "reason", reason, "drained_streams", drained)
	return true
}

// Resume clears the paused state.
func (p *Plane) Resume() {
	p.mu.Lock()
	p.pause = PauseInfo{}
	p.mu.Unlock()
	p.metrics.ResumeTotal.Inc()
	slog.Info("System resumed")
}

// Paused returns the current pause info.
func (p *Plane) Paused() PauseInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pause
}

// Kill cancels the shutdown token for graceful termination and
// schedules a forced process exit after grace. Returns false when kill
// is disabled.
func (p *Plane) Kill(grace time.Duration) bool {
	if !p.cfg.AllowKill {
		return false
	}
	p.killOnce.Do(func() {
		slog.Warn("Kill requested, starting graceful shutdown", "grace", grace)
		p.shutdown.Cancel()
		time.AfterFunc(grace, func() {
			slog.Error("Grace period expired, forcing exit")
			p.exitFn(1)
		})
	})
	return true
}

// ShutdownToken exposes the process-wide shutdown token.
func (p *Plane) ShutdownToken() *cancel.Token {
	return p.shutdown
}
