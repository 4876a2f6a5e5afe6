package cells

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EchoChat is the built-in chat worker: it returns the message
// unchanged. Registered as "echo.chat".
type EchoChat struct{}

// ID implements ChatCell.
func (EchoChat) ID() string { return "echo.chat" }

// Chat implements ChatCell.
func (EchoChat) Chat(_ context.Context, req ChatRequest) (string, error) {
	return req.Message, nil
}

// EchoAnalysis is the built-in analysis worker: it echoes the input
// with a single-step reasoning chain. Registered as "echo.analysis".
type EchoAnalysis struct{}

// ID implements AnalysisCell.
func (EchoAnalysis) ID() string { return "echo.analysis" }

// Analyze implements AnalysisCell.
func (EchoAnalysis) Analyze(_ context.Context, input string) (*AnalysisResult, error) {
	r := &AnalysisResult{
		ID:     "echo.analysis",
		Output: input,
		Status: StatusActive,
		ReasoningChain: []ReasoningStep{
			{Timestamp: time.Now().UTC(), Content: "echoed input"},
		},
	}
	r.Normalize()
	return r, nil
}

// DelayAnalysis sleeps for a fixed duration before echoing. Used to
// exercise watchdog and cancellation paths.
type DelayAnalysis struct {
	CellID string
	Delay  time.Duration
}

// ID implements AnalysisCell.
func (d DelayAnalysis) ID() string { return d.CellID }

// Analyze implements AnalysisCell. The sleep is ctx-aware so hard
// timeouts and cancellation end it early.
func (d DelayAnalysis) Analyze(ctx context.Context, input string) (*AnalysisResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.Delay):
	}
	r := &AnalysisResult{
		ID:     d.CellID,
		Output: fmt.Sprintf("delayed: %s", input),
		Status: StatusActive,
		ReasoningChain: []ReasoningStep{
			{Timestamp: time.Now().UTC(), Content: "slept " + d.Delay.String()},
		},
	}
	r.Normalize()
	return r, nil
}

// QuarantineGuard flips the system into safe mode when the
// quarantine trigger fires (a suspicious module was reported). The
// transition is one-way; see the auth store.
type QuarantineGuard struct {
	EnterSafeMode func(reason string)
}

// ID implements ActionCell.
func (QuarantineGuard) ID() string { return "quarantine.guard" }

// Trigger implements ActionCell.
func (g QuarantineGuard) Trigger(_ context.Context, triggers []string, _ MemoryView) error {
	for _, t := range triggers {
		if t == "quarantine" {
			slog.Warn("Quarantine trigger observed, engaging safe mode")
			if g.EnterSafeMode != nil {
				g.EnterSafeMode("quarantine trigger")
			}
			return nil
		}
	}
	return nil
}

// LogAction is the built-in action worker: it logs the triggers it is
// preloaded with. Registered as "log.action".
type LogAction struct{}

// ID implements ActionCell.
func (LogAction) ID() string { return "log.action" }

// Trigger implements ActionCell.
func (LogAction) Trigger(_ context.Context, triggers []string, mem MemoryView) error {
	slog.Debug("Action cell preloaded", "cell_id", "log.action",
		"triggers", triggers, "known_records", len(mem.RecordIDs()))
	return nil
}
