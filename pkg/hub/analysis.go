package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/neira-project/neira/pkg/cancel"
	"github.com/neira-project/neira/pkg/cells"
	"github.com/neira-project/neira/pkg/memory"
	"github.com/neira-project/neira/pkg/metrics"
	"github.com/neira-project/neira/pkg/scheduler"
	"github.com/neira-project/neira/pkg/trigger"
	"github.com/neira-project/neira/pkg/watchdog"
)

// softRequeueExplanation annotates drafts returned after a soft
// timeout with auto-requeue enabled.
const softRequeueExplanation = "Re-queued to long after soft timeout"

// AnalyzeInput parameterizes one analysis request.
type AnalyzeInput struct {
	ID        string
	Input     string
	Auth      string
	BudgetMS  int64 // overrides the hard deadline when > 0
	RequestID string
}

// Analyze runs the analysis pipeline: triggers, scheduling, worker
// dispatch on its own goroutine, periodic checkpointing, and the
// watchdog select loop enforcing soft/hard deadlines.
func (h *Hub) Analyze(ctx context.Context, in AnalyzeInput) (*cells.AnalysisResult, error) {
	h.Control.Trace(in.RequestID, "analysis.start", map[string]any{"id": in.ID})

	if err := h.rejectIfPaused(); err != nil {
		return nil, err
	}
	if !h.Auth.CheckAuth(in.Auth) {
		h.Metrics.AnalysisErrors.Inc()
		return nil, errUnauthorized()
	}
	h.AntiIdle.MarkActivity()

	// Trigger detection and action-cell preload.
	h.preloadActions(ctx, trigger.Detect(in.Input))

	// Classify into a queue from prior latency and priority, enqueue,
	// and immediately claim the next task.
	priority := memory.PriorityMedium
	avgMS := 0.0
	if rec, ok := h.Memory.Record(in.ID); ok {
		priority = rec.Priority
		avgMS = rec.Time.SmoothedMS
	}
	queue := h.QueueCfg.Classify(avgMS)
	h.throttle(ctx)
	h.Sched.Enqueue(queue, scheduler.Task{
		ID:       in.ID,
		Payload:  in.Input,
		Priority: priority,
		Cells:    []string{in.ID},
	})
	task, ok := h.Sched.Next()
	if !ok {
		// Cannot happen: we just enqueued under the hub's ownership.
		task = scheduler.Task{ID: in.ID, Payload: in.Input, Priority: priority}
	}
	h.publishFlow(scheduler.FlowEvent{})

	worker, found := h.Registry.GetAnalysisCell(task.ID)
	if !found {
		h.Metrics.AnalysisErrors.Inc()
		return nil, errNotFound("analysis cell " + task.ID)
	}

	tok := h.registerAnalysis(task.ID)
	defer h.unregisterAnalysis(task.ID, tok)

	wd := watchdog.ForCell(task.ID, h.Cfg.Watchdog, h.Metrics)
	if in.BudgetMS > 0 {
		wd.Hard = time.Duration(in.BudgetMS) * time.Millisecond
	}

	return h.superviseAnalysis(ctx, task, worker, tok, wd, in.RequestID), nil
}

// superviseAnalysis runs the worker and enforces deadlines. It always
// returns a result; hard timeouts and cancellation yield Error
// results with a checkpoint persisted for triage.
func (h *Hub) superviseAnalysis(
	ctx context.Context,
	task scheduler.Task,
	worker cells.AnalysisCell,
	tok *cancel.Token,
	wd *watchdog.Watchdog,
	requestID string,
) *cells.AnalysisResult {
	type workerOut struct {
		result *cells.AnalysisResult
		err    error
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go func() {
		select {
		case <-tok.Done():
			cancelWorker()
		case <-workerCtx.Done():
		}
	}()

	start := h.now()
	resCh := make(chan workerOut, 1)
	go func() {
		r, err := worker.Analyze(workerCtx, task.Payload)
		resCh <- workerOut{result: r, err: err}
	}()

	// Periodic draft checkpoints until the select loop finishes.
	cpCtx, stopCheckpoints := context.WithCancel(context.Background())
	defer stopCheckpoints()
	go h.runCheckpoints(cpCtx, task.ID)

	softTimer := time.NewTimer(wd.Soft)
	defer softTimer.Stop()
	hardTimer := time.NewTimer(wd.Hard)
	defer hardTimer.Stop()

	for {
		select {
		case <-softTimer.C:
			wd.SoftTimeout()
			h.Control.Trace(requestID, "analysis.soft_timeout", nil)
			if h.Cfg.Analysis.AutoRequeueOnSoft {
				h.Sched.Enqueue(scheduler.QueueLong, scheduler.Task{
					ID:       task.ID,
					Payload:  task.Payload,
					Priority: memory.PriorityLow,
					Cells:    task.Cells,
				})
				h.Metrics.AnalysisRequeued.Inc()
				draft := h.draftResult(task.ID, softRequeueExplanation)
				h.saveCheckpoint(task.ID, draft)
				return draft
			}
			// Keep waiting for the worker until the hard deadline.

		case <-hardTimer.C:
			tok.Cancel()
			wd.HardTimeout(task.ID)
			h.Control.Trace(requestID, "analysis.hard_timeout", nil)
			errResult := h.errorResult(task.ID, "hard deadline expired")
			h.saveCheckpoint(task.ID, errResult)
			return errResult

		case <-tok.Done():
			h.Control.Trace(requestID, "analysis.cancelled", nil)
			errResult := h.errorResult(task.ID, "cancelled")
			h.saveCheckpoint(task.ID, errResult)
			return errResult

		case out := <-resCh:
			return h.finishAnalysis(task.ID, out.result, out.err, h.now().Sub(start), requestID)
		}
	}
}

// finishAnalysis post-processes a completed worker run: chain budget
// truncation, checkpointing on error, metrics and memory updates.
func (h *Hub) finishAnalysis(id string, result *cells.AnalysisResult, err error, took time.Duration, requestID string) *cells.AnalysisResult {
	if err != nil || result == nil {
		if err != nil {
			slog.Error("Analysis worker failed", "id", id, "error", err)
		}
		h.Metrics.AnalysisErrors.Inc()
		errResult := h.errorResult(id, "worker error")
		h.saveCheckpoint(id, errResult)
		return errResult
	}

	result.Normalize()
	if budget := h.Cfg.Analysis.ReasoningStepBudget; budget > 0 && len(result.ReasoningChain) > budget {
		result.ReasoningChain = result.ReasoningChain[:budget]
		if result.Explanation != "" {
			result.Explanation += "; "
		}
		result.Explanation += "reasoning chain truncated to budget"
		h.Metrics.StepsBudgetHits.Inc()
	}

	if result.Status == cells.StatusError {
		h.saveCheckpoint(id, result)
	} else {
		h.Memory.PushMetrics(result)
		h.Memory.UpdateTime(id, took)
		h.Memory.Touch(id)
		h.Memory.RecalcPriorityAsync(id)
	}
	h.Metrics.AnalysisDuration.Observe(took.Seconds())

	if h.Collector != nil {
		h.Collector.Publish(metrics.QualityRecord{
			CellID:      id,
			Credibility: result.Quality.CredibilityOrZero(),
			TimestampMS: h.now().UnixMilli(),
		})
	}

	h.Control.Trace(requestID, "analysis.done", map[string]any{"status": string(result.Status)})
	return result
}

// runCheckpoints writes a draft checkpoint on every interval tick
// until stopped.
func (h *Hub) runCheckpoints(ctx context.Context, id string) {
	interval := h.Cfg.Analysis.CheckpointInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.saveCheckpoint(id, h.draftResult(id, "in progress"))
		}
	}
}

func (h *Hub) saveCheckpoint(id string, r *cells.AnalysisResult) {
	h.Memory.SaveCheckpoint(id, r)
	h.Metrics.CheckpointsSaved.Inc()
}

func (h *Hub) draftResult(id, explanation string) *cells.AnalysisResult {
	r := &cells.AnalysisResult{
		ID:          id,
		Status:      cells.StatusDraft,
		Explanation: explanation,
	}
	r.Normalize()
	return r
}

func (h *Hub) errorResult(id, explanation string) *cells.AnalysisResult {
	r := &cells.AnalysisResult{
		ID:          id,
		Status:      cells.StatusError,
		Explanation: explanation,
	}
	r.Normalize()
	return r
}

// registerAnalysis tracks the cancellation token for an in-flight
// analysis.
func (h *Hub) registerAnalysis(id string) *cancel.Token {
	tok := h.shutdown.Child()
	h.analysisMu.Lock()
	h.analyses[id] = tok
	h.analysisMu.Unlock()
	return tok
}

func (h *Hub) unregisterAnalysis(id string, tok *cancel.Token) {
	h.analysisMu.Lock()
	if h.analyses[id] == tok {
		delete(h.analyses, id)
	}
	h.analysisMu.Unlock()
}

// CancelAnalysis fires the cancellation token of an in-flight
// analysis. The supervising loop persists an Error checkpoint.
func (h *Hub) CancelAnalysis(id string) bool {
	h.analysisMu.Lock()
	tok, ok := h.analyses[id]
	h.analysisMu.Unlock()
	if !ok {
		return false
	}
	tok.Cancel()
	return true
}

// ResumeAnalysis returns the stored checkpoint for an analysis id.
func (h *Hub) ResumeAnalysis(id, authToken string) (*cells.AnalysisResult, error) {
	if err := h.rejectIfPaused(); err != nil {
		return nil, err
	}
	if !h.Auth.CheckAuth(authToken) {
		return nil, errUnauthorized()
	}
	h.AntiIdle.MarkActivity()
	cp, ok := h.Memory.Checkpoint(id)
	if !ok {
		return nil, errNotFound("checkpoint for " + id)
	}
	return cp, nil
}
