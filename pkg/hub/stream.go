package hub

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/neira-project/neira/pkg/loopdetect"
)

// progressEvery is the token interval between progress events.
const progressEvery = 10

// StreamEmitter receives the stream's events in order. Returning an
// error aborts the stream (client gone).
type StreamEmitter func(event string, data map[string]any) error

// StreamChat runs the chat pipeline and streams the response as
// whitespace tokens through emit. The stream's cancellation token is
// registered under (chat_id, session_id) so the control plane can
// cancel it.
func (h *Hub) StreamChat(ctx context.Context, in ChatInput, emit StreamEmitter) error {
	out, err := h.Chat(ctx, in)
	if err != nil {
		return err
	}

	tok := h.RegisterStream(in.ChatID, out.SessionID)
	h.Metrics.ActiveSSE.Inc()
	start := h.now()
	defer func() {
		h.Metrics.ActiveSSE.Dec()
		h.UnregisterStream(in.ChatID, out.SessionID, tok)
		if warn := h.Cfg.Stream.WarnAfter; warn > 0 {
			if took := h.now().Sub(start); took > warn {
				slog.Warn("Slow SSE stream",
					"chat_id", in.ChatID, "session_id", out.SessionID, "took", took)
			}
		}
	}()

	budget := h.Cfg.Stream.TokenBudget
	meta := map[string]any{
		"used_context": out.UsedContext,
		"session_id":   out.SessionID,
		"idempotent":   out.Idempotent,
		"source":       in.Source,
		"thread_id":    in.ThreadID,
		"rate_limit": map[string]any{
			"limit":     out.RateLimit.Limit,
			"remaining": out.RateLimit.Remaining,
			"used":      out.RateLimit.Used,
		},
	}
	if budget > 0 {
		meta["token_budget"] = budget
	}
	if err := emit("meta", meta); err != nil {
		return nil
	}

	var detector *loopdetect.Detector
	if h.Cfg.Stream.LoopDetect {
		detector = loopdetect.New(h.Cfg.Stream.LoopWindow, h.Cfg.Stream.LoopThreshold, h.Cfg.Stream.LoopEntropy)
	}

	tokens := strings.Fields(out.Response)
	sent := 0
	partialLen := 0
	cancelled := false

	progress := func(extra map[string]any) error {
		elapsed := h.now().Sub(start).Seconds()
		rate := 0.0
		if elapsed > 0 {
			rate = float64(sent) / elapsed
		}
		data := map[string]any{
			"tokens":         sent,
			"tokens_per_sec": rate,
			"partial_len":    partialLen,
		}
		for k, v := range extra {
			data[k] = v
		}
		return emit("progress", data)
	}

	for i, word := range tokens {
		if tok.Cancelled() || ctx.Err() != nil {
			cancelled = true
			break
		}
		h.AntiIdle.MarkActivity()

		if err := emit("message", map[string]any{"token": word}); err != nil {
			return nil
		}
		sent++
		partialLen += len(word) + 1

		if delay := h.Cfg.Stream.DevDelay; delay > 0 {
			select {
			case <-ctx.Done():
				cancelled = true
			case <-tok.Done():
				cancelled = true
			case <-time.After(delay):
			}
			if cancelled {
				break
			}
		}

		final := i == len(tokens)-1
		if sent%progressEvery == 0 || final {
			if err := progress(nil); err != nil {
				return nil
			}
		}
		if budget > 0 {
			remaining := budget - sent
			if err := progress(map[string]any{"budget_remaining": max(remaining, 0)}); err != nil {
				return nil
			}
			if remaining <= 0 {
				h.Metrics.TokenBudgetHits.Inc()
				break
			}
		}
		if detector != nil {
			if ratio, looping := detector.Check(word); looping {
				h.Metrics.LoopDetected.Inc()
				slog.Warn("Loop detected in stream",
					"chat_id", in.ChatID, "session_id", out.SessionID, "ratio", ratio)
				break
			}
		}
	}

	if cancelled {
		// A cancelled stream emits nothing past the iteration boundary.
		return nil
	}
	if err := progress(nil); err != nil {
		return nil
	}
	_ = emit("done", map[string]any{"tokens": sent})
	return nil
}
