package hub

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/cells"
	"github.com/neira-project/neira/pkg/contextstore"
	"github.com/neira-project/neira/pkg/idempotency"
	"github.com/neira-project/neira/pkg/ratelimit"
	"github.com/neira-project/neira/pkg/trigger"
)

// ChatInput is one chat request.
type ChatInput struct {
	CellID    string
	ChatID    string
	SessionID string
	Message   string
	Auth      string
	Persist   bool
	RequestID string
	Source    string
	ThreadID  string
}

// ChatOutput is the chat hub's result.
type ChatOutput struct {
	Response    string
	SessionID   string
	Idempotent  bool
	UsedContext int
	RateLimit   ratelimit.Result
}

// Chat runs the full chat pipeline: pause gate, auth, rate limit,
// train command, triggers, idempotency, persistence, worker dispatch,
// and response caching.
func (h *Hub) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	h.Control.Trace(in.RequestID, "chat.start", map[string]any{
		"cell_id": in.CellID, "chat_id": in.ChatID,
	})

	if err := h.rejectIfPaused(); err != nil {
		return nil, err
	}

	// 1. Empty message.
	if strings.TrimSpace(in.Message) == "" {
		h.Metrics.ChatErrors.Inc()
		return nil, errBadRequest("empty message")
	}

	// 2. Authorization. Persisting (or touching an existing session)
	// needs write scope; safe mode escalates that to admin inside the
	// scope check.
	if !h.Auth.CheckAuth(in.Auth) {
		h.Metrics.ChatErrors.Inc()
		return nil, errUnauthorized()
	}
	if in.Persist || in.SessionID != "" {
		if !h.Auth.CheckScope(in.Auth, auth.ScopeWrite) {
			h.Metrics.ChatErrors.Inc()
			return nil, errForbidden("write scope required")
		}
	}
	h.AntiIdle.MarkActivity()

	// 3. Rate limit.
	key := ratelimit.BuildKey(ratelimit.Mode(h.Cfg.Chat.RateKey), in.Auth, in.ChatID, in.SessionID)
	rl, allowed := h.Limiter.Allow(key)
	if !allowed {
		h.Metrics.RateLimited.Inc()
		h.Metrics.ChatErrors.Inc()
		h.Control.Trace(in.RequestID, "chat.rate_limited", map[string]any{"key": key})
		return nil, errRateLimited(rl)
	}

	// 4. Train command: apply key=value pairs as training env vars and
	// force the train trigger.
	var triggers []string
	norm := trigger.Normalize(in.Message)
	if trigger.IsTrainCommand(norm) {
		args := trigger.ParseTrainArgs(strings.TrimPrefix(norm, trigger.TrainCommand))
		for k, v := range args {
			if err := os.Setenv("NEIRA_TRAIN_"+strings.ToUpper(k), v); err != nil {
				slog.Warn("Failed to set training env", "key", k, "error", err)
			}
		}
		triggers = append(triggers, trigger.TrainCommand)
	}

	// 5. Triggers and action-cell preload.
	triggers = appendUnique(triggers, trigger.Detect(in.Message)...)
	h.preloadActions(ctx, triggers)

	// 6. Resolve the chat worker.
	worker, ok := h.Registry.GetChatCell(in.CellID)
	if !ok {
		h.Metrics.ChatErrors.Inc()
		return nil, errNotFound("chat cell " + in.CellID)
	}

	// 7. Idempotency lookup.
	var idemKey string
	if in.RequestID != "" {
		idemKey = idempotency.Key(in.ChatID, in.SessionID, in.RequestID)
		if cached, hit := h.Idem.Get(idemKey); hit {
			h.Metrics.IdempotentHits.Inc()
			h.Control.Trace(in.RequestID, "chat.idempotent_hit", nil)
			return &ChatOutput{
				Response:   cached,
				SessionID:  in.SessionID,
				Idempotent: true,
				RateLimit:  rl,
			}, nil
		}
	}

	// 8–9. Session resolution for persistence.
	sessionID := in.SessionID
	if in.Persist && sessionID == "" {
		if h.Cfg.Chat.RequireSessionID {
			h.Metrics.ChatErrors.Inc()
			return nil, errBadRequest("session_id required to persist")
		}
		sessionID = h.autoSessionID()
		h.Metrics.SessionsAutocreated.Inc()
	}

	// Backpressure gate before dispatch.
	h.throttle(ctx)

	// 10. Write-in.
	usedContext := 0
	if sessionID != "" {
		if _, err := h.Store.SaveMessage(in.ChatID, sessionID, contextstore.ChatMessage{
			Role:     contextstore.RoleUser,
			Content:  in.Message,
			Source:   in.Source,
			ThreadID: in.ThreadID,
		}); err != nil {
			return nil, errInternal(err)
		}
		if history, err := h.Store.LoadSession(in.ChatID, sessionID); err == nil {
			usedContext = len(history)
		}
	}

	// 11. Worker dispatch with response timing.
	start := h.now()
	response, err := worker.Chat(ctx, cells.ChatRequest{
		ChatID:    in.ChatID,
		SessionID: sessionID,
		Message:   in.Message,
		Storage:   h.Store,
	})
	h.Metrics.ChatResponseSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		h.Metrics.ChatErrors.Inc()
		return nil, errInternal(err)
	}

	// Write-out.
	if sessionID != "" {
		if _, err := h.Store.SaveMessage(in.ChatID, sessionID, contextstore.ChatMessage{
			Role:     contextstore.RoleAssistant,
			Content:  response,
			Source:   in.CellID,
			ThreadID: in.ThreadID,
		}); err != nil {
			slog.Error("Failed to persist assistant message",
				"chat_id", in.ChatID, "session_id", sessionID, "error", err)
		}
	}

	// 12. Cache for replays.
	if idemKey != "" {
		h.Idem.Put(idemKey, response)
	}

	h.Control.Trace(in.RequestID, "chat.done", map[string]any{"session_id": sessionID})
	return &ChatOutput{
		Response:    response,
		SessionID:   sessionID,
		UsedContext: usedContext,
		RateLimit:   rl,
	}, nil
}

// preloadActions hands the trigger list and memory view to every
// registered action cell. Failures are logged, never fatal.
func (h *Hub) preloadActions(ctx context.Context, triggers []string) {
	if len(triggers) == 0 {
		return
	}
	h.Memory.PreloadByTrigger(triggers)
	for _, cell := range h.Registry.ActionCells() {
		if err := cell.Trigger(ctx, triggers, h.Memory); err != nil {
			slog.Warn("Action cell preload failed", "cell_id", cell.ID(), "error", err)
		}
	}
}

func appendUnique(dst []string, more ...string) []string {
	for _, m := range more {
		found := false
		for _, d := range dst {
			if d == m {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, m)
		}
	}
	return dst
}
