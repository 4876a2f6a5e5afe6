package hub

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neira-project/neira/pkg/antiidle"
	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/cancel"
	"github.com/neira-project/neira/pkg/cells"
	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/contextstore"
	"github.com/neira-project/neira/pkg/control"
	"github.com/neira-project/neira/pkg/idempotency"
	"github.com/neira-project/neira/pkg/masking"
	"github.com/neira-project/neira/pkg/memory"
	"github.com/neira-project/neira/pkg/metrics"
	"github.com/neira-project/neira/pkg/registry"
)

func newTestHub(t *testing.T, mutate ...func(*config.Config)) *Hub {
	t.Helper()
	cfg := &config.Config{
		Context: config.ContextConfig{Dir: t.TempDir()},
		Masking: config.MaskingConfig{Roles: []string{"user"}},
		Chat: config.ChatConfig{
			RateLimitPerMin: 0,
			RateKey:         "auth",
		},
		Analysis: config.AnalysisConfig{
			QueueRecalcMin:     100,
			CheckpointInterval: 50 * time.Millisecond,
			BackpressureHigh:   100,
		},
		Watchdog: config.WatchdogConfig{
			SoftDefault: 30 * time.Second,
			HardDefault: 60 * time.Second,
		},
		Stream: config.StreamConfig{
			LoopDetect:    true,
			LoopWindow:    50,
			LoopThreshold: 0.6,
		},
		Control: config.ControlConfig{
			AllowPause:  true,
			AllowKill:   true,
			SnapshotDir: t.TempDir(),
			TraceMax:    64,
		},
		AntiIdle: config.AntiIdleConfig{
			Enabled:   true,
			IdleAfter: 5 * time.Minute,
			LongAfter: 30 * time.Minute,
			DeepAfter: 2 * time.Hour,
			EMAAlpha:  0.3,
		},
		Tokens: config.TokenConfig{Admin: "a", Write: "w", Read: "r"},
	}
	for _, m := range mutate {
		m(cfg)
	}

	met := metrics.New()
	authStore := auth.NewStoreFromConfig(cfg.Tokens)
	maskingSvc := masking.NewService(cfg.Masking)
	store, err := contextstore.New(cfg.Context, maskingSvc)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	mem := memory.NewStore()
	shutdown := cancel.New()
	plane := control.New(cfg.Control, met, shutdown)
	tracker := antiidle.New(cfg.AntiIdle, met, nil, nil)
	reg := registry.New(met)
	reg.RegisterChatCell(cells.EchoChat{})
	reg.RegisterAnalysisCell(cells.EchoAnalysis{})

	h := New(cfg, met, authStore, maskingSvc, store, idempotency.New(),
		reg, mem, plane, tracker, nil, shutdown)
	return h
}

func TestChat_IdempotentReplay(t *testing.T) {
	h := newTestHub(t)
	in := ChatInput{
		CellID:    "echo.chat",
		ChatID:    "c",
		SessionID: "s",
		Message:   "hi",
		Auth:      "w",
		Persist:   true,
		RequestID: "r1",
	}

	out, err := h.Chat(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Response)
	assert.False(t, out.Idempotent)
	assert.Equal(t, "s", out.SessionID)

	msgs, err := h.Store.LoadSession("c", "s")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "one user line plus the assistant line")
	assert.Equal(t, contextstore.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, uint64(1), msgs[0].MessageID)
	assert.Equal(t, contextstore.RoleAssistant, msgs[1].Role)

	// Replay with the same request id: same response, no new lines.
	out2, err := h.Chat(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "hi", out2.Response)
	assert.True(t, out2.Idempotent)

	msgs, err = h.Store.LoadSession("c", "s")
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "replay writes nothing")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics.IdempotentHits))
}

func TestChat_EmptyMessage(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "   ", Auth: "w",
	})
	require.Error(t, err)
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeBadRequest, he.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics.ChatErrors))
}

func TestChat_AuthAndScopes(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "nope",
	})
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeUnauthorized, he.Code)

	// Read token cannot persist.
	_, err = h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "r", Persist: true,
	})
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeForbidden, he.Code)

	// Read token can chat without persistence.
	out, err := h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "r",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Response)
	assert.Empty(t, out.SessionID)
}

func TestChat_PausedSystem(t *testing.T) {
	h := newTestHub(t)
	h.Control.Pause("maintenance", nil)

	_, err := h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w",
	})
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodePaused, he.Code)

	h.Control.Resume()
	_, err = h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w",
	})
	assert.NoError(t, err)
}

func TestChat_RateLimit(t *testing.T) {
	h := newTestHub(t, func(c *config.Config) {
		c.Chat.RateLimitPerMin = 2
	})

	in := ChatInput{CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w"}

	out, err := h.Chat(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, out.RateLimit.Remaining)

	out, err = h.Chat(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0, out.RateLimit.Remaining)

	_, err = h.Chat(context.Background(), in)
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeRateLimited, he.Code)
	require.NotNil(t, he.RateLimit)
	assert.Equal(t, 2, he.RateLimit.Used)
}

func TestChat_AutoSession(t *testing.T) {
	h := newTestHub(t)

	out, err := h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w", Persist: true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.SessionID, "auto-")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics.SessionsAutocreated))

	// PERSIST_REQUIRE_SESSION_ID rejects instead.
	h2 := newTestHub(t, func(c *config.Config) {
		c.Chat.RequireSessionID = true
	})
	_, err = h2.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w", Persist: true,
	})
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeBadRequest, he.Code)
}

func TestChat_UnknownCell(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Chat(context.Background(), ChatInput{
		CellID: "missing", ChatID: "c", Message: "hi", Auth: "w",
	})
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeNotFound, he.Code)
}

func TestAnalyze_HappyPath(t *testing.T) {
	h := newTestHub(t)

	res, err := h.Analyze(context.Background(), AnalyzeInput{
		ID: "echo.analysis", Input: "check this", Auth: "r",
	})
	require.NoError(t, err)
	assert.Equal(t, cells.StatusActive, res.Status)
	assert.Equal(t, "check this", res.Output)

	rec, ok := h.Memory.Record("echo.analysis")
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.Time.Count)
}

func TestAnalyze_SoftTimeoutRequeues(t *testing.T) {
	t.Setenv("WATCHDOG_SOFT_MS_SLOW_CELL", "100")
	t.Setenv("WATCHDOG_HARD_MS_SLOW_CELL", "5000")
	h := newTestHub(t, func(c *config.Config) {
		c.Analysis.AutoRequeueOnSoft = true
	})
	h.Registry.RegisterAnalysisCell(cells.DelayAnalysis{CellID: "slow.cell", Delay: 300 * time.Millisecond})

	res, err := h.Analyze(context.Background(), AnalyzeInput{
		ID: "slow.cell", Input: "x", Auth: "r",
	})
	require.NoError(t, err)
	assert.Equal(t, cells.StatusDraft, res.Status)
	assert.Equal(t, "Re-queued to long after soft timeout", res.Explanation)

	_, _, long := h.Sched.Lengths()
	assert.Equal(t, 1, long, "task re-enqueued into the long queue")
	assert.Equal(t, float64(1),
		testutil.ToFloat64(h.Metrics.WatchdogTimeouts.WithLabelValues("soft")))

	cp, ok := h.Memory.Checkpoint("slow.cell")
	require.True(t, ok)
	assert.Equal(t, cells.StatusDraft, cp.Status)
}

func TestAnalyze_HardTimeout(t *testing.T) {
	t.Setenv("WATCHDOG_SOFT_MS_STUCK_CELL", "50")
	t.Setenv("WATCHDOG_HARD_MS_STUCK_CELL", "150")
	h := newTestHub(t)
	h.Registry.RegisterAnalysisCell(cells.DelayAnalysis{CellID: "stuck.cell", Delay: 10 * time.Second})

	start := time.Now()
	res, err := h.Analyze(context.Background(), AnalyzeInput{
		ID: "stuck.cell", Input: "x", Auth: "r",
	})
	require.NoError(t, err)
	assert.Equal(t, cells.StatusError, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(h.Metrics.WatchdogTimeouts.WithLabelValues("hard")))

	cp, ok := h.Memory.Checkpoint("stuck.cell")
	require.True(t, ok)
	assert.Equal(t, cells.StatusError, cp.Status)
}

func TestAnalyze_Cancellation(t *testing.T) {
	h := newTestHub(t)
	h.Registry.RegisterAnalysisCell(cells.DelayAnalysis{CellID: "cancel.me", Delay: 10 * time.Second})

	done := make(chan *cells.AnalysisResult, 1)
	go func() {
		res, err := h.Analyze(context.Background(), AnalyzeInput{
			ID: "cancel.me", Input: "x", Auth: "r",
		})
		require.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		return h.CancelAnalysis("cancel.me")
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case res := <-done:
		assert.Equal(t, cells.StatusError, res.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("analysis did not return after cancellation")
	}
}

func TestResumeAnalysis_FromCheckpoint(t *testing.T) {
	h := newTestHub(t)

	_, err := h.ResumeAnalysis("nothing", "r")
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeNotFound, he.Code)

	h.Memory.SaveCheckpoint("a", &cells.AnalysisResult{ID: "a", Status: cells.StatusDraft})
	cp, err := h.ResumeAnalysis("a", "r")
	require.NoError(t, err)
	assert.Equal(t, cells.StatusDraft, cp.Status)
}

func TestAnalyze_StepsBudgetTruncation(t *testing.T) {
	h := newTestHub(t, func(c *config.Config) {
		c.Analysis.ReasoningStepBudget = 1
	})

	res, err := h.Analyze(context.Background(), AnalyzeInput{
		ID: "echo.analysis", Input: "x", Auth: "r",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.ReasoningChain), 1)
}

func TestChat_QuarantineTriggerEngagesSafeMode(t *testing.T) {
	h := newTestHub(t)
	h.Registry.RegisterActionCell(cells.QuarantineGuard{EnterSafeMode: h.Auth.EnterSafeMode})
	require.False(t, h.Auth.SafeMode())

	_, err := h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "this module looks suspicious", Auth: "r",
	})
	require.NoError(t, err)
	assert.True(t, h.Auth.SafeMode())

	// Safe mode is one-way: write tokens now fail to persist.
	_, err = h.Chat(context.Background(), ChatInput{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w", Persist: true,
	})
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, CodeForbidden, he.Code)
}

func TestNewSessionID_Format(t *testing.T) {
	h := newTestHub(t)
	id := h.NewSessionID("")
	assert.Regexp(t, `^sess-\d{14}-[0-9a-f]{8}$`, id)
	id = h.NewSessionID("lab")
	assert.Regexp(t, `^lab-\d{14}-[0-9a-f]{8}$`, id)
}
