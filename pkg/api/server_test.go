package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neira-project/neira/pkg/antiidle"
	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/cancel"
	"github.com/neira-project/neira/pkg/cells"
	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/contextstore"
	"github.com/neira-project/neira/pkg/control"
	"github.com/neira-project/neira/pkg/hub"
	"github.com/neira-project/neira/pkg/idempotency"
	"github.com/neira-project/neira/pkg/masking"
	"github.com/neira-project/neira/pkg/memory"
	"github.com/neira-project/neira/pkg/metrics"
	"github.com/neira-project/neira/pkg/registry"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := &config.Config{
		Context: config.ContextConfig{Dir: t.TempDir()},
		Masking: config.MaskingConfig{Roles: []string{"user"}},
		Chat:    config.ChatConfig{RateKey: "auth"},
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
		AntiIdle: config.AntiIdleConfig{Enabled: true, EMAAlpha: 0.3},
		Tokens:   config.TokenConfig{Admin: "a", Write: "w", Read: "r"},
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

	shutdown := cancel.New()
	plane := control.New(cfg.Control, met, shutdown)
	reg := registry.New(met)
	reg.RegisterChatCell(cells.EchoChat{})
	reg.RegisterAnalysisCell(cells.EchoAnalysis{})

	h := hub.New(cfg, met, authStore, maskingSvc, store, idempotency.New(),
		reg, memory.NewStore(), plane, antiidle.New(cfg.AntiIdle, met, nil, nil), nil, shutdown)
	return NewServer(h, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint_OK(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Chat.RateLimitPerMin = 5 })

	rec := doJSON(t, s, http.MethodPost, "/api/neira/chat", ChatRequest{
		CellID: "echo.chat", ChatID: "c", SessionID: "s",
		Message: "hi", Auth: "w", Persist: true, RequestID: "r1",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi", resp.Response)
	assert.False(t, resp.Idempotent)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "minute", rec.Header().Get("X-RateLimit-Window"))
}

func TestChatEndpoint_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  ChatRequest
		want int
	}{
		{"empty message", ChatRequest{CellID: "echo.chat", ChatID: "c", Message: " ", Auth: "w"}, http.StatusBadRequest},
		{"unknown token", ChatRequest{CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "zzz"}, http.StatusUnauthorized},
		{"read token persisting", ChatRequest{CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "r", Persist: true}, http.StatusForbidden},
		{"unknown cell", ChatRequest{CellID: "nope", ChatID: "c", Message: "hi", Auth: "w"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/neira/chat", tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestChatEndpoint_PausedReturns503(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/neira/control/pause", PauseRequest{Auth: "a", Reason: "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/neira/chat", ChatRequest{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/neira/control/resume", PauseRequest{Auth: "a"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/neira/chat", ChatRequest{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestControlEndpoints_RequireAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/neira/control/pause", PauseRequest{Auth: "w"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/neira/control/kill", KillRequest{Auth: "r"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit_429(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Chat.RateLimitPerMin = 1 })
	body := ChatRequest{CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w"}

	rec := doJSON(t, s, http.MethodPost, "/api/neira/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/neira/chat", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestAnalysisEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/neira/analysis", AnalysisRequest{
		ID: "echo.analysis", Input: "study this", Auth: "r",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res cells.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "study this", res.Output)
	assert.Equal(t, cells.StatusActive, res.Status)
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)

	// New session id.
	rec := doJSON(t, s, http.MethodPost, "/api/neira/chat/session/new", SessionNewRequest{Auth: "w", Prefix: "lab"})
	require.Equal(t, http.StatusOK, rec.Code)
	var created SessionNewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.SessionID, "lab-"))

	// Chat into a fixed session, then read it back as NDJSON.
	rec = doJSON(t, s, http.MethodPost, "/api/neira/chat", ChatRequest{
		CellID: "echo.chat", ChatID: "c", SessionID: "s", Message: "hello world", Auth: "w", Persist: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/neira/chat/c/s?auth=r", nil)
	out := httptest.NewRecorder()
	s.echo.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "application/x-ndjson", out.Header().Get("Content-Type"))

	var lines []contextstore.ChatMessage
	scanner := bufio.NewScanner(out.Body)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m contextstore.ChatMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "hello world", lines[0].Content)

	// Search.
	req = httptest.NewRequest(http.MethodGet, "/api/neira/chat/c/s/search?auth=r&q=hello&role=user", nil)
	out = httptest.NewRecorder()
	s.echo.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), "hello world")

	// Rename, then delete.
	rec = doJSON(t, s, http.MethodPost, "/api/neira/chat/c/s/rename", SessionRenameRequest{Auth: "w", NewSessionID: "s2"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/neira/chat/c/s2?auth=w", nil)
	out = httptest.NewRecorder()
	s.echo.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNoContent, out.Code)
}

func TestImportEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := `{"role":"user","content":"imported"}` + "\n" + `{"role":"assistant","content":"reply"}` + "\n"
	req := httptest.NewRequest(http.MethodPost, "/api/neira/chat/c/import/s?auth=w", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "application/x-ndjson")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Imported)
}

func TestStreamEndpoint_SSE(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/neira/chat/stream", ChatRequest{
		CellID: "echo.chat", ChatID: "c", Message: "alpha beta gamma", Auth: "r",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: meta")
	assert.Equal(t, 3, strings.Count(body, "event: message"))
	assert.Contains(t, body, "event: done")
}

func TestTraceEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Enable tracing, run a traced chat, dump the buffer.
	rec := doJSON(t, s, http.MethodPost, "/api/neira/trace/toggle", ToggleRequest{Auth: "a"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/neira/chat", ChatRequest{
		CellID: "echo.chat", ChatID: "c", Message: "hi", Auth: "w", RequestID: "r42",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/neira/trace/r42?auth=r", nil)
	out := httptest.NewRecorder()
	s.echo.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), "chat.start")
	assert.Contains(t, out.Body.String(), "chat.done")
}

func TestSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/neira/inspect/snapshot?auth=a&include=metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Path)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_errors_total")
}
