package api

// ChatRequest is the HTTP body for POST /api/neira/chat and
// /api/neira/chat/stream.
type ChatRequest struct {
	CellID       string `json:"cell_id"`
	ChatID       string `json:"chat_id"`
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message"`
	Auth         string `json:"auth,omitempty"`
	Persist      bool   `json:"persist,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Source       string `json:"source,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// StreamCancelRequest is the body for POST /api/neira/chat/stream/cancel.
type StreamCancelRequest struct {
	Auth      string `json:"auth"`
	ChatID    string `json:"chat_id"`
	SessionID string `json:"session_id"`
}

// AnalysisRequest is the body for POST /api/neira/analysis.
type AnalysisRequest struct {
	ID       string `json:"id"`
	Input    string `json:"input"`
	Auth     string `json:"auth"`
	BudgetMS int64  `json:"budget_ms,omitempty"`
}

// AnalysisCancelRequest is the body for POST /api/neira/analysis/cancel.
type AnalysisCancelRequest struct {
	Auth string `json:"auth"`
	ID   string `json:"id"`
}

// SessionNewRequest is the body for POST /api/neira/chat/session/new.
type SessionNewRequest struct {
	Auth   string `json:"auth"`
	Prefix string `json:"prefix,omitempty"`
}

// SessionRenameRequest is the body for the rename endpoint.
type SessionRenameRequest struct {
	Auth         string `json:"auth"`
	NewSessionID string `json:"new_session_id"`
}

// PauseRequest is the body for POST /api/neira/control/pause.
type PauseRequest struct {
	Auth               string `json:"auth"`
	Reason             string `json:"reason,omitempty"`
	DrainActiveStreams bool   `json:"drain_active_streams,omitempty"`
}

// KillRequest is the body for POST /api/neira/control/kill.
type KillRequest struct {
	Auth    string `json:"auth"`
	GraceMS int64  `json:"grace_ms,omitempty"`
}

// ToggleRequest is the body for toggle endpoints; Enabled nil flips.
type ToggleRequest struct {
	Auth    string `json:"auth"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// MaskingPreviewRequest is the body for the masking dry-run endpoint.
type MaskingPreviewRequest struct {
	Auth    string   `json:"auth"`
	Text    string   `json:"text"`
	Regexes []string `json:"regexes,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}
