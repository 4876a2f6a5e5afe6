// Package contextstore persists conversational context as per-session
// append-only NDJSON files with daily rotation, gzip archiving, PII
// masking, and a per-chat session index.
package contextstore

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one line of a session NDJSON file. Once written a
// message is immutable; message ids strictly increase per session.
type ChatMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	TimestampMS int64  `json:"ts_ms"`
	Source      string `json:"source,omitempty"`
	MessageID   uint64 `json:"message_id"`
	ThreadID    string `json:"thread_id,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
}

// IndexEntry is the per-session record inside a chat's index.json.
// LastID always equals the highest message id written to any file of
// the session. ApproxBytes is cumulative over rotated files and is
// not decreased by trims.
type IndexEntry struct {
	UpdatedMS    int64    `json:"updated_ms"`
	MessageCount int      `json:"message_count"`
	ApproxBytes  int64    `json:"approx_bytes"`
	LastID       uint64   `json:"last_id"`
	Keywords     []string `json:"keywords,omitempty"`
	KwUpdatedMS  int64    `json:"kw_updated_ms,omitempty"`
}

// StorageMetrics is the adaptive sizing state persisted at
// {root}/storage_metrics.json. MaxLines/MaxBytes derive from available
// disk unless pinned by CONTEXT_MAX_LINES / CONTEXT_MAX_BYTES.
type StorageMetrics struct {
	DiskTotal    uint64  `json:"disk_total"`
	DiskAvail    uint64  `json:"disk_available"`
	AvgMsgBytes  float64 `json:"avg_msg_bytes"`
	MaxLines     int     `json:"max_lines"`
	MaxBytes     int64   `json:"max_bytes"`
	UpdatedMS    int64   `json:"updated_ms"`
	sampledCount int64
}

// nowMS converts a time to epoch milliseconds.
func nowMS(t time.Time) int64 {
	return t.UnixMilli()
}
