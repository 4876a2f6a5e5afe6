package cells

import (
	"context"

	"github.com/neira-project/neira/pkg/contextstore"
)

// ContextReader is the storage view handed to chat workers: enough to
// read conversation history, nothing that can mutate it.
type ContextReader interface {
	LoadSession(chatID, sessionID string) ([]contextstore.ChatMessage, error)
}

// MemoryView is the read-only slice of the memory store given to
// action cells during trigger preloading.
type MemoryView interface {
	RecordIDs() []string
	Checkpoint(id string) (*AnalysisResult, bool)
}

// AnalysisCell performs one analysis. Implementations observe ctx on
// their check boundaries; the hub enforces deadlines externally.
type AnalysisCell interface {
	ID() string
	Analyze(ctx context.Context, input string) (*AnalysisResult, error)
}

// ActionCell reacts to detected triggers. Preload happens before the
// main worker dispatch; implementations must be quick or spawn their
// own work.
type ActionCell interface {
	ID() string
	Trigger(ctx context.Context, triggers []string, mem MemoryView) error
}

// ChatRequest is the input to a chat worker.
type ChatRequest struct {
	ChatID    string
	SessionID string
	Message   string
	Storage   ContextReader
}

// ChatCell produces a chat response.
type ChatCell interface {
	ID() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
}
