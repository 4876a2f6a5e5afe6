package contextstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/masking"
)

// Store is the NDJSON context store rooted at cfg.Dir. All appends to
// one chat are serialized by a per-chat lock covering both the session
// file and index.json.
type Store struct {
	cfg     config.ContextConfig
	masking *masking.Service

	mu    sync.Mutex // guards locks map
	locks map[string]*sync.Mutex

	storage    storageState
	flusher    *flusher
	now        func() time.Time
	onActivity func()
}

// New creates a store. masking may be nil (no redaction). When
// cfg.FlushInterval > 0, writes go through a buffered flusher that
// must be started with StartFlusher.
func New(cfg config.ContextConfig, maskingSvc *masking.Service) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating context dir: %w", err)
	}
	s := &Store{
		cfg:     cfg,
		masking: maskingSvc,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
	s.storage.load(cfg)
	if cfg.FlushInterval > 0 {
		s.flusher = newFlusher(s, cfg.FlushInterval)
	}
	return s, nil
}

// SetActivityFunc registers a callback invoked on every successful
// write. The hub wires this to the anti-idle tracker.
func (s *Store) SetActivityFunc(fn func()) {
	s.onActivity = fn
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.cfg.Dir }

// lockFor returns the append lock for a chat.
func (s *Store) lockFor(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// SaveMessage masks, then either enqueues (buffered mode) or appends
// the message. The stored message id is assigned at append time; the
// returned id is only meaningful in direct mode.
func (s *Store) SaveMessage(chatID, sessionID string, msg ChatMessage) (uint64, error) {
	if s.onActivity != nil {
		s.onActivity()
	}
	if msg.TimestampMS == 0 {
		msg.TimestampMS = nowMS(s.now())
	}
	if s.masking != nil {
		msg.Content = s.masking.Active().Mask(msg.Role, msg.Content)
	}

	if s.flusher != nil {
		s.flusher.enqueue(pendingWrite{chatID: chatID, sessionID: sessionID, msg: msg})
		return 0, nil
	}
	return s.append(chatID, sessionID, []ChatMessage{msg})
}

// append writes messages under the chat lock, handling rotation,
// id assignment, and index maintenance. Returns the last assigned id.
func (s *Store) append(chatID, sessionID string, msgs []ChatMessage) (uint64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()
	return s.appendLocked(chatID, sessionID, msgs)
}

func (s *Store) appendLocked(chatID, sessionID string, msgs []ChatMessage) (uint64, error) {
	chatDir := filepath.Join(s.cfg.Dir, chatID)
	if err := os.MkdirAll(chatDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating chat dir: %w", err)
	}

	now := s.now().UTC()
	if s.cfg.DailyRotation && s.cfg.ArchiveGz {
		if err := s.archivePastDays(chatDir, sessionID, now); err != nil {
			slog.Error("Failed to archive rotated session file",
				"chat_id", chatID, "session_id", sessionID, "error", err)
		}
	}

	idx, err := s.loadIndex(chatDir)
	if err != nil {
		return 0, err
	}
	entry := idx[sessionID]

	path := s.activeFile(chatDir, sessionID, now)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening session file: %w", err)
	}

	var written int64
	lastID := entry.LastID
	for i := range msgs {
		if msgs[i].MessageID <= lastID {
			msgs[i].MessageID = lastID + 1
		}
		lastID = msgs[i].MessageID
		line, err := json.Marshal(msgs[i])
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("encoding message: %w", err)
		}
		n, err := f.Write(append(line, '\n'))
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("appending message: %w", err)
		}
		written += int64(n)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing session file: %w", err)
	}

	entry.LastID = lastID
	entry.MessageCount += len(msgs)
	entry.ApproxBytes += written
	entry.UpdatedMS = nowMS(now)
	s.refreshKeywords(&entry, msgs, now)
	idx[sessionID] = entry
	if err := s.saveIndex(chatDir, idx); err != nil {
		return 0, err
	}

	s.storage.observe(s.cfg, written, len(msgs))
	if err := s.maybeTrim(path); err != nil {
		slog.Warn("Failed to trim oversized session file", "path", path, "error", err)
	}

	return lastID, nil
}

// activeFile returns today's file for the session.
func (s *Store) activeFile(chatDir, sessionID string, now time.Time) string {
	if s.cfg.DailyRotation {
		return filepath.Join(chatDir, fmt.Sprintf("%s-%s.ndjson", sessionID, now.Format("20060102")))
	}
	return filepath.Join(chatDir, sessionID+".ndjson")
}

// sessionOwnsFile guards against one session id matching another's
// dated files ("s" vs "s-extra").
func sessionOwnsFile(sessionID, name string) bool {
	if name == sessionID+".ndjson" {
		return true
	}
	for _, suffix := range []string{".ndjson", ".ndjson.gz"} {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		base := strings.TrimSuffix(name, suffix)
		if len(base) == len(sessionID)+9 && strings.HasPrefix(base, sessionID+"-") {
			if isDateSuffix(base[len(sessionID)+1:]) {
				return true
			}
		}
	}
	return false
}

func isDateSuffix(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Close flushes and stops the buffered writer, if any.
func (s *Store) Close() {
	if s.flusher != nil {
		s.flusher.stop()
	}
}
