// Package idempotency caches chat responses keyed by
// "{chat_id}|{session_id}|{request_id}" so that client retries return
// the original response instead of re-running the worker.
package idempotency

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCapacity bounds the in-memory response cache.
const LRUCapacity = 10_000

// Key builds the idempotency key. An absent session id is recorded as
// "<none>" so that keys stay unambiguous.
func Key(chatID, sessionID, requestID string) string {
	if sessionID == "" {
		sessionID = "<none>"
	}
	return fmt.Sprintf("%s|%s|%s", chatID, sessionID, requestID)
}

type persistedEntry struct {
	K   string `json:"k"`
	V   string `json:"v"`
	Exp int64  `json:"exp"`
}

// Store is the two-layer idempotency cache: a bounded LRU in front of
// an optional append-only JSONL file. The persistent layer is replayed
// into memory at startup; gets never touch the disk.
type Store struct {
	lru *lru.Cache[string, string]

	mu      sync.Mutex
	path    string // empty when persistence is disabled
	ttl     time.Duration
	entries map[string]persistedEntry
	now     func() time.Time
}

// New creates an in-memory-only store.
func New() *Store {
	c, _ := lru.New[string, string](LRUCapacity)
	return &Store{lru: c, entries: make(map[string]persistedEntry), now: time.Now}
}

// NewPersistent creates a store backed by {dir}/idempotent.jsonl.
// Existing non-expired entries are replayed into memory; corrupt lines
// are skipped.
func NewPersistent(dir string, ttl time.Duration) (*Store, error) {
	s := New()
	s.ttl = ttl
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating idempotency dir: %w", err)
	}
	s.path = filepath.Join(dir, "idempotent.jsonl")
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening idempotency log: %w", err)
	}
	defer f.Close()

	now := s.now().Unix()
	loaded, skipped := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e persistedEntry
		if err := json.Unmarshal(line, &e); err != nil || e.K == "" {
			skipped++
			continue
		}
		if e.Exp < now {
			continue
		}
		s.entries[e.K] = e
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading idempotency log: %w", err)
	}
	if loaded > 0 || skipped > 0 {
		slog.Info("Idempotency log replayed", "loaded", loaded, "skipped", skipped)
	}
	return nil
}

// Get returns the cached response for key, checking the LRU first and
// the replayed persistent map second.
func (s *Store) Get(key string) (string, bool) {
	if v, ok := s.lru.Get(key); ok {
		return v, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.Exp < s.now().Unix() {
		return "", false
	}
	return e.V, true
}

// Put stores the response in the LRU and, when persistence is
// enabled, appends it to the JSONL log with exp = now + TTL. Append
// failures are logged; the in-memory layer still serves the entry.
func (s *Store) Put(key, value string) {
	s.lru.Add(key, value)
	if s.path == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := persistedEntry{K: key, V: value, Exp: s.now().Add(s.ttl).Unix()}
	s.entries[key] = e

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("Failed to open idempotency log", "error", err)
		return
	}
	defer f.Close()
	line, _ := json.Marshal(e)
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("Failed to append idempotency entry", "error", err)
	}
}

// Len returns the number of entries in the LRU layer.
func (s *Store) Len() int {
	return s.lru.Len()
}
