package contextstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	indexFile   = "index.json"
	maxKeywords = 32
)

// loadIndex reads a chat directory's index.json. A missing file yields
// an empty index.
func (s *Store) loadIndex(chatDir string) (map[string]IndexEntry, error) {
	raw, err := os.ReadFile(filepath.Join(chatDir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]IndexEntry), nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	idx := make(map[string]IndexEntry)
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	return idx, nil
}

// saveIndex writes index.json atomically (temp file + rename).
func (s *Store) saveIndex(chatDir string, idx map[string]IndexEntry) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	tmp := filepath.Join(chatDir, indexFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(chatDir, indexFile)); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

// refreshKeywords folds keywords from the new messages into the entry
// (naive 4+ character alphanumeric tokens, capped at maxKeywords).
func (s *Store) refreshKeywords(entry *IndexEntry, msgs []ChatMessage, now time.Time) {
	seen := make(map[string]bool, len(entry.Keywords))
	for _, kw := range entry.Keywords {
		seen[kw] = true
	}
	changed := false
	for _, m := range msgs {
		for _, kw := range extractKeywords(m.Content) {
			if len(entry.Keywords) >= maxKeywords {
				break
			}
			if !seen[kw] {
				seen[kw] = true
				entry.Keywords = append(entry.Keywords, kw)
				changed = true
			}
		}
	}
	if changed {
		entry.KwUpdatedMS = nowMS(now)
	}
}

// extractKeywords returns lowercase alphanumeric tokens of length >= 4.
func extractKeywords(content string) []string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) >= 4 {
			out = append(out, f)
		}
	}
	return out
}

// CompactIndexes walks all chat directories and clears keywords whose
// kw_updated_ms is older than the configured TTL. A zero TTL disables
// expiry.
func (s *Store) CompactIndexes() error {
	if s.cfg.IndexKwTTL <= 0 {
		return nil
	}
	cutoff := nowMS(s.now().Add(-s.cfg.IndexKwTTL))

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading context root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		chatID := e.Name()
		lock := s.lockFor(chatID)
		lock.Lock()
		err := s.compactChatIndex(filepath.Join(s.cfg.Dir, chatID), cutoff)
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) compactChatIndex(chatDir string, cutoffMS int64) error {
	idx, err := s.loadIndex(chatDir)
	if err != nil {
		return err
	}
	changed := false
	for sid, entry := range idx {
		if len(entry.Keywords) > 0 && entry.KwUpdatedMS > 0 && entry.KwUpdatedMS < cutoffMS {
			entry.Keywords = nil
			entry.KwUpdatedMS = 0
			idx[sid] = entry
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveIndex(chatDir, idx)
}

// Index returns a copy of a chat's session index.
func (s *Store) Index(chatID string) (map[string]IndexEntry, error) {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()
	return s.loadIndex(filepath.Join(s.cfg.Dir, chatID))
}
