package contextstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeleteSession removes every file of the session and its index
// entry.
func (s *Store) DeleteSession(chatID, sessionID string) error {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	chatDir := filepath.Join(s.cfg.Dir, chatID)
	entries, err := os.ReadDir(chatDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading chat dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && sessionOwnsFile(sessionID, e.Name()) {
			if err := os.Remove(filepath.Join(chatDir, e.Name())); err != nil {
				return fmt.Errorf("removing %s: %w", e.Name(), err)
			}
		}
	}

	idx, err := s.loadIndex(chatDir)
	if err != nil {
		return err
	}
	if _, ok := idx[sessionID]; ok {
		delete(idx, sessionID)
		return s.saveIndex(chatDir, idx)
	}
	return nil
}

// RenameSession renames all session files and moves the index entry.
// Fails if the target session already exists.
func (s *Store) RenameSession(chatID, sessionID, newSessionID string) error {
	if newSessionID == "" || strings.ContainsAny(newSessionID, "/\\") {
		return fmt.Errorf("invalid session id %q", newSessionID)
	}
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	chatDir := filepath.Join(s.cfg.Dir, chatID)
	idx, err := s.loadIndex(chatDir)
	if err != nil {
		return err
	}
	entry, ok := idx[sessionID]
	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}
	if _, exists := idx[newSessionID]; exists {
		return fmt.Errorf("session %q already exists", newSessionID)
	}

	entries, err := os.ReadDir(chatDir)
	if err != nil {
		return fmt.Errorf("reading chat dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !sessionOwnsFile(sessionID, name) {
			continue
		}
		newName := newSessionID + strings.TrimPrefix(name, sessionID)
		if err := os.Rename(filepath.Join(chatDir, name), filepath.Join(chatDir, newName)); err != nil {
			return fmt.Errorf("renaming %s: %w", name, err)
		}
	}

	delete(idx, sessionID)
	idx[newSessionID] = entry
	return s.saveIndex(chatDir, idx)
}

// ListChats returns the chat directories under the root.
func (s *Store) ListChats() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading context root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
