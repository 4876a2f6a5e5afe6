package contextstore

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadSession returns all messages of a session in file order,
// decompressing archived days transparently.
func (s *Store) LoadSession(chatID, sessionID string) ([]ChatMessage, error) {
	files, err := s.sessionFiles(chatID, sessionID)
	if err != nil {
		return nil, err
	}
	var out []ChatMessage
	for _, path := range files {
		msgs, err := readMessages(path)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// sessionFiles lists the session's files sorted for replay: the
// undated file first, then dated files ascending. An archived and a
// plain file for the same day never coexist (archiving removes the
// original).
func (s *Store) sessionFiles(chatID, sessionID string) ([]string, error) {
	chatDir := filepath.Join(s.cfg.Dir, chatID)
	entries, err := os.ReadDir(chatDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chat dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && sessionOwnsFile(sessionID, e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := fileDate(sessionID, names[i]), fileDate(sessionID, names[j])
		if di != dj {
			return di < dj
		}
		return names[i] < names[j]
	})
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(chatDir, n)
	}
	return out, nil
}

// fileDate extracts the YYYYMMDD suffix; undated files sort first.
func fileDate(sessionID, name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".ndjson")
	if base == sessionID {
		return ""
	}
	return base[len(sessionID)+1:]
}

// readMessages parses one NDJSON file, gunzipping when needed.
// Corrupt lines abort the read: session files are append-only and a
// bad line means real damage worth surfacing.
func readMessages(path string) ([]ChatMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", filepath.Base(path), err)
		}
		defer gz.Close()
		r = gz
	}

	var out []ChatMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m ChatMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return out, nil
}
