package contextstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// LoadOptions filters a session read.
type LoadOptions struct {
	FromDate string // YYYYMMDD inclusive (dated files only)
	ToDate   string // YYYYMMDD inclusive
	SinceID  uint64 // message_id > SinceID
	AfterTS  int64  // ts_ms > AfterTS
	Offset   int
	Limit    int // 0 = unlimited
}

// SearchOptions filters a session search.
type SearchOptions struct {
	Query   string
	Regex   bool
	Prefix  bool
	SinceID uint64
	AfterTS int64
	Offset  int
	Limit   int
	Role    string
	Desc    bool // sort=desc returns newest first
}

// LoadSessionRange reads a session applying date-window and cursor
// filters.
func (s *Store) LoadSessionRange(chatID, sessionID string, opts LoadOptions) ([]ChatMessage, error) {
	files, err := s.sessionFiles(chatID, sessionID)
	if err != nil {
		return nil, err
	}
	var msgs []ChatMessage
	for _, path := range files {
		if !dateInWindow(fileDateOfPath(sessionID, path), opts.FromDate, opts.ToDate) {
			continue
		}
		part, err := readMessages(path)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, part...)
	}

	filtered := msgs[:0]
	for _, m := range msgs {
		if opts.SinceID > 0 && m.MessageID <= opts.SinceID {
			continue
		}
		if opts.AfterTS > 0 && m.TimestampMS <= opts.AfterTS {
			continue
		}
		filtered = append(filtered, m)
	}
	return paginate(filtered, opts.Offset, opts.Limit), nil
}

// Search scans a session for matching messages.
func (s *Store) Search(chatID, sessionID string, opts SearchOptions) ([]ChatMessage, error) {
	msgs, err := s.LoadSession(chatID, sessionID)
	if err != nil {
		return nil, err
	}

	var match func(string) bool
	switch {
	case opts.Regex:
		re, err := regexp.Compile(opts.Query)
		if err != nil {
			return nil, fmt.Errorf("invalid search regex: %w", err)
		}
		match = re.MatchString
	case opts.Prefix:
		match = func(c string) bool { return strings.HasPrefix(c, opts.Query) }
	default:
		q := strings.ToLower(opts.Query)
		match = func(c string) bool { return strings.Contains(strings.ToLower(c), q) }
	}

	var out []ChatMessage
	for _, m := range msgs {
		if opts.Role != "" && m.Role != opts.Role {
			continue
		}
		if opts.SinceID > 0 && m.MessageID <= opts.SinceID {
			continue
		}
		if opts.AfterTS > 0 && m.TimestampMS <= opts.AfterTS {
			continue
		}
		if opts.Query != "" && !match(m.Content) {
			continue
		}
		out = append(out, m)
	}

	if opts.Desc {
		sort.Slice(out, func(i, j int) bool { return out[i].MessageID > out[j].MessageID })
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ExportChat concatenates every session of a chat (sorted by session id) with
// an optional date window.
func (s *Store) ExportChat(chatID, fromDate, toDate string) ([]ChatMessage, error) {
	idx, err := s.Index(chatID)
	if err != nil {
		return nil, err
	}
	sessions := make([]string, 0, len(idx))
	for sid := range idx {
		sessions = append(sessions, sid)
	}
	sort.Strings(sessions)

	var out []ChatMessage
	for _, sid := range sessions {
		msgs, err := s.LoadSessionRange(chatID, sid, LoadOptions{FromDate: fromDate, ToDate: toDate})
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// ImportMessages bulk-appends externally supplied messages. Ids are
// reassigned by the store; rotation and index rules apply as for live
// writes. Returns the number imported.
func (s *Store) ImportMessages(chatID, sessionID string, msgs []ChatMessage) (int, error) {
	if s.onActivity != nil {
		s.onActivity()
	}
	for i := range msgs {
		msgs[i].MessageID = 0 // reassigned in append order
		if s.masking != nil {
			msgs[i].Content = s.masking.Active().Mask(msgs[i].Role, msgs[i].Content)
		}
		if msgs[i].TimestampMS == 0 {
			msgs[i].TimestampMS = nowMS(s.now())
		}
	}
	if _, err := s.append(chatID, sessionID, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func dateInWindow(date, from, to string) bool {
	if date == "" {
		return from == "" // undated files only pass without a lower bound
	}
	if from != "" && date < from {
		return false
	}
	if to != "" && date > to {
		return false
	}
	return true
}

func fileDateOfPath(sessionID, path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return fileDate(sessionID, base)
}

func paginate(msgs []ChatMessage, offset, limit int) []ChatMessage {
	if offset >= len(msgs) {
		return nil
	}
	msgs = msgs[offset:]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}
