// Package trigger detects keywords and micro-reflexes on normalized
// chat/analysis input. Detected triggers drive action-cell preloading.
package trigger

import (
	"strings"
)

// TrainCommand is the chat command prefix that switches a message into
// training mode; it always contributes the "train" trigger.
const TrainCommand = "train"

// reflexes maps built-in micro-reflex keywords to the trigger they
// fire. Matching is substring-based on the normalized input.
var reflexes = map[string]string{
	"error":      "diagnose",
	"ошибка":     "diagnose",
	"slow":       "profile",
	"медленно":   "profile",
	"restart":    "restart",
	"перезапус":  "restart",
	"help":       "assist",
	"помоги":     "assist",
	"suspicious": "quarantine",
	"подозрит":   "quarantine",
}

// Detect returns the triggers present in input: the train command
// first (when present), then reflex triggers in input order,
// deduplicated.
func Detect(input string) []string {
	norm := Normalize(input)
	if norm == "" {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	if IsTrainCommand(norm) {
		add(TrainCommand)
	}

	for _, word := range strings.Fields(norm) {
		for keyword, trig := range reflexes {
			if strings.Contains(word, keyword) {
				add(trig)
			}
		}
	}

	return out
}

// Normalize lowercases and collapses whitespace.
func Normalize(input string) string {
	return strings.Join(strings.Fields(strings.ToLower(input)), " ")
}

// IsTrainCommand reports whether the normalized input is a train
// command ("train" alone or followed by arguments).
func IsTrainCommand(norm string) bool {
	return norm == TrainCommand || strings.HasPrefix(norm, TrainCommand+" ")
}

// ParseTrainArgs parses "key=value" pairs from a train command body.
// Values may be double-quoted to include spaces. Malformed pairs are
// skipped.
func ParseTrainArgs(body string) map[string]string {
	out := make(map[string]string)
	rest := strings.TrimSpace(body)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			break
		}
		key := strings.TrimSpace(rest[:eq])
		if strings.ContainsAny(key, " \t") {
			// Key contains junk before it; drop the leading token.
			fields := strings.Fields(key)
			key = fields[len(fields)-1]
		}
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value = rest[1:]
				rest = ""
			} else {
				value = rest[1 : end+1]
				rest = rest[end+2:]
			}
		} else {
			sp := strings.IndexAny(rest, " \t")
			if sp < 0 {
				value = rest
				rest = ""
			} else {
				value = rest[:sp]
				rest = rest[sp+1:]
			}
		}
		if key != "" {
			out[key] = value
		}
		rest = strings.TrimSpace(rest)
	}
	return out
}
