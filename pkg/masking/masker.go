// Package masking redacts PII from chat content before it is
// persisted. Built-in patterns cover emails and phone-like digit
// runs; operators add custom regexes via MASK_REGEX or preset files.
// Masking is role-gated: only roles listed in MASK_ROLES are touched.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/neira-project/neira/pkg/config"
)

// Replacement tags written in place of redacted content.
const (
	TagEmail = "[email]"
	TagPhone = "[phone]"
	TagPII   = "[pii]"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// Phone-like: optional +, 7..15 digits allowing separators. Kept
	// deliberately loose; false positives are acceptable for PII.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{5,13}\d`)
)

// Masker applies a compiled masking configuration. Immutable after
// construction; swap the whole Masker to change configuration at
// runtime.
type Masker struct {
	enabled bool
	roles   map[string]bool
	custom  []*regexp.Regexp
}

// New compiles a masker from configuration. Invalid custom patterns
// are logged and skipped.
func New(cfg config.MaskingConfig) *Masker {
	m := &Masker{
		enabled: cfg.Enabled,
		roles:   make(map[string]bool, len(cfg.Roles)),
	}
	for _, r := range cfg.Roles {
		m.roles[r] = true
	}
	for _, p := range cfg.Regexes {
		compiled, err := regexp.Compile(p)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p, "error", err)
			continue
		}
		m.custom = append(m.custom, compiled)
	}
	return m
}

// Enabled reports whether masking is active at all.
func (m *Masker) Enabled() bool { return m.enabled }

// AppliesTo reports whether content for the given role is masked.
func (m *Masker) AppliesTo(role string) bool {
	return m.enabled && m.roles[role]
}

// Mask redacts content for the given role. Content for roles outside
// the configured set is returned untouched.
func (m *Masker) Mask(role, content string) string {
	if !m.AppliesTo(role) {
		return content
	}
	return m.maskAll(content)
}

// Preview redacts content unconditionally (no role gate). Used by the
// masking dry-run endpoint.
func (m *Masker) Preview(content string) string {
	return m.maskAll(content)
}

func (m *Masker) maskAll(content string) string {
	out := emailPattern.ReplaceAllString(content, TagEmail)
	out = phonePattern.ReplaceAllString(out, TagPhone)
	for _, re := range m.custom {
		out = re.ReplaceAllString(out, TagPII)
	}
	return out
}
