package masking

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neira-project/neira/pkg/config"
)

func userMasker(regexes ...string) *Masker {
	return New(config.MaskingConfig{
		Enabled: true,
		Roles:   []string{"user"},
		Regexes: regexes,
	})
}

func TestMask_Email(t *testing.T) {
	m := userMasker()

	got := m.Mask("user", "reach me at jane.doe+test@example.co.uk please")
	assert.Equal(t, "reach me at [email] please", got)
}

func TestMask_Phone(t *testing.T) {
	m := userMasker()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"international", "call +7 912 345-67-89 now", "call [phone] now"},
		{"plain digits", "my number is 84951234567", "my number is [phone]"},
		{"short number untouched", "room 42 floor 3", "room 42 floor 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Mask("user", tt.in))
		})
	}
}

func TestMask_CustomRegex(t *testing.T) {
	m := userMasker(`secret-\w+`)

	got := m.Mask("user", "token secret-abc123 leaked")
	assert.Equal(t, "token [pii] leaked", got)
}

func TestMask_RoleGate(t *testing.T) {
	m := userMasker()
	content := "jane@example.com"

	assert.Equal(t, "[email]", m.Mask("user", content))
	assert.Equal(t, content, m.Mask("assistant", content), "other roles untouched")
	assert.Equal(t, content, m.Mask("system", content))
}

func TestMask_DisabledIsNoop(t *testing.T) {
	m := New(config.MaskingConfig{Enabled: false, Roles: []string{"user"}})

	content := "jane@example.com +7 912 345-67-89"
	assert.Equal(t, content, m.Mask("user", content))
}

func TestNew_InvalidPatternSkipped(t *testing.T) {
	m := userMasker(`[unclosed`)

	// The invalid pattern is dropped; built-ins still apply.
	assert.Equal(t, "[email]", m.Mask("user", "jane@example.com"))
	assert.Len(t, m.custom, 0)
}

func TestPreview_IgnoresRoleGate(t *testing.T) {
	m := New(config.MaskingConfig{Enabled: true, Roles: []string{"user"}})

	assert.Equal(t, "[email]", m.Preview("jane@example.com"))
}

func TestService_RuntimeOverrideAndRestore(t *testing.T) {
	svc := NewService(config.MaskingConfig{Enabled: false, Roles: []string{"user"}})
	assert.False(t, svc.Active().Enabled())

	svc.SetRuntime(&config.MaskingConfig{Enabled: true, Roles: []string{"user"}})
	assert.True(t, svc.Active().Enabled())

	svc.SetRuntime(nil)
	assert.False(t, svc.Active().Enabled())
}

func TestService_PresetsMerge(t *testing.T) {
	dir := t.TempDir()
	preset := "enabled: true\nregexes:\n  - 'card-\\d+'\nroles:\n  - assistant\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-cards.yaml"), []byte(preset), 0o644))

	svc := NewService(config.MaskingConfig{
		Enabled:    false,
		Roles:      []string{"user"},
		PresetsDir: dir,
	})

	m := svc.Active()
	assert.True(t, m.Enabled())
	assert.Equal(t, "[pii]", m.Mask("assistant", "card-1234"))
	assert.Equal(t, "[email]", m.Mask("user", "a@b.io"), "static roles kept")
}
