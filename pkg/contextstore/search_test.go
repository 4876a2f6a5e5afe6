package contextstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, s *Store) {
	t.Helper()
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "alpha question"},
		{Role: RoleAssistant, Content: "alpha answer"},
		{Role: RoleUser, Content: "beta question"},
		{Role: RoleAssistant, Content: "beta answer"},
	}
	for _, m := range msgs {
		_, err := s.SaveMessage("c", "s", m)
		require.NoError(t, err)
	}
}

func TestSearch_Substring(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s)

	out, err := s.Search("c", "s", SearchOptions{Query: "ALPHA"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha question", out[0].Content)
}

func TestSearch_RegexAndRole(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s)

	out, err := s.Search("c", "s", SearchOptions{
		Query: `^beta`,
		Regex: true,
		Role:  RoleUser,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "beta question", out[0].Content)

	_, err = s.Search("c", "s", SearchOptions{Query: `[bad`, Regex: true})
	assert.Error(t, err)
}

func TestSearch_DescAndPagination(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s)

	out, err := s.Search("c", "s", SearchOptions{Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(4), out[0].MessageID)
	assert.Equal(t, uint64(3), out[1].MessageID)

	out, err = s.Search("c", "s", SearchOptions{Offset: 3})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(4), out[0].MessageID)
}

func TestLoadSessionRange_SinceID(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s)

	out, err := s.LoadSessionRange("c", "s", LoadOptions{SinceID: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(3), out[0].MessageID)
}

func TestExportChat_ConcatenatesSessions(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveMessage("c", "a", ChatMessage{Role: RoleUser, Content: "in a"})
	require.NoError(t, err)
	_, err = s.SaveMessage("c", "b", ChatMessage{Role: RoleUser, Content: "in b"})
	require.NoError(t, err)

	out, err := s.ExportChat("c", "", "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "in a", out[0].Content)
	assert.Equal(t, "in b", out[1].Content)
}
