package idempotency

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "c|s|r1", Key("c", "s", "r1"))
	assert.Equal(t, "c|<none>|r1", Key("c", "", "r1"))
}

func TestStore_PutGet(t *testing.T) {
	s := New()

	_, ok := s.Get("c|s|r1")
	assert.False(t, ok)

	s.Put("c|s|r1", "hello")
	v, ok := s.Get("c|s|r1")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestStore_PersistAndReplay(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewPersistent(dir, time.Hour)
	require.NoError(t, err)
	s1.Put("c|s|r1", "first")
	s1.Put("c|s|r2", "second")

	// A new store replays the log; entries are visible without the LRU.
	s2, err := NewPersistent(dir, time.Hour)
	require.NoError(t, err)

	v, ok := s2.Get("c|s|r1")
	require.True(t, ok)
	assert.Equal(t, "first", v)
	v, ok = s2.Get("c|s|r2")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestStore_ExpiredEntriesNotReplayed(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewPersistent(dir, time.Hour)
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	s1.now = func() time.Time { return past }
	s1.Put("c|s|old", "stale")

	s2, err := NewPersistent(dir, time.Hour)
	require.NoError(t, err)
	_, ok := s2.Get("c|s|old")
	assert.False(t, ok)
}

func TestStore_CorruptLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "idempotent.jsonl")
	good := `{"k":"c|s|r1","v":"ok","exp":` + "9999999999" + `}`
	require.NoError(t, os.WriteFile(log, []byte("not json\n"+good+"\n\n"), 0o644))

	s, err := NewPersistent(dir, time.Hour)
	require.NoError(t, err)

	v, ok := s.Get("c|s|r1")
	require.True(t, ok)
	assert.Equal(t, "ok", v)
}
