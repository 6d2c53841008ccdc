package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "history.db")
	s, err := Open(context.Background(), path, config.HistoryConfig{Enabled: true, MaxEntries: maxEntries}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var n int
	s.clock = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s
}

func TestAddAndRecent(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()

	first, err := s.Add(ctx, Entry{Text: "Bonjour.", Provider: "whisper", Duration: 1500 * time.Millisecond, AudioPath: "/tmp/a.wav"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.Add(ctx, Entry{Text: "Streaming text", Provider: "deepgram", Streaming: true})
	require.NoError(t, err)

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Streaming text", entries[0].Text)
	assert.True(t, entries[0].Streaming)
	assert.Equal(t, "", entries[0].AudioPath)

	assert.Equal(t, first.ID, entries[1].ID)
	assert.Equal(t, 1500*time.Millisecond, entries[1].Duration)
	assert.Equal(t, "/tmp/a.wav", entries[1].AudioPath)
	assert.True(t, entries[1].CreatedAt.Equal(first.CreatedAt))
}

func TestAddPrunesToMaxEntries(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		_, err := s.Add(ctx, Entry{Text: text, Provider: "whisper"})
		require.NoError(t, err)
	}

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	var texts []string
	for _, e := range entries {
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{"five", "four", "three"}, texts)
}

func TestRecentLimitAndClear(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Add(ctx, Entry{Text: "x", Provider: "local"})
		require.NoError(t, err)
	}

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.Clear(ctx))
	entries, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	cfg := config.HistoryConfig{Enabled: true, MaxEntries: 5}

	s, err := Open(ctx, path, cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Add(ctx, Entry{Text: "persisted", Provider: "whisper"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persisted", entries[0].Text)
}
