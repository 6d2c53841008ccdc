package transcribe

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	samples := []int16{0, 1000, -1000, 32767, -32768}

	path, err := SaveWAV(dir, samples, 44100)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^recording_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_[0-9a-f]{8}\.wav$`), filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(44100), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{0, 1000, -1000, 32767, -32768}, buf.Data)
}

func TestSaveWAVRejectsEmpty(t *testing.T) {
	_, err := SaveWAV(t.TempDir(), nil, 48000)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestCleanupRecordingsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	for i, name := range []string{"a.wav", "b.wav", "c.wav", "d.wav"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644))

	require.NoError(t, CleanupRecordings(dir, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"c.wav", "d.wav", "notes.txt"}, names)
}

func TestCleanupRecordingsMissingDir(t *testing.T) {
	assert.NoError(t, CleanupRecordings(filepath.Join(t.TempDir(), "nope"), 3))
}
