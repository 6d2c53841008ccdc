package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// SaveWAV writes mono 16-bit samples to a new file in dir and returns its path.
func SaveWAV(dir string, samples []int16, sampleRate uint32) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoAudio
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	name := fmt.Sprintf("recording_%s_%s.wav",
		time.Now().Format("2006-01-02_15-04-05"),
		uuid.NewString()[:8])
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer file.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: int(sampleRate)},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, int(sampleRate), 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close wav encoder: %w", err)
	}
	return path, nil
}

// CleanupRecordings deletes all but the newest keep WAV files in dir.
func CleanupRecordings(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read recordings dir: %w", err)
	}

	type recording struct {
		path    string
		modTime time.Time
	}
	var files []recording
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, recording{filepath.Join(dir, e.Name()), info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", files[i].path, err)
		}
	}
	return nil
}
