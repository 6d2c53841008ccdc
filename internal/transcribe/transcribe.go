// Package transcribe turns a finished recording into text in one request.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
)

// Transcriber interface for batch speech-to-text
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate uint32) (string, error)
	// Name identifies the backend in history entries.
	Name() string
	Close() error
}

// RecordingTranscriber is a Transcriber that keeps the audio it was given.
type RecordingTranscriber interface {
	Transcriber
	TranscribeRecording(ctx context.Context, samples []int16, sampleRate uint32) (text, path string, err error)
}

var (
	ErrMissingAPIKey = errors.New("OpenAI API key not configured")
	ErrNoAudio       = errors.New("no audio samples to transcribe")
)

// APIError is a non-2xx response from a transcription API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription API error %d: %s", e.Status, e.Body)
}

func (e *APIError) Code() string { return "TRANSCRIPTION_API_ERROR" }

// New returns the backend selected by cfg.Transcription.Provider.
func New(cfg *config.Config, log zerolog.Logger) (Transcriber, error) {
	tc := cfg.Transcription
	switch tc.Provider {
	case "openai", "":
		return NewOpenAI(tc.OpenAI, Options{
			Language:       cfg.Language,
			RecordingsDir:  config.RecordingsPath(),
			KeepRecordings: tc.KeepRecordings,
		}, log), nil
	case "local":
		local, err := NewLocal(tc.Local, cfg.Language, config.ModelsPath(), log)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", tc.Provider)
	}
}

// isoLanguage reduces a locale such as "fr-FR" to its ISO-639-1 code.
func isoLanguage(locale string) string {
	locale = strings.TrimSpace(locale)
	if len(locale) < 2 {
		return locale
	}
	return strings.ToLower(locale[:2])
}
