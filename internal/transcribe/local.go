package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
)

// Local runs whisper.cpp in-process.
type Local struct {
	cfg      config.LocalConfig
	language string
	log      zerolog.Logger

	mu    sync.Mutex
	model whisper.Model
}

// NewLocal loads the configured model from modelsDir, downloading it first if
// it is missing.
func NewLocal(cfg config.LocalConfig, language, modelsDir string, log zerolog.Logger) (*Local, error) {
	modelPath := filepath.Join(modelsDir, "ggml-"+cfg.Model+".bin")

	if _, err := os.Stat(modelPath); errors.Is(err, os.ErrNotExist) {
		url, err := modelURL(modelBaseURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		if err := downloadModel(context.Background(), http.DefaultClient, cfg.Model, url, modelPath, log); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	log.Info().Str("model", cfg.Model).Str("path", modelPath).Msg("Whisper model loaded")
	return &Local{cfg: cfg, language: language, log: log, model: model}, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) Transcribe(ctx context.Context, samples []int16, sampleRate uint32) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoAudio
	}
	input := toWhisperInput(samples, sampleRate)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model == nil {
		return "", errors.New("whisper model is closed")
	}

	wctx, err := l.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create context: %w", err)
	}
	if l.cfg.Threads > 0 {
		wctx.SetThreads(uint(l.cfg.Threads))
	}
	if lang := isoLanguage(l.language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			l.log.Warn().Err(err).Str("language", lang).Msg("Language not supported by model, using auto-detect")
		}
	}
	wctx.SetTranslate(false)

	// Skip encoding once ctx is cancelled.
	encoderBegin := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(input, encoderBegin, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process failed: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper segment: %w", err)
		}
		if t := strings.TrimSpace(segment.Text); t != "" {
			parts = append(parts, t)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model != nil {
		err := l.model.Close()
		l.model = nil
		return err
	}
	return nil
}
