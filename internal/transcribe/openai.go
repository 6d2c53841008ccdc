package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/audio/transcriptions"

var _ RecordingTranscriber = (*OpenAI)(nil)

// Options control where recordings are kept and what language is requested.
type Options struct {
	Language       string
	RecordingsDir  string
	KeepRecordings int
}

// OpenAI uploads a WAV of the recording to the Whisper transcription API.
type OpenAI struct {
	client *resty.Client
	cfg    config.OpenAIConfig
	opts   Options
	log    zerolog.Logger
}

type whisperResponse struct {
	Text string `json:"text"`
}

func NewOpenAI(cfg config.OpenAIConfig, opts Options, log zerolog.Logger) *OpenAI {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOpenAIEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetTransport(newTransport(cfg.EnableHTTP2))

	return &OpenAI{client: client, cfg: cfg, opts: opts, log: log}
}

func newTransport(enableHTTP2 bool) *http.Transport {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if enableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return tr
}

func (o *OpenAI) Name() string { return "whisper" }

func (o *OpenAI) Transcribe(ctx context.Context, samples []int16, sampleRate uint32) (string, error) {
	text, _, err := o.TranscribeRecording(ctx, samples, sampleRate)
	return text, err
}

// TranscribeRecording is Transcribe that also reports where the uploaded WAV
// was kept. The path is empty when recordings are not kept.
func (o *OpenAI) TranscribeRecording(ctx context.Context, samples []int16, sampleRate uint32) (string, string, error) {
	if o.cfg.APIKey == "" {
		return "", "", ErrMissingAPIKey
	}

	path, err := SaveWAV(o.opts.RecordingsDir, samples, sampleRate)
	if err != nil {
		return "", "", err
	}
	kept := path
	if o.opts.KeepRecordings <= 0 {
		kept = ""
	}
	defer func() {
		if err := CleanupRecordings(o.opts.RecordingsDir, o.opts.KeepRecordings); err != nil {
			o.log.Warn().Err(err).Msg("Failed to clean up old recordings")
		}
	}()

	file, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read WAV file: %w", err)
	}
	defer file.Close()

	form := map[string]string{
		"model":           o.cfg.Model,
		"response_format": "json",
	}
	if lang := isoLanguage(o.opts.Language); lang != "" {
		form["language"] = lang
	}

	o.log.Info().
		Str("file", filepath.Base(path)).
		Int("samples", len(samples)).
		Uint32("sample_rate", sampleRate).
		Str("language", form["language"]).
		Msg("Sending recording for transcription")

	var out whisperResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetAuthToken(o.cfg.APIKey).
		SetFileReader("file", filepath.Base(path), file).
		SetMultipartFormData(form).
		SetResult(&out).
		Post(o.cfg.Endpoint)
	if err != nil {
		return "", "", fmt.Errorf("transcription request failed: %w", err)
	}
	if resp.IsError() {
		o.log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("Transcription API error")
		return "", "", &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}

	text := strings.TrimSpace(out.Text)
	o.log.Info().Int("chars", len(text)).Msg("Transcription received")
	return text, kept, nil
}

func (o *OpenAI) Close() error { return nil }
