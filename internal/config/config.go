package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"
)

type Config struct {
	Mode          string              `json:"mode"` // "PushToTalk" or "Toggle"
	LogLevel      string              `json:"log_level"`
	Language      string              `json:"language"` // BCP-47, e.g. "fr-FR"
	Audio         AudioConfig         `json:"audio"`
	Streaming     StreamingConfig     `json:"streaming"`
	Transcription TranscriptionConfig `json:"transcription"`
	History       HistoryConfig       `json:"history"`
	Inject        InjectConfig        `json:"inject"`
	AppendSpace   bool                `json:"append_space"`
}

type AudioConfig struct {
	// Device is the preferred input by name; empty selects the host default.
	// Enumeration ordinals change between runs, so only the name is stored.
	Device           string  `json:"device"`
	SampleFormat     string  `json:"sample_format"` // "float32", "int16", "int32", "int8", "uint8"
	MaxChannels      int     `json:"max_channels"`
	FramesPerBuffer  int     `json:"frames_per_buffer"` // 0 lets the host decide
	LevelGain        float64 `json:"level_gain"`
	SilenceThreshold float64 `json:"silence_threshold"`
}

type StreamingConfig struct {
	Enabled          bool   `json:"enabled"`
	Endpoint         string `json:"endpoint"`
	APIKey           string `json:"api_key"`
	Model            string `json:"model"`
	Punctuate        bool   `json:"punctuate"`
	InterimResults   bool   `json:"interim_results"`
	BatchSamples     int    `json:"batch_samples"`
	FlushIntervalMS  int    `json:"flush_interval_ms"`
	QueueSize        int    `json:"queue_size"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms"`
	WriteTimeoutMS   int    `json:"write_timeout_ms"`
	CloseTimeoutMS   int    `json:"close_timeout_ms"`
}

type TranscriptionConfig struct {
	Provider       string       `json:"provider"` // "openai" or "local"
	OpenAI         OpenAIConfig `json:"openai"`
	Local          LocalConfig  `json:"local"`
	KeepRecordings int          `json:"keep_recordings"`
}

type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	EnableHTTP2    bool   `json:"enable_http2"`
}

type LocalConfig struct {
	Model   string `json:"model"` // "base.en", "small", etc.
	Threads int    `json:"threads"`
}

type HistoryConfig struct {
	Enabled    bool `json:"enabled"`
	MaxEntries int  `json:"max_entries"`
}

type InjectConfig struct {
	CopyToClipboard bool `json:"copy_to_clipboard"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:     ModeToggle,
		LogLevel: "info",
		Language: "fr-FR",
		Audio: AudioConfig{
			SampleFormat:     "float32",
			MaxChannels:      2,
			FramesPerBuffer:  0,
			LevelGain:        50,
			SilenceThreshold: 0.01,
		},
		Streaming: StreamingConfig{
			Enabled:          false,
			Endpoint:         "wss://api.deepgram.com/v1/listen",
			Punctuate:        true,
			InterimResults:   true,
			BatchSamples:     4800, // ~100ms at 48kHz
			FlushIntervalMS:  100,
			QueueSize:        100,
			ConnectTimeoutMS: 10000,
			WriteTimeoutMS:   10000,
			CloseTimeoutMS:   5000,
		},
		Transcription: TranscriptionConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				Endpoint:       "https://api.openai.com/v1/audio/transcriptions",
				Model:          "whisper-1",
				TimeoutSeconds: 30,
			},
			Local: LocalConfig{
				Model:   "base",
				Threads: 0, // Auto-detect
			},
			KeepRecordings: 25,
		},
		History: HistoryConfig{
			Enabled:    true,
			MaxEntries: 1000,
		},
		Inject: InjectConfig{
			CopyToClipboard: true,
		},
		AppendSpace: true,
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path, then applies .env and environment overrides.
// A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// A .env next to the binary or in the config dir may carry API keys.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(configPath())
}

func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate rejects values the audio and streaming layers cannot work with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePushToTalk, ModeToggle:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Audio.LevelGain <= 0 {
		return fmt.Errorf("audio.level_gain must be positive")
	}
	if c.Audio.SilenceThreshold < 0 {
		return fmt.Errorf("audio.silence_threshold must not be negative")
	}
	if c.Streaming.BatchSamples <= 0 || c.Streaming.FlushIntervalMS <= 0 || c.Streaming.QueueSize <= 0 {
		return fmt.Errorf("streaming batch_samples, flush_interval_ms and queue_size must be positive")
	}
	switch c.Transcription.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("invalid transcription.provider %q", c.Transcription.Provider)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Streaming.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Transcription.OpenAI.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.LogLevel, "VOICETOOL_LOG_LEVEL")
	overrideString(&cfg.Language, "VOICETOOL_LANGUAGE")
	overrideString(&cfg.Mode, "VOICETOOL_MODE")
	overrideString(&cfg.Audio.Device, "VOICETOOL_DEVICE")
	overrideBool(&cfg.Streaming.Enabled, "VOICETOOL_STREAMING")
	overrideString(&cfg.Transcription.Provider, "VOICETOOL_PROVIDER")
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func overrideBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "voicetool", "config.json")
}

func dataPath(elem ...string) string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(append([]string{base, "voicetool"}, elem...)...)
}

// ModelsPath returns the platform-specific models directory path
func ModelsPath() string {
	return dataPath("models")
}

// RecordingsPath is where captured WAV files are kept for batch transcription.
func RecordingsPath() string {
	return dataPath("recordings")
}

// HistoryPath is the SQLite transcript history database.
func HistoryPath() string {
	return dataPath("history.db")
}
