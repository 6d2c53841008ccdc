package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/voicetool/internal/app"
	"github.com/petems/voicetool/internal/audio"
	"github.com/petems/voicetool/internal/config"
	"github.com/petems/voicetool/internal/events"
	"github.com/petems/voicetool/internal/history"
	"github.com/petems/voicetool/internal/inject"
	"github.com/petems/voicetool/internal/logging"
	"github.com/petems/voicetool/internal/streaming"
	"github.com/petems/voicetool/internal/transcribe"
	"github.com/petems/voicetool/internal/tray"
	"github.com/rs/zerolog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize audio capture
	host, err := audio.NewPortAudioHost(cfg.Audio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	recorder := audio.NewRecorder(host, cfg.Audio, log)

	// Initialize batch transcription
	transcriber, err := transcribe.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transcription")
	}

	streamer := streaming.New(cfg.Streaming, log)

	closers := []io.Closer{
		// The recorder must release its streams before the host terminates.
		closeFunc(func() error {
			recorder.Close()
			return host.Close()
		}),
		transcriber,
		streamer,
	}

	var store app.HistoryStore
	if cfg.History.Enabled {
		h, err := history.Open(ctx, config.HistoryPath(), cfg.History, log)
		if err != nil {
			log.Warn().Err(err).Msg("History disabled")
		} else {
			store = h
			closers = append(closers, h)
		}
	}

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, Version, Commit, log) // App reference set below

	fan := &events.Fanout{}
	fan.Subscribe(trayUI)
	fan.Subscribe(events.SinkFunc(logEvent(log)))

	application := app.New(app.Config{
		Recorder:      recorder,
		Streamer:      streamer,
		Transcriber:   transcriber,
		Injector:      inject.New(cfg.Inject, log),
		History:       store,
		Events:        fan,
		StatusUpdater: trayUI,
		Closers:       closers,
		Config:        cfg,
		Logger:        log,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	log.Info().
		Str("version", Version).
		Str("mode", cfg.Mode).
		Bool("streaming", cfg.Streaming.Enabled).
		Str("provider", transcriber.Name()).
		Msg("VoiceTool starting...")

	// External trigger: bind a desktop shortcut to `pkill -USR1 voicetool`.
	triggers := make(chan os.Signal, 4)
	if sigs := triggerSignals(); len(sigs) > 0 {
		signal.Notify(triggers, sigs...)
	}
	go func() {
		for sig := range triggers {
			application.OnTrigger(isPress(sig))
		}
	}()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		trayUI.Quit()
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Tray error")
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

func logEvent(log zerolog.Logger) func(events.Event) {
	return func(e events.Event) {
		switch e.Kind {
		case events.AudioLevel:
		case events.TranscriptionInterim, events.TranscriptionFinal:
			log.Debug().Str("kind", string(e.Kind)).Str("text", e.Transcript.Text).Msg("Transcript")
		default:
			log.Debug().Str("kind", string(e.Kind)).Str("code", e.Code).Msg("Streaming event")
		}
	}
}
