package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/petems/voicetool/internal/audio"
	"github.com/petems/voicetool/internal/config"
	"github.com/petems/voicetool/internal/events"
	"github.com/petems/voicetool/internal/history"
	"github.com/petems/voicetool/internal/inject"
	"github.com/petems/voicetool/internal/streaming"
	"github.com/petems/voicetool/internal/transcribe"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Mode int

const (
	PushToTalk Mode = iota
	Toggle
)

var ErrAlreadyRecording = errors.New("already recording")

// errSkipped means the recording was not worth sending to a transcriber.
var errSkipped = errors.New("transcription skipped")

// handoffSize bounds the chunks buffered between the audio callback and the
// streaming client while it connects.
const handoffSize = 512

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

// Recorder is the capture engine.
type Recorder interface {
	Start(sel audio.DeviceSelector, onLevel audio.LevelFunc, opts ...audio.StartOption) error
	Stop(silenceThreshold float64) audio.Result
	IsRecording() bool
	SampleRate() uint32
	Devices() ([]audio.AudioDevice, error)
}

// Streamer is the live transcription client.
type Streamer interface {
	Connect(ctx context.Context, creds streaming.Credentials, language string, sampleRate uint32, sink events.Sink) error
	SendAudio(chunk []int16) error
	Disconnect()
	IsConnected() bool
}

// HistoryStore records finished transcripts.
type HistoryStore interface {
	Add(ctx context.Context, e history.Entry) (history.Entry, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Clear(ctx context.Context) error
}

type Config struct {
	Recorder      Recorder
	Streamer      Streamer               // Optional
	Transcriber   transcribe.Transcriber // Optional - batch fallback
	Injector      inject.Injector
	History       HistoryStore // Optional
	Events        events.Sink  // Optional - levels and streaming events
	StatusUpdater StatusUpdater
	Closers       []io.Closer // released on Shutdown
	Config        *config.Config
	Logger        zerolog.Logger
}

type App struct {
	rec     Recorder
	stream  Streamer
	stt     transcribe.Transcriber
	inj     inject.Injector
	hist    HistoryStore
	events  events.Sink
	status  StatusUpdater
	closers []io.Closer
	cfg     *config.Config
	log     zerolog.Logger
	save    func(*config.Config) error

	mu        sync.Mutex
	dictating bool
	session   *session
	// streamDone of the latest streaming session; the next one waits on it
	// before connecting.
	lastStream chan struct{}

	lastMu   sync.Mutex
	lastText string

	processing sync.WaitGroup
}

func New(cfg Config) *App {
	sink := cfg.Events
	if sink == nil {
		sink = events.Discard
	}
	return &App{
		rec:     cfg.Recorder,
		stream:  cfg.Streamer,
		stt:     cfg.Transcriber,
		inj:     cfg.Injector,
		hist:    cfg.History,
		events:  sink,
		status:  cfg.StatusUpdater,
		closers: cfg.Closers,
		cfg:     cfg.Config,
		log:     cfg.Logger,
		save:    (*config.Config).Save,
	}
}

// session is one dictation: capture plus, optionally, a streaming connection.
type session struct {
	startedAt time.Time
	handoff   *chunkHandoff

	cancel      context.CancelFunc
	forwardDone chan struct{}
	connected   bool // written by the forwarder before forwardDone closes
	prevStream  chan struct{}
	streamDone  chan struct{}
	failed      atomic.Bool

	mu     sync.Mutex
	finals []string
}

func (s *session) addFinal(text string) {
	s.mu.Lock()
	s.finals = append(s.finals, text)
	s.mu.Unlock()
}

func (s *session) transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(strings.Join(s.finals, " "))
}

// chunkHandoff moves chunks off the audio callback without blocking it.
type chunkHandoff struct {
	mu      sync.Mutex
	closed  bool
	ch      chan []int16
	dropped int
}

func newChunkHandoff(size int) *chunkHandoff {
	return &chunkHandoff{ch: make(chan []int16, size)}
}

func (h *chunkHandoff) push(chunk []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.ch <- chunk:
	default:
		h.dropped++
	}
}

func (h *chunkHandoff) close() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
	return h.dropped
}

// OnTrigger handles the dictation key.
func (a *App) OnTrigger(pressed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mode := PushToTalk
	if a.cfg.Mode == config.ModeToggle {
		mode = Toggle
	}

	switch mode {
	case PushToTalk:
		if pressed {
			a.startDictationLocked()
		} else {
			a.stopDictationLocked()
		}
	case Toggle:
		if !pressed {
			return
		}
		if !a.dictating {
			a.startDictationLocked()
		} else {
			a.stopDictationLocked()
		}
	}
}

// StartDictation starts recording regardless of mode.
func (a *App) StartDictation() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dictating {
		return ErrAlreadyRecording
	}
	return a.startDictationLocked()
}

// StopDictation ends the current recording, if any.
func (a *App) StopDictation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopDictationLocked()
}

func (a *App) streamingEnabled() bool {
	return a.stream != nil && a.cfg.Streaming.Enabled && a.cfg.Streaming.APIKey != ""
}

func (a *App) startDictationLocked() error {
	if a.dictating {
		return nil
	}

	a.log.Info().Bool("streaming", a.streamingEnabled()).Msg("Starting dictation")

	sess := &session{startedAt: time.Now()}
	var opts []audio.StartOption
	if a.streamingEnabled() {
		sess.handoff = newChunkHandoff(handoffSize)
		opts = append(opts, audio.WithChunkHandler(sess.handoff.push))
	}

	onLevel := func(level float64) {
		a.events.Emit(events.Level(level))
	}

	if err := a.rec.Start(a.resolveDevice(a.cfg.Audio.Device), onLevel, opts...); err != nil {
		a.log.Error().Err(err).Str("code", audio.ErrorCode(err)).Msg("Failed to start recording")
		a.setStatus(StatusUpdater.SetError)
		return fmt.Errorf("failed to start recording: %w", err)
	}

	if sess.handoff != nil {
		ctx, cancel := context.WithCancel(context.Background())
		sess.cancel = cancel
		sess.forwardDone = make(chan struct{})
		sess.streamDone = make(chan struct{})
		sess.prevStream = a.lastStream
		a.lastStream = sess.streamDone
		go a.forward(ctx, sess, a.rec.SampleRate())
	}

	a.dictating = true
	a.session = sess
	a.setStatus(StatusUpdater.SetRecording)
	return nil
}

// forward connects the streaming client and feeds it captured chunks in order.
// It is the only goroutine that may block on SendAudio.
func (a *App) forward(ctx context.Context, sess *session, sampleRate uint32) {
	defer close(sess.forwardDone)

	// The client holds one connection; the previous session may still be
	// draining its last results.
	if sess.prevStream != nil {
		select {
		case <-sess.prevStream:
		case <-ctx.Done():
			return
		}
	}

	sink := events.SinkFunc(func(e events.Event) {
		a.onStreamEvent(sess, e)
	})
	creds := streaming.Credentials{APIKey: a.cfg.Streaming.APIKey}
	if err := a.stream.Connect(ctx, creds, a.cfg.Language, sampleRate, sink); err != nil {
		if ctx.Err() != nil {
			a.log.Debug().Msg("Recording ended before streaming connected")
			return
		}
		a.log.Warn().Err(err).Msg("Streaming unavailable, will transcribe after recording")
		code := audio.ErrorCode(err)
		if code == "" {
			code = "CONNECT_ERROR"
		}
		a.events.Emit(events.Error(code, err.Error()))
		return
	}
	sess.connected = true

	for chunk := range sess.handoff.ch {
		if err := a.stream.SendAudio(chunk); err != nil {
			a.log.Warn().Err(err).Msg("Stopped forwarding audio to streaming service")
			sess.failed.Store(true)
			return
		}
	}
}

func (a *App) onStreamEvent(sess *session, e events.Event) {
	switch e.Kind {
	case events.TranscriptionFinal:
		sess.addFinal(e.Transcript.Text)
	case events.StreamError:
		a.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("Streaming error")
		sess.failed.Store(true)
	}
	a.events.Emit(e)
}

func (a *App) stopDictationLocked() {
	if !a.dictating {
		return
	}

	a.log.Info().Msg("Stopping dictation")
	a.dictating = false
	sess := a.session
	a.session = nil

	a.setStatus(StatusUpdater.SetProcessing)

	res := a.rec.Stop(a.cfg.Audio.SilenceThreshold)

	if sess.handoff != nil {
		if dropped := sess.handoff.close(); dropped > 0 {
			a.log.Warn().Int("chunks", dropped).Msg("Dropped audio while streaming connection was slow")
		}
		// Give up on a connection that is still being established.
		sess.cancel()
	}

	a.processing.Add(1)
	go a.finish(sess, res)
}

// closeStream waits for the forwarder and ends the session's connection.
func (a *App) closeStream(sess *session) {
	if sess.handoff == nil {
		return
	}
	defer close(sess.streamDone)
	<-sess.forwardDone
	if sess.prevStream != nil {
		// Keeps the chain ordered when this session never connected.
		<-sess.prevStream
	}
	if sess.connected {
		// Flushes trailing audio and waits for the last results.
		a.stream.Disconnect()
	}
}

func (a *App) finish(sess *session, res audio.Result) {
	defer a.processing.Done()
	a.closeStream(sess)

	entry := history.Entry{Provider: "deepgram"}
	if res.SampleRate > 0 {
		entry.Duration = time.Duration(len(res.Samples)) * time.Second / time.Duration(res.SampleRate)
	}

	partial := sess.transcript()
	text := partial
	entry.Streaming = partial != ""

	if partial == "" || sess.failed.Load() {
		if partial != "" {
			a.log.Warn().Msg("Live transcription failed, transcribing the whole recording")
		}
		batch, path, err := a.transcribeRecording(res)
		switch {
		case err == nil && batch != "":
			text = batch
			entry.Provider, entry.Streaming, entry.AudioPath = a.stt.Name(), false, path
		case partial != "":
			a.log.Warn().Err(err).Msg("Keeping partial live transcript")
		case err == nil, errors.Is(err, errSkipped):
		default:
			a.log.Error().Err(err).Msg("Transcription failed")
			a.setStatus(StatusUpdater.SetError)
			return
		}
	}

	if text == "" {
		a.log.Info().Msg("No text to inject")
		a.setStatus(StatusUpdater.SetIdle)
		return
	}

	text = a.applyFilters(text)
	a.lastMu.Lock()
	a.lastText = text
	a.lastMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.hist != nil && a.cfg.History.Enabled {
		entry.Text = strings.TrimSpace(text)
		if _, err := a.hist.Add(ctx, entry); err != nil {
			a.log.Warn().Err(err).Msg("Failed to save history entry")
		}
	}

	if err := a.inj.Deliver(ctx, text); err != nil {
		a.log.Error().Err(err).Msg("Inject error")
		a.setStatus(StatusUpdater.SetError)
		return
	}
	a.log.Info().Str("text", text).Str("provider", entry.Provider).Msg("Injected")
	a.setStatus(StatusUpdater.SetIdle)
}

// transcribeRecording runs the batch transcriber over the whole recording and
// returns the text and, when the backend kept it, the WAV path.
func (a *App) transcribeRecording(res audio.Result) (string, string, error) {
	if res.Silent {
		a.log.Info().Float64("rms", res.AverageRMS).Msg("Recording is silent, skipping transcription")
		return "", "", errSkipped
	}
	if a.stt == nil {
		a.log.Warn().Msg("No transcriber configured")
		return "", "", errSkipped
	}

	timeout := time.Duration(a.cfg.Transcription.OpenAI.TimeoutSeconds)*time.Second + 30*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if rt, ok := a.stt.(transcribe.RecordingTranscriber); ok {
		return rt.TranscribeRecording(ctx, res.Samples, res.SampleRate)
	}
	text, err := a.stt.Transcribe(ctx, res.Samples, res.SampleRate)
	return text, "", err
}

func (a *App) applyFilters(text string) string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return text
	}

	// Auto-capitalize first letter
	r, size := utf8.DecodeRuneInString(text)
	if unicode.IsLower(r) {
		text = string(unicode.ToUpper(r)) + text[size:]
	}

	if a.cfg.AppendSpace {
		text += " "
	}

	return text
}

func (a *App) setStatus(fn func(StatusUpdater)) {
	if a.status != nil {
		fn(a.status)
	}
}

// Wait blocks until every finished recording has been transcribed and delivered.
func (a *App) Wait() {
	a.processing.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.dictating {
		a.stopDictationLocked()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.processing.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn().Msg("Shutdown timed out waiting for transcription")
	}

	var g errgroup.Group
	for _, c := range a.closers {
		g.Go(c.Close)
	}
	return g.Wait()
}

// Tray actions

func (a *App) SetMode(mode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if mode != config.ModePushToTalk && mode != config.ModeToggle {
		return fmt.Errorf("invalid mode %q", mode)
	}
	a.cfg.Mode = mode
	return a.save(a.cfg)
}

func (a *App) SetStreaming(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dictating {
		return fmt.Errorf("cannot change while dictating")
	}
	a.cfg.Streaming.Enabled = enabled
	return a.save(a.cfg)
}

// SelectDevice picks an input by its index in ListDevices, or audio.DefaultDevice.
// The choice is saved by name.
func (a *App) SelectDevice(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dictating {
		return fmt.Errorf("cannot change while dictating")
	}
	name := ""
	if index != int(audio.DefaultDevice) {
		devices, err := a.rec.Devices()
		if err != nil {
			return err
		}
		if index < 0 || index >= len(devices) {
			return audio.ErrInvalidDeviceIndex
		}
		name = devices[index].Name
	}

	a.cfg.Audio.Device = name
	return a.save(a.cfg)
}

// resolveDevice finds the preferred device in the current enumeration.
func (a *App) resolveDevice(name string) audio.DeviceSelector {
	if name == "" {
		return audio.DefaultDevice
	}
	devices, err := a.rec.Devices()
	if err != nil {
		a.log.Warn().Err(err).Str("device", name).Msg("Failed to list audio devices, using system default")
		return audio.DefaultDevice
	}
	for _, d := range devices {
		if d.Name == name {
			return audio.DeviceSelector(d.Index)
		}
	}
	a.log.Warn().Str("device", name).Msg("Preferred microphone not found, using system default")
	return audio.DefaultDevice
}

func (a *App) Mode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Mode
}

func (a *App) StreamingEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Streaming.Enabled
}

// SelectedDevice is the ListDevices index of the preferred device, or
// audio.DefaultDevice when none is set or it is unplugged.
func (a *App) SelectedDevice() int {
	a.mu.Lock()
	name := a.cfg.Audio.Device
	a.mu.Unlock()
	return int(a.resolveDevice(name))
}

func (a *App) IsDictating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dictating
}

// LastTranscript is the most recently delivered text.
func (a *App) LastTranscript() string {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return a.lastText
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	return a.rec.Devices()
}

// RecentTranscripts returns up to n history entries, newest first.
func (a *App) RecentTranscripts(ctx context.Context, n int) ([]history.Entry, error) {
	if a.hist == nil {
		return nil, nil
	}
	return a.hist.Recent(ctx, n)
}

func (a *App) ClearHistory(ctx context.Context) error {
	if a.hist == nil {
		return nil
	}
	return a.hist.Clear(ctx)
}
