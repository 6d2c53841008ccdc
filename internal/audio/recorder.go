package audio

import (
	"sync"
	"sync/atomic"

	"github.com/petems/voicetool/internal/config"
	"github.com/rs/zerolog"
)

// Result is what a finished recording session yields.
type Result struct {
	Samples    []int16
	SampleRate uint32
	AverageRMS float64
	Silent     bool
}

// StartOption customises a recording session.
type StartOption func(*StartOptions)

// StartOptions is the resolved set of StartOption values.
type StartOptions struct {
	OnChunk ChunkFunc
}

// ResolveStartOptions applies opts in order.
func ResolveStartOptions(opts ...StartOption) StartOptions {
	var o StartOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithChunkHandler taps every converted block, e.g. for streaming it elsewhere.
func WithChunkHandler(fn ChunkFunc) StartOption {
	return func(o *StartOptions) {
		o.OnChunk = fn
	}
}

// Recorder owns at most one live capture stream and the session buffer it fills.
//
// Every Start bumps the generation id. Callbacks are bound to the generation
// they were created for and become no-ops once it is no longer current, so a
// superseded stream can never write into a newer session.
type Recorder struct {
	host    Host
	catalog *Catalog
	gain    float64
	log     zerolog.Logger

	generation atomic.Uint64
	active     atomic.Bool
	sampleRate atomic.Uint32

	ctl    sync.Mutex // serialises Start, Stop and Close
	stream Stream

	mu  sync.Mutex // guards buf; held only to append or drain
	buf []int16

	retired sync.WaitGroup
}

// NewRecorder creates a new capture engine on top of host.
func NewRecorder(host Host, cfg config.AudioConfig, log zerolog.Logger) *Recorder {
	gain := cfg.LevelGain
	if gain <= 0 {
		gain = 50
	}
	return &Recorder{
		host:    host,
		catalog: NewCatalog(host),
		gain:    gain,
		log:     log,
	}
}

// Start begins a new session on the selected device. Any session in progress is
// superseded and its samples discarded. On error the recorder is left idle.
func (r *Recorder) Start(sel DeviceSelector, onLevel LevelFunc, opts ...StartOption) error {
	o := ResolveStartOptions(opts...)

	r.ctl.Lock()
	defer r.ctl.Unlock()

	r.active.Store(false)
	gen := r.generation.Add(1)
	r.retire(r.stream)
	r.stream = nil

	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()

	dev, err := r.catalog.Resolve(sel)
	if err != nil {
		return err
	}

	cfg, err := r.host.DefaultConfig(dev)
	if err != nil {
		return &DeviceOpenError{Device: dev.Name(), Err: err}
	}
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}

	cb, err := r.callbackFor(cfg, gen, onLevel, o.OnChunk)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.buf = make([]int16, 0, cfg.SampleRate)
	r.mu.Unlock()
	r.sampleRate.Store(cfg.SampleRate)

	stream, err := r.host.OpenStream(dev, cfg, cb)
	if err != nil {
		return &DeviceOpenError{Device: dev.Name(), Err: err}
	}

	r.active.Store(true)
	if err := stream.Start(); err != nil {
		r.active.Store(false)
		_ = stream.Close()
		return &DeviceOpenError{Device: dev.Name(), Err: err}
	}
	r.stream = stream

	r.log.Info().
		Str("device", dev.Name()).
		Uint32("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Str("format", cfg.Format.String()).
		Uint64("generation", gen).
		Msg("Recording started")
	return nil
}

// Stop ends the session and returns everything captured since Start. Calling it
// while idle returns an empty, silent result.
func (r *Recorder) Stop(silenceThreshold float64) Result {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	r.active.Store(false)

	r.mu.Lock()
	samples := r.buf
	r.buf = nil
	r.mu.Unlock()

	r.retire(r.stream)
	r.stream = nil

	if samples == nil {
		samples = []int16{}
	}
	rms := RMS(samples)
	res := Result{
		Samples:    samples,
		SampleRate: r.sampleRate.Load(),
		AverageRMS: rms,
		Silent:     len(samples) == 0 || rms < silenceThreshold,
	}

	r.log.Info().
		Int("samples", len(samples)).
		Float64("rms", rms).
		Bool("silent", res.Silent).
		Msg("Recording stopped")
	return res
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	return r.active.Load()
}

// SampleRate is the device rate of the current or most recent session.
func (r *Recorder) SampleRate() uint32 {
	return r.sampleRate.Load()
}

// Devices lists the host's input devices.
func (r *Recorder) Devices() ([]AudioDevice, error) {
	return r.catalog.List()
}

// Close stops any session and waits until every retired stream is released.
func (r *Recorder) Close() error {
	r.ctl.Lock()
	r.active.Store(false)
	r.generation.Add(1)
	r.retire(r.stream)
	r.stream = nil
	r.ctl.Unlock()

	r.retired.Wait()
	return nil
}

// retire stops and closes s off the caller's goroutine. Stopping a stream can
// block until its in-flight callback returns.
func (r *Recorder) retire(s Stream) {
	if s == nil {
		return
	}
	r.retired.Add(1)
	go func() {
		defer r.retired.Done()
		if err := s.Stop(); err != nil {
			r.log.Debug().Err(err).Msg("Failed to stop retired stream")
		}
		if err := s.Close(); err != nil {
			r.log.Debug().Err(err).Msg("Failed to close retired stream")
		}
	}()
}

func (r *Recorder) current(gen uint64) bool {
	return r.active.Load() && r.generation.Load() == gen
}

// appendBlock adds mono samples to the session buffer unless gen went stale
// while the block was being converted.
func (r *Recorder) appendBlock(gen uint64, mono []int16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current(gen) {
		return false
	}
	r.buf = append(r.buf, mono...)
	return true
}

func (r *Recorder) callbackFor(cfg StreamConfig, gen uint64, onLevel LevelFunc, onChunk ChunkFunc) (interface{}, error) {
	switch cfg.Format {
	case FormatInt16:
		return blockHandler(r, gen, cfg.Channels, int16Sample, onLevel, onChunk), nil
	case FormatInt32:
		return blockHandler(r, gen, cfg.Channels, int32Sample, onLevel, onChunk), nil
	case FormatFloat32:
		return blockHandler(r, gen, cfg.Channels, float32Sample, onLevel, onChunk), nil
	case FormatUint8:
		return blockHandler(r, gen, cfg.Channels, uint8Sample, onLevel, onChunk), nil
	case FormatInt8:
		return blockHandler(r, gen, cfg.Channels, int8Sample, onLevel, onChunk), nil
	default:
		return nil, &UnsupportedFormatError{Format: cfg.Format}
	}
}

func blockHandler[T sample](r *Recorder, gen uint64, channels int, conv func(T) int16, onLevel LevelFunc, onChunk ChunkFunc) func([]T) {
	return func(in []T) {
		if !r.current(gen) {
			return
		}
		mono := downmixInterleaved(in, channels, conv)
		if len(mono) == 0 {
			return
		}
		if onLevel != nil {
			onLevel(Level(RMS(mono), r.gain))
		}
		if !r.appendBlock(gen, mono) {
			return
		}
		// mono was copied into the session buffer, so the tap may keep it.
		if onChunk != nil {
			onChunk(mono)
		}
	}
}
