package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/voicetool/internal/config"
)

// PortAudioHost is the Host backed by the system PortAudio library.
type PortAudioHost struct {
	format          SampleFormat
	maxChannels     int
	framesPerBuffer int
}

type portAudioDevice struct {
	info *portaudio.DeviceInfo
}

func (d portAudioDevice) Name() string { return d.info.Name }

// NewPortAudioHost initialises PortAudio. Call Close to release it.
func NewPortAudioHost(cfg config.AudioConfig) (*PortAudioHost, error) {
	format := ParseSampleFormat(cfg.SampleFormat)
	if format == FormatUnknown {
		return nil, &UnsupportedFormatError{Format: format}
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	maxChannels := cfg.MaxChannels
	if maxChannels <= 0 {
		maxChannels = 2
	}
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = portaudio.FramesPerBufferUnspecified
	}

	return &PortAudioHost{
		format:          format,
		maxChannels:     maxChannels,
		framesPerBuffer: frames,
	}, nil
}

func (h *PortAudioHost) InputDevices() ([]HostDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	result := make([]HostDevice, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, portAudioDevice{info: d})
		}
	}
	return result, nil
}

func (h *PortAudioHost) DefaultInputDevice() (HostDevice, error) {
	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default input device: %w", err)
	}
	return portAudioDevice{info: d}, nil
}

// DefaultConfig uses the device's own sample rate and up to maxChannels channels.
// PortAudio converts to the configured sample format on our side of the callback.
func (h *PortAudioHost) DefaultConfig(dev HostDevice) (StreamConfig, error) {
	d, ok := dev.(portAudioDevice)
	if !ok {
		return StreamConfig{}, fmt.Errorf("device %q does not belong to PortAudio", dev.Name())
	}

	channels := d.info.MaxInputChannels
	if channels > h.maxChannels {
		channels = h.maxChannels
	}
	return StreamConfig{
		SampleRate: uint32(d.info.DefaultSampleRate),
		Channels:   channels,
		Format:     h.format,
	}, nil
}

func (h *PortAudioHost) OpenStream(dev HostDevice, cfg StreamConfig, callback interface{}) (Stream, error) {
	d, ok := dev.(portAudioDevice)
	if !ok {
		return nil, fmt.Errorf("device %q does not belong to PortAudio", dev.Name())
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: cfg.Channels,
			Latency:  d.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: h.framesPerBuffer,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return stream, nil
}

// Close terminates PortAudio.
func (h *PortAudioHost) Close() error {
	return portaudio.Terminate()
}
