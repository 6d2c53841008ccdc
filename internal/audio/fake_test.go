package audio

import (
	"errors"
	"sync"
	"sync/atomic"
)

type fakeDevice string

func (d fakeDevice) Name() string { return string(d) }

type fakeStream struct {
	callback interface{}
	startErr error

	started atomic.Bool
	stopped atomic.Bool
	closed  atomic.Bool
}

func (s *fakeStream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started.Store(true)
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeHost struct {
	devices    []HostDevice
	defaultDev HostDevice
	config     StreamConfig
	openErr    error
	startErr   error

	mu      sync.Mutex
	streams []*fakeStream
}

func newFakeHost(names ...string) *fakeHost {
	h := &fakeHost{
		config: StreamConfig{SampleRate: 48000, Channels: 1, Format: FormatInt16},
	}
	for _, n := range names {
		h.devices = append(h.devices, fakeDevice(n))
	}
	if len(h.devices) > 0 {
		h.defaultDev = h.devices[0]
	}
	return h
}

func (h *fakeHost) InputDevices() ([]HostDevice, error) {
	return h.devices, nil
}

func (h *fakeHost) DefaultInputDevice() (HostDevice, error) {
	if h.defaultDev == nil {
		return nil, errors.New("no default input device")
	}
	return h.defaultDev, nil
}

func (h *fakeHost) DefaultConfig(HostDevice) (StreamConfig, error) {
	return h.config, nil
}

func (h *fakeHost) OpenStream(_ HostDevice, _ StreamConfig, callback interface{}) (Stream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	s := &fakeStream{callback: callback, startErr: h.startErr}
	h.mu.Lock()
	h.streams = append(h.streams, s)
	h.mu.Unlock()
	return s, nil
}

func (h *fakeHost) stream(i int) *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[i]
}
