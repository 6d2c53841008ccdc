package audio

import (
	"errors"
	"fmt"
)

// DeviceSelector picks an input device: DefaultDevice or an index into the
// most recent Catalog.List result.
type DeviceSelector int

// DefaultDevice selects the host's default input device.
const DefaultDevice DeviceSelector = -1

// AudioDevice represents an audio input device
type AudioDevice struct {
	Index   int
	Name    string
	Default bool
}

// SampleFormat is the native encoding a device delivers.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatInt16
	FormatInt32
	FormatFloat32
	FormatUint8
	FormatInt8
)

func (f SampleFormat) String() string {
	switch f {
	case FormatInt16:
		return "int16"
	case FormatInt32:
		return "int32"
	case FormatFloat32:
		return "float32"
	case FormatUint8:
		return "uint8"
	case FormatInt8:
		return "int8"
	default:
		return "unknown"
	}
}

// ParseSampleFormat maps a config name to a SampleFormat.
func ParseSampleFormat(s string) SampleFormat {
	for _, f := range []SampleFormat{FormatInt16, FormatInt32, FormatFloat32, FormatUint8, FormatInt8} {
		if f.String() == s {
			return f
		}
	}
	return FormatUnknown
}

// StreamConfig is the negotiated shape of a capture stream.
type StreamConfig struct {
	SampleRate uint32
	Channels   int
	Format     SampleFormat
}

// HostDevice is an opaque device handle owned by a Host.
type HostDevice interface {
	Name() string
}

// Stream is an open hardware stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Host abstracts the platform audio backend.
//
// OpenStream's callback is one of func([]int16), func([]int32), func([]float32),
// func([]uint8) or func([]int8), matching cfg.Format. Buffers are interleaved.
type Host interface {
	InputDevices() ([]HostDevice, error)
	DefaultInputDevice() (HostDevice, error)
	DefaultConfig(dev HostDevice) (StreamConfig, error)
	OpenStream(dev HostDevice, cfg StreamConfig, callback interface{}) (Stream, error)
}

// LevelFunc receives the normalised input level (0..1) once per audio block.
// It runs on the audio callback thread and must not block.
type LevelFunc func(level float64)

// ChunkFunc receives a mono copy of each captured block. Same rules as LevelFunc.
type ChunkFunc func(samples []int16)

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }

var (
	ErrNoDevicesFound     error = &codedError{"NO_DEVICES_FOUND", "no input devices found"}
	ErrInvalidDeviceIndex error = &codedError{"INVALID_DEVICE_INDEX", "invalid device index"}
)

// DeviceOpenError reports a failure to open or start the hardware stream.
type DeviceOpenError struct {
	Device string
	Err    error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("failed to open input device %q: %v", e.Device, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }
func (e *DeviceOpenError) Code() string  { return "DEVICE_OPEN_ERROR" }

// UnsupportedFormatError is returned when the device's native encoding cannot be converted.
type UnsupportedFormatError struct {
	Format SampleFormat
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported sample format: %s", e.Format)
}

func (e *UnsupportedFormatError) Code() string { return "UNSUPPORTED_FORMAT" }

// ErrorCode returns the machine code of err, or "" when it carries none.
func ErrorCode(err error) string {
	var c interface{ Code() string }
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}
