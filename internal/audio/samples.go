package audio

import "math"

type sample interface {
	~int16 | ~int32 | ~float32 | ~uint8 | ~int8
}

// downmixInterleaved converts interleaved frames to mono int16 by averaging the
// channels of each frame. A trailing partial frame is dropped.
func downmixInterleaved[T sample](in []T, channels int, conv func(T) int16) []int16 {
	if channels <= 1 {
		out := make([]int16, len(in))
		for i, v := range in {
			out[i] = conv(v)
		}
		return out
	}

	frames := len(in) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int64
		for _, v := range in[f*channels : (f+1)*channels] {
			sum += int64(conv(v))
		}
		out[f] = int16(math.Round(float64(sum) / float64(channels)))
	}
	return out
}

func int16Sample(v int16) int16 { return v }

func int32Sample(v int32) int16 { return int16(v >> 16) }

func float32Sample(v float32) int16 {
	s := math.Round(float64(v) * 32768)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

func uint8Sample(v uint8) int16 { return (int16(v) - 128) << 8 }

func int8Sample(v int8) int16 { return int16(v) << 8 }

// RMS returns the root-mean-square of samples normalised to [-1, 1].
// An empty slice has an RMS of 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level scales an RMS value for display, clamped to [0, 1].
func Level(rms, gain float64) float64 {
	l := rms * gain
	if l > 1 {
		return 1
	}
	if l < 0 {
		return 0
	}
	return l
}
