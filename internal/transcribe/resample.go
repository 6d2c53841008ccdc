package transcribe

// whisperSampleRate is the only rate whisper.cpp accepts.
const whisperSampleRate = 16000

// toWhisperInput converts int16 PCM at rate to float32 PCM at 16 kHz using
// linear interpolation.
func toWhisperInput(samples []int16, rate uint32) []float32 {
	if len(samples) == 0 || rate == 0 {
		return nil
	}

	if rate == whisperSampleRate {
		out := make([]float32, len(samples))
		for i, s := range samples {
			out[i] = float32(s) / 32768
		}
		return out
	}

	ratio := float64(rate) / whisperSampleRate
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = float32(samples[last]) / 32768
			continue
		}
		frac := pos - float64(j)
		v := float64(samples[j])*(1-frac) + float64(samples[j+1])*frac
		out[i] = float32(v / 32768)
	}
	return out
}
