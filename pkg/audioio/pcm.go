package audioio

import "math"

// Resample converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
// For higher quality, consider using a polyphase filter.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)

	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			// Linear interpolation
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}

	return result
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// StereoToMono averages stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[i*2])
		right := int32(samples[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

// CalculateRMS calculates the root mean square of samples.
// Returns a value between 0.0 and 1.0.
func CalculateRMS(samples []int16) float64 {
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

// LevelDB returns the RMS level of samples in dBFS, floored at -96.
func LevelDB(samples []int16) float64 {
	rms := CalculateRMS(samples)
	if rms <= 0 {
		return -96
	}
	db := 20 * math.Log10(rms)
	if db < -96 {
		return -96
	}
	return db
}

// ScaleVolume writes in*volume/100 into out. Volumes above 100 are clamped.
// out and in may be the same slice.
func ScaleVolume(out, in []int16, volume uint8) {
	if volume > 100 {
		volume = 100
	}
	v := int32(volume)
	for i, s := range in {
		out[i] = int16(int32(s) * v / 100)
	}
}

// Interleave writes a two-channel frame into dst: ch0[i] at dst[2i] and
// ch1[i] at dst[2i+1]. Missing ch1 samples are written as zero.
func Interleave(dst, ch0, ch1 []int16) {
	for i, s := range ch0 {
		dst[2*i] = s
		if i < len(ch1) {
			dst[2*i+1] = ch1[i]
		} else {
			dst[2*i+1] = 0
		}
	}
}

// Deinterleave extracts channel ch of an interleaved frame with the given
// channel count.
func Deinterleave(frame []int16, channels, ch int) []int16 {
	if channels <= 0 || ch < 0 || ch >= channels {
		return nil
	}
	out := make([]int16, len(frame)/channels)
	for i := range out {
		out[i] = frame[i*channels+ch]
	}
	return out
}
