package audioio

import "math"

// Resample converts mono float samples between rates using linear
// interpolation. Good enough for speech.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []float32{}
	}

	result := make([]float32, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := samples[srcIdx]
			s2 := samples[srcIdx+1]
			result[i] = s1 + frac*(s2-s1)
		}
	}
	return result
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
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

// FloatToPCM16 clamps each sample to [-1, 1] and scales it to int16.
// Negative values scale by 32768 and positive by 32767 so both ends of
// the range are reachable.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s != s: // NaN
			out[i] = 0
		case s >= 1:
			out[i] = math.MaxInt16
		case s <= -1:
			out[i] = math.MinInt16
		case s < 0:
			out[i] = int16(s * 32768)
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// PCM16ToFloat scales int16 samples to float32 in [-1, 1).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes straight to floats.
func DecodePCM16(data []byte) []float32 {
	return PCM16ToFloat(BytesToSamples(data))
}

// EncodePCM16 converts floats straight to little-endian PCM16 bytes.
func EncodePCM16(samples []float32) []byte {
	return SamplesToBytes(FloatToPCM16(samples))
}

// Downmix averages interleaved multichannel samples into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// RMS returns the root mean square of samples. Full-scale input gives 1.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
