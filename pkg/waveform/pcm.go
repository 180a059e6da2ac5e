package waveform

import (
	"encoding/binary"
	"math"
)

// FromPCM16 computes one RMS amplitude per window of little-endian PCM16
// audio. The result is normalized so the loudest window is 1.
func FromPCM16(pcm []byte, sampleRate int, channels int, windowMs int) []float64 {
	if len(pcm) == 0 || sampleRate <= 0 || channels <= 0 {
		return nil
	}
	samples := len(pcm) / 2
	if samples == 0 {
		return nil
	}
	frames := samples / channels
	if frames == 0 {
		return nil
	}
	chunkSize := sampleRate * windowMs / 1000
	if chunkSize <= 0 {
		chunkSize = frames
	}

	amplitudes := make([]float64, 0, (frames+chunkSize-1)/chunkSize)
	for start := 0; start < frames; start += chunkSize {
		end := start + chunkSize
		if end > frames {
			end = frames
		}
		amplitudes = append(amplitudes, rmsPCM(pcm, channels, start, end))
	}
	return Normalize(amplitudes)
}

// Normalize scales samples in place so the peak becomes 1 and returns
// them. Negative values are treated by magnitude; silence stays zero.
func Normalize(samples []float64) []float64 {
	peak := 0.0
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		for i := range samples {
			samples[i] = 0
		}
		return samples
	}
	for i := range samples {
		samples[i] = math.Abs(samples[i]) / peak
	}
	return samples
}

func rmsPCM(pcm []byte, channels int, startFrame int, endFrame int) float64 {
	if startFrame >= endFrame {
		return 0
	}
	sum := 0.0
	count := 0
	for frame := startFrame; frame < endFrame; frame++ {
		for ch := 0; ch < channels; ch++ {
			idx := (frame*channels + ch) * 2
			if idx+2 > len(pcm) {
				return finalizeRMS(sum, count)
			}
			value := float64(int16(binary.LittleEndian.Uint16(pcm[idx : idx+2])))
			sum += value * value
			count++
		}
	}
	return finalizeRMS(sum, count)
}

func finalizeRMS(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
