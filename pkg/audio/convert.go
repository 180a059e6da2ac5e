package audio

import (
	"encoding/binary"
	"math"
)

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return math.MaxInt16
	}
	if sample < -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}

// Float32ToInt16Into fills dst with samples scaled to PCM16 and returns it.
func Float32ToInt16Into(dst []int16, samples []float32) []int16 {
	dst = grow(dst, len(samples))
	for i, sample := range samples {
		dst[i] = float32ToInt16(sample)
	}
	return dst
}

// Float64ToInt16Into is Float32ToInt16Into for float64 input, rounding to
// the nearest step. Browsers deliver recorder samples as float64 in JSON.
func Float64ToInt16Into(dst []int16, samples []float64) []int16 {
	dst = grow(dst, len(samples))
	for i, sample := range samples {
		v := math.Max(-1, math.Min(1, sample))
		dst[i] = int16(math.Round(v * math.MaxInt16))
	}
	return dst
}

// Int16ToFloat32Into fills dst with samples scaled to [-1, 1].
func Int16ToFloat32Into(dst []float32, samples []int16) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// Int16ToBytesInto writes little-endian PCM16 bytes.
func Int16ToBytesInto(dst []byte, samples []int16) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(sample))
	}
	return dst
}

// AppendInt16Bytes appends samples to dst as little-endian PCM16.
func AppendInt16Bytes(dst []byte, samples []int16) []byte {
	for _, sample := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(sample))
	}
	return dst
}

// BytesToInt16Into reads little-endian PCM16 samples. An odd trailing byte
// is treated as the low half of a final sample.
func BytesToInt16Into(dst []int16, data []byte) []int16 {
	needed := (len(data) + 1) / 2
	dst = grow(dst, needed)
	for i := 0; i < needed; i++ {
		low := data[i*2]
		high := byte(0)
		if i*2+1 < len(data) {
			high = data[i*2+1]
		}
		dst[i] = int16(low) | int16(high)<<8
	}
	return dst
}

func grow(dst []int16, n int) []int16 {
	if cap(dst) < n {
		return make([]int16, n)
	}
	return dst[:n]
}
