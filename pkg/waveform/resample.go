// Package waveform turns amplitude samples of a voice recording into the
// fixed number of bars a player draws.
//
// Callers size the output from their own layout (for example the pixel
// width available to the bars). Degenerate input never panics: an empty
// sample list or a non-positive target yields an empty slice.
package waveform

import "math"

// Resample returns exactly targetCount values describing samples.
//
// Longer inputs are reduced with Largest-Triangle-Three-Buckets so peaks
// survive; shorter inputs repeat each sample. Equal lengths return a copy.
func Resample(samples []float64, targetCount int) []float64 {
	if len(samples) == 0 || targetCount <= 0 {
		return []float64{}
	}
	switch {
	case len(samples) == targetCount:
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	case len(samples) > targetCount:
		return Downsample(samples, targetCount)
	default:
		return Upsample(samples, targetCount)
	}
}

// Downsample reduces samples to targetCount points. The first and last
// samples are always kept.
func Downsample(samples []float64, targetCount int) []float64 {
	n := len(samples)
	if n == 0 || targetCount <= 0 {
		return []float64{}
	}
	if n <= targetCount {
		out := make([]float64, n)
		copy(out, samples)
		return out
	}
	if targetCount == 1 {
		return []float64{mean(samples)}
	}

	out := make([]float64, 0, targetCount)
	out = append(out, samples[0])
	if targetCount == 2 {
		return append(out, samples[n-1])
	}

	bucketSize := float64(n-2) / float64(targetCount-2)
	selected := 0
	for bucket := 1; bucket < targetCount-1; bucket++ {
		start := bucketStart(bucket-1, bucketSize)
		end := bucketStart(bucket, bucketSize)
		prev := samples[selected]
		next := nextBucketMean(samples, bucket, bucketSize)

		spanAC := float64(1 + end - start)
		bestArea := -1.0
		bestIndex := start
		for i := start; i < end; i++ {
			spanAB := float64(i-start) + 1
			spanBC := spanAC - spanAB
			area := heron(
				hypot(math.Abs(prev-samples[i]), spanAB),
				hypot(math.Abs(samples[i]-next), spanBC),
				hypot(math.Abs(prev-next), spanAC),
			)
			if area > bestArea {
				bestArea = area
				bestIndex = i
			}
		}
		selected = bestIndex
		out = append(out, samples[selected])
	}
	return append(out, samples[n-1])
}

// Upsample stretches samples to targetCount by repetition. Every sample is
// repeated targetCount/len(samples) times and the leading samples absorb
// the remainder, one extra repetition each.
func Upsample(samples []float64, targetCount int) []float64 {
	n := len(samples)
	if n == 0 || targetCount <= 0 {
		return []float64{}
	}
	if n > targetCount {
		return Downsample(samples, targetCount)
	}

	reps := targetCount / n
	remainder := targetCount % n
	out := make([]float64, 0, targetCount)
	for _, sample := range samples {
		count := reps
		if remainder > 0 {
			count++
			remainder--
		}
		for j := 0; j < count; j++ {
			out = append(out, sample)
		}
	}
	return out
}

// bucketStart returns the first interior index of the given bucket.
func bucketStart(bucket int, bucketSize float64) int {
	return int(math.Floor(float64(bucket)*bucketSize)) + 1
}

func nextBucketMean(samples []float64, bucket int, bucketSize float64) float64 {
	start := bucketStart(bucket, bucketSize)
	end := bucketStart(bucket+1, bucketSize)
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return samples[len(samples)-1]
	}
	return mean(samples[start:end])
}

func heron(a, b, c float64) float64 {
	s := (a + b + c) / 2
	product := s * (s - a) * (s - b) * (s - c)
	// Rounding can push collinear triangles slightly below zero.
	if product <= 0 {
		return 0
	}
	return math.Sqrt(product)
}

func hypot(a, b float64) float64 {
	return math.Sqrt(a*a + b*b)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
