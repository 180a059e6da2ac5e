package audio

import (
	"errors"
	"sync"

	soxr "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
}

var soxrPools sync.Map

func soxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := soxrPools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

func acquireSoxr(key soxrKey) (*soxr.SimpleResamplerFloat32, error) {
	if v := soxrPool(key).Get(); v != nil {
		if r, ok := v.(*soxr.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return soxr.NewEngineFloat32(float64(key.inRate), float64(key.outRate), soxr.QualityHigh)
}

func releaseSoxr(key soxrKey, r *soxr.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	soxrPool(key).Put(r)
}

// StreamResampler converts a continuous PCM16 stream between sample rates
// and buffers the output until whole frames are requested. Equal rates
// bypass libsoxr.
type StreamResampler struct {
	key    soxrKey
	r      *soxr.SimpleResamplerFloat32
	outBuf []float32
}

// NewStreamResampler creates a streaming resampler from inRate to outRate.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("sample rates must be positive")
	}
	s := &StreamResampler{key: soxrKey{inRate: inRate, outRate: outRate}}
	if inRate == outRate {
		return s, nil
	}
	r, err := acquireSoxr(s.key)
	if err != nil {
		return nil, err
	}
	s.r = r
	return s, nil
}

// InRate returns the input sample rate.
func (s *StreamResampler) InRate() int { return s.key.inRate }

// Append feeds PCM16 samples through the resampler.
func (s *StreamResampler) Append(pcm []int16) error {
	if s == nil || len(pcm) == 0 {
		return nil
	}
	tmp := AcquireFloat32(len(pcm))
	tmp = Int16ToFloat32Into(tmp, pcm)
	if s.r == nil {
		s.outBuf = append(s.outBuf, tmp...)
		ReleaseFloat32(tmp)
		return nil
	}
	out, err := s.r.Process(tmp)
	ReleaseFloat32(tmp)
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Flush drains samples held back by the filter.
func (s *StreamResampler) Flush() error {
	if s == nil || s.r == nil {
		return nil
	}
	out, err := s.r.Flush()
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Buffered returns the number of resampled samples waiting.
func (s *StreamResampler) Buffered() int {
	if s == nil {
		return 0
	}
	return len(s.outBuf)
}

// PopFrame returns a pooled PCM16 frame of frameSize samples if available.
// Callers release it with ReleaseInt16.
func (s *StreamResampler) PopFrame(frameSize int) ([]int16, bool) {
	if s == nil || frameSize <= 0 || len(s.outBuf) < frameSize {
		return nil, false
	}
	frame := Float32ToInt16Into(AcquireInt16(frameSize), s.outBuf[:frameSize])
	s.outBuf = s.outBuf[frameSize:]
	return frame, true
}

// PopRemainderPadded returns what is left, zero padded to frameSize.
func (s *StreamResampler) PopRemainderPadded(frameSize int) []int16 {
	if s == nil || frameSize <= 0 || len(s.outBuf) == 0 {
		return nil
	}
	if len(s.outBuf) > frameSize {
		s.outBuf = s.outBuf[:frameSize]
	}
	frame := AcquireInt16(frameSize)
	n := len(s.outBuf)
	Float32ToInt16Into(frame[:n], s.outBuf)
	for i := n; i < frameSize; i++ {
		frame[i] = 0
	}
	s.outBuf = nil
	return frame
}

// Close returns the libsoxr engine to its pool.
func (s *StreamResampler) Close() {
	if s == nil {
		return
	}
	releaseSoxr(s.key, s.r)
	s.r = nil
	s.outBuf = nil
}
