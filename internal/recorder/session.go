// Package recorder captures voice messages. A Session accepts audio in
// whatever shape the client produces, converts it to the configured
// canonical rate, encodes Opus packets for storage and derives the
// amplitude waveform shown on the voice message bubble.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/recorder/fsm"
	"github.com/saker-ai/chatkit-server/pkg/audio"
	"github.com/saker-ai/chatkit-server/pkg/waveform"
	"go.uber.org/zap"
)

var (
	// ErrNotRecording is returned when audio arrives outside a recording.
	ErrNotRecording = errors.New("recorder is not recording")
	// ErrMaxDuration is returned once the configured duration is reached.
	// Audio past the limit is dropped.
	ErrMaxDuration = errors.New("recording reached maximum duration")
	// ErrEmptyRecording is returned by Stop when nothing was captured.
	ErrEmptyRecording = errors.New("recording is empty")
)

// Recording is a finished voice message.
type Recording struct {
	DurationMs int64     `json:"duration_ms"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Waveform   []float64 `json:"waveform"`
	Packets    [][]byte  `json:"-"`
}

// Session records one voice message at a time. It is safe for concurrent
// use.
type Session struct {
	mu  sync.Mutex
	cfg appconfig.RecorderConfig
	log *zap.Logger
	fsm *fsm.Machine

	enc       *audio.OpusEncoder
	dec       *audio.OpusDecoder
	resampler *audio.StreamResampler

	pcm        []byte
	packets    [][]byte
	maxSamples int
	full       bool
}

// NewSession creates an idle recorder.
func NewSession(cfg appconfig.RecorderConfig, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	maxSamples := 0
	if cfg.MaxDurationSec > 0 {
		maxSamples = cfg.MaxDurationSec * cfg.SampleRate
	}
	return &Session{
		cfg:        cfg,
		log:        log,
		fsm:        fsm.New(),
		maxSamples: maxSamples,
	}
}

// State returns the recorder state.
func (s *Session) State() fsm.State {
	return s.fsm.State()
}

// Elapsed is the captured duration so far.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

// Start begins a new recording, discarding any previous stopped one.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Start(); err != nil {
		return err
	}
	s.resetLocked()
	enc, err := audio.AcquireOpusEncoder(s.cfg.SampleRate, s.cfg.Channels, s.cfg.FrameDurationMs, s.cfg.Opus)
	if err != nil {
		s.fsm.Reset()
		return fmt.Errorf("start recording: %w", err)
	}
	s.enc = enc
	s.log.Debug("recording started",
		zap.Int("sample_rate", s.cfg.SampleRate),
		zap.String("opus_backend", audio.Backend()),
	)
	return nil
}

// Pause suspends capture. Audio written while paused is dropped.
func (s *Session) Pause() error {
	return s.fsm.Pause()
}

// Resume continues capture after Pause.
func (s *Session) Resume() error {
	return s.fsm.Resume()
}

// WriteFloat appends samples in [-1, 1] captured at sampleRate.
func (s *Session) WriteFloat(samples []float64, sampleRate int) error {
	pcm := audio.AcquireInt16(len(samples))
	defer audio.ReleaseInt16(pcm)
	return s.writePCM(audio.Float64ToInt16Into(pcm, samples), sampleRate)
}

// WritePCM16 appends little-endian PCM16 audio captured at sampleRate.
func (s *Session) WritePCM16(data []byte, sampleRate int) error {
	pcm := audio.AcquireInt16(len(data) / 2)
	defer audio.ReleaseInt16(pcm)
	return s.writePCM(audio.BytesToInt16Into(pcm, data), sampleRate)
}

// WriteOpus decodes one Opus packet at the canonical rate and appends it.
func (s *Session) WriteOpus(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptLocked(); err != nil || !s.fsm.Active() {
		return err
	}
	if s.dec == nil {
		dec, err := audio.NewOpusDecoder(s.cfg.SampleRate, s.cfg.Channels)
		if err != nil {
			return err
		}
		s.dec = dec
	}
	pcm, err := s.dec.Decode(packet)
	if err != nil {
		return err
	}
	return s.appendLocked(pcm, s.cfg.SampleRate)
}

func (s *Session) writePCM(pcm []int16, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptLocked(); err != nil || !s.fsm.Active() {
		return err
	}
	return s.appendLocked(pcm, sampleRate)
}

// acceptLocked rejects audio outside a recording. Paused sessions accept
// the call but the caller drops the samples.
func (s *Session) acceptLocked() error {
	switch s.fsm.State() {
	case fsm.StateRecording:
		if s.full {
			return ErrMaxDuration
		}
		return nil
	case fsm.StatePaused:
		return nil
	default:
		return ErrNotRecording
	}
}

func (s *Session) appendLocked(pcm []int16, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}
	if sampleRate != s.cfg.SampleRate && s.cfg.Channels != 1 {
		return fmt.Errorf("resampling %d channel audio is not supported", s.cfg.Channels)
	}
	if s.resampler == nil || s.resampler.InRate() != sampleRate {
		if err := s.drainLocked(); err != nil {
			return err
		}
		r, err := audio.NewStreamResampler(sampleRate, s.cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("create resampler: %w", err)
		}
		s.resampler = r
	}
	if err := s.resampler.Append(pcm); err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	return s.encodeFramesLocked()
}

func (s *Session) frameSamples() int {
	return s.enc.FrameSize() * s.cfg.Channels
}

func (s *Session) encodeFramesLocked() error {
	for {
		frame, ok := s.resampler.PopFrame(s.frameSamples())
		if !ok {
			return nil
		}
		err := s.encodeLocked(frame)
		audio.ReleaseInt16(frame)
		if err != nil {
			return err
		}
	}
}

// encodeLocked stores one canonical frame and truncates at the duration
// limit.
func (s *Session) encodeLocked(frame []int16) error {
	if s.maxSamples > 0 {
		remaining := (s.maxSamples - s.capturedSamples()) * s.cfg.Channels
		if remaining <= 0 {
			s.full = true
			return ErrMaxDuration
		}
		if len(frame) > remaining {
			frame = frame[:remaining]
			s.full = true
		}
	}
	packet, err := s.enc.Encode(frame)
	if err != nil {
		return err
	}
	if packet != nil {
		s.packets = append(s.packets, packet)
	}
	s.pcm = audio.AppendInt16Bytes(s.pcm, frame)
	if s.full {
		return ErrMaxDuration
	}
	return nil
}

// drainLocked flushes the current resampler through the encoder, padding
// the final partial frame.
func (s *Session) drainLocked() error {
	if s.resampler == nil {
		return nil
	}
	defer func() {
		s.resampler.Close()
		s.resampler = nil
	}()
	if s.full {
		return nil
	}
	if err := s.resampler.Flush(); err != nil {
		return fmt.Errorf("flush resampler: %w", err)
	}
	if err := s.encodeFramesLocked(); err != nil {
		return err
	}
	if s.resampler.Buffered() == 0 {
		return nil
	}
	n := s.resampler.Buffered()
	frame := s.resampler.PopRemainderPadded(s.frameSamples())
	defer audio.ReleaseInt16(frame)
	return s.encodeLocked(frame[:n])
}

func (s *Session) capturedSamples() int {
	return len(s.pcm) / 2 / s.cfg.Channels
}

func (s *Session) elapsedLocked() time.Duration {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.capturedSamples()) * time.Second / time.Duration(s.cfg.SampleRate)
}

// Stop finishes the recording and returns it.
func (s *Session) Stop() (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Stop(); err != nil {
		return Recording{}, err
	}
	defer s.releaseLocked()

	if err := s.drainLocked(); err != nil && !errors.Is(err, ErrMaxDuration) {
		return Recording{}, err
	}
	if len(s.pcm) == 0 {
		return Recording{}, ErrEmptyRecording
	}

	amplitudes := waveform.FromPCM16(s.pcm, s.cfg.SampleRate, s.cfg.Channels, s.cfg.AmplitudeWindowMs)
	rec := Recording{
		DurationMs: s.elapsedLocked().Milliseconds(),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Waveform:   waveform.Resample(amplitudes, s.cfg.AmplitudeCount),
		Packets:    s.packets,
	}
	s.log.Debug("recording stopped",
		zap.Int64("duration_ms", rec.DurationMs),
		zap.Int("packets", len(rec.Packets)),
	)
	return rec, nil
}

// Cancel discards the current recording and returns to idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fsm.Reset()
	s.releaseLocked()
	s.resetLocked()
}

// Close releases pooled codec state.
func (s *Session) Close() {
	s.Cancel()
}

func (s *Session) releaseLocked() {
	if s.resampler != nil {
		s.resampler.Close()
		s.resampler = nil
	}
	if s.enc != nil {
		s.enc.Release()
		s.enc = nil
	}
	s.dec = nil
}

func (s *Session) resetLocked() {
	s.pcm = nil
	s.packets = nil
	s.full = false
}
