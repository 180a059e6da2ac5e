package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/saker-ai/chatkit-server/pkg/audio/opusx"
)

// maxPacketBytes is the largest Opus packet libopus recommends buffering.
const maxPacketBytes = 4000

// OpusOptions tune the encoder. Zero values keep libopus defaults.
type OpusOptions struct {
	Bitrate        int    `mapstructure:"bitrate" yaml:"bitrate"`
	Complexity     int    `mapstructure:"complexity" yaml:"complexity"`
	VBR            *bool  `mapstructure:"vbr" yaml:"vbr"`
	FEC            *bool  `mapstructure:"fec" yaml:"fec"`
	DTX            *bool  `mapstructure:"dtx" yaml:"dtx"`
	PacketLossPerc int    `mapstructure:"packet_loss_perc" yaml:"packet_loss_perc"`
	MaxBandwidth   string `mapstructure:"max_bandwidth" yaml:"max_bandwidth"`
}

func (o OpusOptions) apply(enc *opusx.Encoder) error {
	if o.Bitrate > 0 {
		if err := enc.SetBitrate(o.Bitrate); err != nil {
			return fmt.Errorf("set bitrate: %w", err)
		}
	}
	if o.Complexity > 0 {
		if err := enc.SetComplexity(o.Complexity); err != nil {
			return fmt.Errorf("set complexity: %w", err)
		}
	}
	if o.VBR != nil {
		if err := enc.SetVBR(*o.VBR); err != nil {
			return fmt.Errorf("set vbr: %w", err)
		}
	}
	if o.FEC != nil {
		if err := enc.SetInBandFEC(*o.FEC); err != nil {
			return fmt.Errorf("set fec: %w", err)
		}
	}
	if o.DTX != nil {
		if err := enc.SetDTX(*o.DTX); err != nil {
			return fmt.Errorf("set dtx: %w", err)
		}
	}
	if o.PacketLossPerc > 0 {
		if err := enc.SetPacketLossPerc(o.PacketLossPerc); err != nil {
			return fmt.Errorf("set packet loss: %w", err)
		}
	}
	if bw, ok := parseBandwidth(o.MaxBandwidth); ok {
		if err := enc.SetMaxBandwidth(bw); err != nil {
			return fmt.Errorf("set max bandwidth: %w", err)
		}
	}
	return nil
}

func parseBandwidth(v string) (opusx.Bandwidth, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "narrowband", "nb":
		return opusx.Narrowband, true
	case "mediumband", "mb":
		return opusx.Mediumband, true
	case "wideband", "wb":
		return opusx.Wideband, true
	case "superwideband", "swb":
		return opusx.SuperWideband, true
	case "fullband", "fb":
		return opusx.Fullband, true
	default:
		return 0, false
	}
}

// Backend names the Opus implementation compiled in.
func Backend() string {
	return opusx.Backend()
}

type opusKey struct {
	sampleRate int
	channels   int
}

var rawEncoderPools sync.Map

func rawEncoderPool(key opusKey) *sync.Pool {
	if pool, ok := rawEncoderPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := rawEncoderPools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

// OpusEncoder encodes fixed-duration PCM16 frames.
type OpusEncoder struct {
	mu         sync.Mutex
	key        opusKey
	enc        *opusx.Encoder
	frameSize  int
	packetBuf  []byte
	frameCount int
}

// AcquireOpusEncoder returns a pooled encoder configured with opts.
func AcquireOpusEncoder(sampleRate, channels, frameDurationMs int, opts OpusOptions) (*OpusEncoder, error) {
	key := opusKey{sampleRate: sampleRate, channels: channels}
	var enc *opusx.Encoder
	if v := rawEncoderPool(key).Get(); v != nil {
		enc, _ = v.(*opusx.Encoder)
	}
	if enc == nil {
		created, err := opusx.NewEncoder(sampleRate, channels, opusx.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("create opus encoder: %w", err)
		}
		enc = created
	}
	if err := opts.apply(enc); err != nil {
		return nil, err
	}
	return &OpusEncoder{
		key:       key,
		enc:       enc,
		frameSize: sampleRate * frameDurationMs / 1000,
		packetBuf: make([]byte, maxPacketBytes),
	}, nil
}

// FrameSize is the number of samples per channel in one frame.
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Frames is the number of frames encoded so far.
func (e *OpusEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameCount
}

// Encode encodes one frame. Short input is zero padded, long input cut.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return nil, fmt.Errorf("opus encoder released")
	}

	expected := e.frameSize * e.key.channels
	if len(pcm) != expected {
		padded := AcquireInt16(expected)
		n := copy(padded, pcm)
		for i := n; i < expected; i++ {
			padded[i] = 0
		}
		defer ReleaseInt16(padded)
		pcm = padded
	}

	n, err := e.enc.Encode(pcm, e.packetBuf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	e.frameCount++
	if n == 0 {
		return nil, nil
	}
	packet := make([]byte, n)
	copy(packet, e.packetBuf[:n])
	return packet, nil
}

// Release resets the underlying encoder and returns it to the pool.
func (e *OpusEncoder) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return
	}
	if err := e.enc.Reset(); err == nil {
		rawEncoderPool(e.key).Put(e.enc)
	}
	e.enc = nil
	e.packetBuf = nil
}

// OpusDecoder decodes Opus packets to PCM16.
type OpusDecoder struct {
	dec      *opusx.Decoder
	channels int
	pcmBuf   []int16
}

// NewOpusDecoder creates a decoder producing sampleRate PCM. A 120ms
// buffer covers the longest legal packet.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opusx.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:      dec,
		channels: channels,
		pcmBuf:   make([]int16, sampleRate*120/1000*channels),
	}, nil
}

// Decode returns the interleaved PCM16 samples of packet. The slice is
// reused by the next call.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcmBuf)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return d.pcmBuf[:n*d.channels], nil
}
