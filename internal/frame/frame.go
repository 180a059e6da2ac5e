// Package frame implements the compact binary framing shared by recorder
// uploads over WebSocket and stored voice recordings.
//
// Each frame is a 4-byte header followed by the payload:
//
//	[kind:1][reserved:1][length:2 big-endian][payload:length]
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the frame header in bytes.
const HeaderSize = 4

// MaxPayload is the largest payload a frame can carry.
const MaxPayload = 0xFFFF

// Kind describes the payload of a frame.
type Kind byte

const (
	// KindPCM carries little-endian PCM16 samples.
	KindPCM Kind = 0
	// KindOpus carries one Opus packet.
	KindOpus Kind = 1
	// KindCommand carries a JSON command.
	KindCommand Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindPCM:
		return "pcm"
	case KindOpus:
		return "opus"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

var (
	// ErrShortFrame is returned when a frame is smaller than its header
	// or its declared payload.
	ErrShortFrame = errors.New("frame too short")
	// ErrUnknownKind is returned for an unsupported payload kind.
	ErrUnknownKind = errors.New("unsupported frame kind")
	// ErrPayloadTooLarge is returned by Pack for payloads over MaxPayload.
	ErrPayloadTooLarge = errors.New("frame payload too large")
)

// Frame is a decoded frame. Payload aliases the input buffer.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Pack creates a frame for payload.
func Pack(kind Kind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	out[0] = byte(kind)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	return append(out, payload...), nil
}

// Decode parses a single frame. Bytes past the declared payload are ignored.
func Decode(data []byte) (Frame, error) {
	f, _, err := next(data)
	return f, err
}

// Split decodes a buffer of back-to-back frames.
func Split(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		f, n, err := next(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = data[n:]
	}
	return frames, nil
}

func next(data []byte) (Frame, int, error) {
	if len(data) < HeaderSize {
		return Frame{}, 0, ErrShortFrame
	}
	kind := Kind(data[0])
	switch kind {
	case KindPCM, KindOpus, KindCommand:
	default:
		return Frame{}, 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	size := int(binary.BigEndian.Uint16(data[2:4]))
	if size > len(data)-HeaderSize {
		return Frame{}, 0, ErrShortFrame
	}
	end := HeaderSize + size
	return Frame{Kind: kind, Payload: data[HeaderSize:end]}, end, nil
}
