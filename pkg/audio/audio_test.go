package audio

import (
	"math"
	"testing"

	"github.com/saker-ai/chatkit-server/pkg/audio/opusx"
)

func TestFloat64ToInt16IntoClamps(t *testing.T) {
	got := Float64ToInt16Into(nil, []float64{-2, -1, 0, 0.5, 1, 3})
	want := []int16{-math.MaxInt16, -math.MaxInt16, 0, 16384, math.MaxInt16, math.MaxInt16}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Float64ToInt16Into[%d]=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCMBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16, 1234}
	raw := Int16ToBytesInto(nil, samples)
	if len(raw) != len(samples)*2 {
		t.Fatalf("len(bytes)=%d, want %d", len(raw), len(samples)*2)
	}
	back := BytesToInt16Into(nil, raw)
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("round trip[%d]=%d, want %d", i, back[i], samples[i])
		}
	}
}

func TestBytesToInt16IntoOddLength(t *testing.T) {
	got := BytesToInt16Into(nil, []byte{0x01, 0x00, 0x05})
	if len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Fatalf("BytesToInt16Into=%v, want [1 5]", got)
	}
}

func TestPoolReusesCapacity(t *testing.T) {
	buf := AcquireInt16(64)
	if len(buf) != 64 {
		t.Fatalf("len=%d, want 64", len(buf))
	}
	ReleaseInt16(buf)
	if got := AcquireInt16(0); got != nil {
		t.Fatalf("AcquireInt16(0)=%v, want nil", got)
	}
}

func TestStreamResamplerPassthrough(t *testing.T) {
	s, err := NewStreamResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewStreamResampler error: %v", err)
	}
	defer s.Close()

	if err := s.Append([]int16{100, 200, 300, 400, 500}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	frame, ok := s.PopFrame(4)
	if !ok || len(frame) != 4 {
		t.Fatalf("PopFrame ok=%v len=%d, want 4 samples", ok, len(frame))
	}
	if frame[0] < 99 || frame[0] > 100 {
		t.Fatalf("frame[0]=%d, want about 100", frame[0])
	}
	if _, ok := s.PopFrame(4); ok {
		t.Fatal("PopFrame returned a frame with 1 sample buffered")
	}
	rest := s.PopRemainderPadded(4)
	if len(rest) != 4 || rest[1] != 0 {
		t.Fatalf("PopRemainderPadded=%v, want one sample then zeros", rest)
	}
	if s.Buffered() != 0 {
		t.Fatalf("Buffered=%d, want 0", s.Buffered())
	}
}

func TestStreamResamplerRejectsBadRates(t *testing.T) {
	if _, err := NewStreamResampler(0, 16000); err == nil {
		t.Fatal("NewStreamResampler(0, 16000) error=nil, want non-nil")
	}
}

func TestParseBandwidth(t *testing.T) {
	if _, ok := parseBandwidth("auto"); ok {
		t.Fatal("parseBandwidth(auto) ok=true, want false")
	}
	if bw, ok := parseBandwidth(" WB "); !ok || bw != opusx.Wideband {
		t.Fatalf("parseBandwidth(WB)=%v,%v", bw, ok)
	}
}
