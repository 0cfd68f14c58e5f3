package producer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/alxayo/kvs-producer/internal/stream"
)

var (
	testSPS = []byte{0x67, 0x42, 0x80, 0x1e, 0xda, 0x02, 0x80, 0xf6, 0x94, 0x82, 0x83, 0x03, 0x03, 0x68, 0x50, 0x9a, 0x80}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x01, 0x02, 0x03}
)

// avccRecord builds one length-prefixed AVCC NAL record.
func avccRecord(nal []byte) []byte {
	var buf bytes.Buffer
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(nal)))
	buf.Write(lenBytes[:])
	buf.Write(nal)
	return buf.Bytes()
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Options{StreamName: "test-stream", Region: "us-west-2"})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func TestNewCoordinatorRequiresStreamName(t *testing.T) {
	if _, err := NewCoordinator(Options{}); err == nil {
		t.Fatalf("expected error for missing stream name")
	}
}

func TestAddFrameCapturesTrackInfoFromSpsPps(t *testing.T) {
	c := newTestCoordinator(t)

	spsFrame := make([]byte, 256)
	n := copy(spsFrame, avccRecord(testSPS))
	// The stream buffer can't exist until both SPS and PPS are captured,
	// so the first (SPS-only) frame is rejected rather than buffered.
	if err := c.AddFrame(spsFrame, n, len(spsFrame), 0, stream.TrackVideo); err == nil {
		t.Fatalf("expected error on SPS-only frame before PPS is captured")
	}
	if c.buffer != nil {
		t.Fatalf("buffer should not exist before PPS is captured too")
	}

	ppsFrame := make([]byte, 256)
	n = copy(ppsFrame, avccRecord(testPPS))
	if err := c.AddFrame(ppsFrame, n, len(ppsFrame), 1, stream.TrackVideo); err != nil {
		t.Fatalf("AddFrame(pps): %v", err)
	}
	if c.videoTrackInfo == nil {
		t.Fatalf("expected video track info to be synthesized after SPS+PPS capture")
	}
	if c.videoTrackInfo.Width == 0 || c.videoTrackInfo.Height == 0 {
		t.Fatalf("expected non-zero resolution derived from SPS, got %dx%d", c.videoTrackInfo.Width, c.videoTrackInfo.Height)
	}
	if c.buffer == nil {
		t.Fatalf("expected stream buffer to be built once track info is known")
	}
}

func TestAddFrameRejectsTimestampBelowSessionFloor(t *testing.T) {
	c := newTestCoordinator(t)
	c.earliestTimestampMs = 500

	frame := make([]byte, 64)
	n := copy(frame, avccRecord(testIDR))
	if err := c.AddFrame(frame, n, len(frame), 100, stream.TrackVideo); err == nil {
		t.Fatalf("expected error for timestamp preceding session floor")
	}
}

func TestAddFrameWithoutTrackInfoYetIsRejected(t *testing.T) {
	c := newTestCoordinator(t)

	frame := make([]byte, 64)
	n := copy(frame, avccRecord(testIDR))
	// Neither SPS nor PPS has been seen, and this frame isn't one either,
	// so the buffer cannot be built yet.
	if err := c.AddFrame(frame, n, len(frame), 0, stream.TrackVideo); err == nil {
		t.Fatalf("expected error while stream buffer is not yet ready")
	}
}

func TestStateStringTransitionsAreDistinct(t *testing.T) {
	states := []State{
		StateIdle, StateCredentialsReady, StateEndpointKnown,
		StateConnected, StateHeaderEmitted, StateStreaming, StateClosing,
	}
	seen := map[string]bool{}
	for _, s := range states {
		str := s.String()
		if str == "" || str == "unknown" {
			t.Fatalf("state %d has no name", s)
		}
		if seen[str] {
			t.Fatalf("duplicate state name %q", str)
		}
		seen[str] = true
	}
}

func TestCoordinatorStateStartsIdle(t *testing.T) {
	c := newTestCoordinator(t)
	if got := c.State(); got != StateIdle {
		t.Fatalf("State() = %v, want %v", got, StateIdle)
	}
}
