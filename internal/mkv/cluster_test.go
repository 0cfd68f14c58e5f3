package mkv

import (
	"bytes"
	"testing"
)

func TestBuildClusterWithFirstSimpleBlock(t *testing.T) {
	got := BuildClusterWithFirstSimpleBlock(0x1234, TrackVideo, 100, true)
	want := []byte{
		0x1F, 0x43, 0xB6, 0x75, 0xFF,
		0xE7, 0x88, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x12, 0x34,
		0xA3,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x68,
		0x81,
		0x00, 0x00,
		0x80,
	}
	if len(got) != 28 {
		t.Fatalf("expected 28-byte combined header, got %d", len(got))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestBuildSimpleBlockHeaderNonKeyframe(t *testing.T) {
	got := BuildSimpleBlockHeader(TrackAudio, 40, 20, false)
	if len(got) != SimpleBlockHeaderLen {
		t.Fatalf("expected %d bytes, got %d", SimpleBlockHeaderLen, len(got))
	}
	if got[0] != 0xA3 {
		t.Fatalf("expected SimpleBlock ID 0xA3, got %x", got[0])
	}
	if got[9] != 0x82 { // 0x80 | TrackAudio(2)
		t.Fatalf("expected track number byte 0x82, got %x", got[9])
	}
	if got[12] != 0x00 {
		t.Fatalf("expected non-keyframe flags byte 0x00, got %x", got[12])
	}
}
