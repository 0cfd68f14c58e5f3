package producer

import (
	"testing"

	"github.com/alxayo/kvs-producer/internal/mkv"
)

// TestStreamRbMemlimitNoPointerAliasing documents the fixed behaviour for
// the ring-buffer mem-limit pointer bug: the value read back from a
// Coordinator always equals the value set, because Options carries plain
// values (not pointers) for every tunable.
func TestStreamRbMemlimitNoPointerAliasing(t *testing.T) {
	const want = 2 << 20
	opts := Options{StreamRbMemlimit: want}
	resolved := opts.withDefaults()
	if resolved.StreamRbMemlimit != want {
		t.Fatalf("StreamRbMemlimit = %d, want %d", resolved.StreamRbMemlimit, want)
	}

	// Mutating the caller's struct after the fact must not retroactively
	// change a value already captured by withDefaults.
	opts.StreamRbMemlimit = 99
	if resolved.StreamRbMemlimit != want {
		t.Fatalf("resolved options aliased the caller's struct: got %d, want %d", resolved.StreamRbMemlimit, want)
	}
}

func TestWithDefaultsAppliesDefaultsOnlyToZeroFields(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.DataRetentionInHours != DefaultDataRetentionInHours {
		t.Fatalf("expected default data retention, got %d", opts.DataRetentionInHours)
	}
	if opts.StreamRbMemlimit != DefaultStreamRbMemlimit {
		t.Fatalf("expected default ring-buffer memlimit, got %d", opts.StreamRbMemlimit)
	}
	if opts.NetIoConnTimeout != DefaultConnTimeout {
		t.Fatalf("expected default conn timeout, got %v", opts.NetIoConnTimeout)
	}
}

func TestWithDefaultsDeepCopiesTrackInfo(t *testing.T) {
	video := mkv.VideoTrackInfo{TrackName: "video", CodecName: "V_MPEG4/ISO/AVC", Width: 640, Height: 480}
	opts := Options{VideoTrackInfo: &video}
	resolved := opts.withDefaults()

	video.Width = 1920 // mutate the caller's copy after resolving
	if resolved.VideoTrackInfo.Width != 640 {
		t.Fatalf("expected deep-copied VideoTrackInfo unaffected by later mutation, got width=%d", resolved.VideoTrackInfo.Width)
	}
}
