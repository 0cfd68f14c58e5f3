// Package stream implements the ordered, lock-protected frame buffer that
// sits between the NAL/MKV layer and the PutMedia session: frames are kept
// timestamp-ordered, cluster-boundary-aware, and evictable under a
// ring-buffer memory policy.
package stream

import (
	"sync"

	"github.com/alxayo/kvs-producer/internal/mkv"
)

// TrackType mirrors mkv.TrackType so callers outside internal/mkv don't
// need to import it directly for this common case.
type TrackType = mkv.TrackType

const (
	TrackVideo = mkv.TrackVideo
	TrackAudio = mkv.TrackAudio
)

// ClusterKind distinguishes a frame that opens a new MKV Cluster from one
// carried as a bare SimpleBlock inside the current cluster.
type ClusterKind uint8

const (
	ClusterKindCluster ClusterKind = iota
	ClusterKindSimpleBlock
)

// TerminateFunc is invoked when a frame is freed from the buffer (popped
// or evicted). OnToBeSent runs immediately before a PutMediaUpdate write
// and may veto the send by returning a non-nil error — the frame is
// still removed from the buffer either way.
type TerminateFunc func(payload []byte, absoluteTimestampMs uint64, track TrackType)
type OnToBeSentFunc func(payload []byte, absoluteTimestampMs uint64, track TrackType) error

// DataFrame is one buffered, MKV-header-bearing frame.
type DataFrame struct {
	ClusterKind         ClusterKind
	Track               TrackType
	IsKeyFrame          bool
	AbsoluteTimestampMs uint64
	Payload             []byte // AVCC for H.264, raw compressed for audio
	MkvHeader           []byte // 13 bytes (SimpleBlock) or 28 bytes (Cluster+SimpleBlock)

	OnTerminate TerminateFunc
	OnToBeSent  OnToBeSentFunc
}

func (f *DataFrame) memSize() int {
	return frameStructOverhead + len(f.Payload) + len(f.MkvHeader)
}

// frameStructOverhead approximates sizeof(DataFrame) in the reference
// implementation for the purposes of mem_stat_total.
const frameStructOverhead = 64

// Buffer is the ordered, lock-protected frame queue described by the
// stream-buffer invariants: frames are ordered by absolute timestamp
// (ties broken video-before-audio), cluster boundaries are preserved, and
// delta timestamps are rewritten whenever an insertion reorders the tail.
type Buffer struct {
	mu                    sync.Mutex
	frames                []*DataFrame
	streamHeader          []byte // immutable EBML+Segment+Info+Tracks block
	earliestClusterTsMs   uint64
	haveEarliestClusterTs bool
}

// New creates a stream buffer for the given (immutable) video/audio
// track info, precomputing the EBML+Segment+Info+Tracks header once.
func New(segmentUID [16]byte, video mkv.VideoTrackInfo, audio *mkv.AudioTrackInfo) (*Buffer, error) {
	header, err := mkv.BuildStreamHeader(segmentUID, video, audio)
	if err != nil {
		return nil, err
	}
	return &Buffer{streamHeader: header}, nil
}

// StreamHeader returns the immutable EBML+Segment+Info+Tracks byte block
// computed at construction time.
func (b *Buffer) StreamHeader() []byte { return b.streamHeader }

// AddFrame inserts a frame in timestamp order. Cluster-kind frames carry
// a Cluster+SimpleBlock MKV header; SimpleBlock-kind frames carry a bare
// SimpleBlock header whose delta timestamp is relative to the most
// recent cluster boundary. The frame goes before the first buffered frame
// with a later timestamp (or, for video, before an audio frame with the
// same timestamp); the buffer does not refuse a frame older than its
// Cluster-kind frames. When a Cluster-kind frame lands ahead of existing
// frames, the delta timestamps of every SimpleBlock-kind frame after it
// are recomputed.
func (b *Buffer) AddFrame(track TrackType, payload []byte, absoluteTimestampMs uint64, isKeyFrame bool, onTerminate TerminateFunc, onToBeSent OnToBeSentFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind := ClusterKindSimpleBlock
	if track == TrackVideo && isKeyFrame {
		kind = ClusterKindCluster
	}

	frame := &DataFrame{
		ClusterKind:         kind,
		Track:               track,
		IsKeyFrame:          isKeyFrame,
		AbsoluteTimestampMs: absoluteTimestampMs,
		Payload:             payload,
		OnTerminate:         onTerminate,
		OnToBeSent:          onToBeSent,
	}

	insertAt := len(b.frames)
	clusterTs := b.lastKnownClusterTs()
	becomesNewClusterHead := false

	for i, existing := range b.frames {
		if absoluteTimestampMs < existing.AbsoluteTimestampMs ||
			(absoluteTimestampMs == existing.AbsoluteTimestampMs && track == TrackVideo && existing.Track == TrackAudio) {
			insertAt = i
			break
		}
		if existing.ClusterKind == ClusterKindCluster {
			clusterTs = existing.AbsoluteTimestampMs
		}
	}

	if kind == ClusterKindCluster {
		frame.MkvHeader = mkv.BuildClusterWithFirstSimpleBlock(absoluteTimestampMs, track, len(payload), isKeyFrame)
		becomesNewClusterHead = insertAt < len(b.frames)
	} else {
		delta := int64(absoluteTimestampMs) - int64(clusterTs)
		frame.MkvHeader = mkv.BuildSimpleBlockHeader(track, int16(delta), len(payload), isKeyFrame)
	}

	b.frames = append(b.frames, nil)
	copy(b.frames[insertAt+1:], b.frames[insertAt:])
	b.frames[insertAt] = frame

	if becomesNewClusterHead {
		b.rewriteDeltaTimestamps(insertAt)
	}
}

// lastKnownClusterTs returns the most recent cluster timestamp carried
// by the buffer, or the eviction bookkeeping value if the buffer is
// currently empty of Cluster-kind frames.
func (b *Buffer) lastKnownClusterTs() uint64 {
	for i := len(b.frames) - 1; i >= 0; i-- {
		if b.frames[i].ClusterKind == ClusterKindCluster {
			return b.frames[i].AbsoluteTimestampMs
		}
	}
	if b.haveEarliestClusterTs {
		return b.earliestClusterTsMs
	}
	return 0
}

// rewriteDeltaTimestamps recomputes every SimpleBlock-kind frame's MKV
// header delta timestamp after index start through the end of the buffer,
// each relative to the closest preceding Cluster-kind frame.
func (b *Buffer) rewriteDeltaTimestamps(start int) {
	if start >= len(b.frames) {
		return
	}
	clusterTs := b.frames[start].AbsoluteTimestampMs
	for i := start + 1; i < len(b.frames); i++ {
		f := b.frames[i]
		if f.ClusterKind == ClusterKindCluster {
			clusterTs = f.AbsoluteTimestampMs
			continue
		}
		delta := int64(f.AbsoluteTimestampMs) - int64(clusterTs)
		f.MkvHeader = mkv.BuildSimpleBlockHeader(f.Track, int16(delta), len(f.Payload), f.IsKeyFrame)
	}
}

// Pop removes and returns the head frame. When the popped frame is
// Cluster-kind, its timestamp becomes the new "earliest cluster
// timestamp" bookkeeping value.
func (b *Buffer) Pop() (*DataFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

func (b *Buffer) popLocked() (*DataFrame, bool) {
	if len(b.frames) == 0 {
		return nil, false
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	if f.ClusterKind == ClusterKindCluster {
		b.earliestClusterTsMs = f.AbsoluteTimestampMs
		b.haveEarliestClusterTs = true
	}
	return f, true
}

// Peek inspects (without removing) the head frame.
func (b *Buffer) Peek() (*DataFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false
	}
	return b.frames[0], true
}

// Len reports the current number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// EarliestClusterTimestamp returns the bookkeeping "earliest cluster
// timestamp still relevant" value and whether one has been recorded yet
// (set the first time a Cluster-kind frame is popped).
func (b *Buffer) EarliestClusterTimestamp() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.earliestClusterTsMs, b.haveEarliestClusterTs
}

// AvailableOnTrack reports whether any frame of track t currently sits
// in the buffer — used so a dual-track session does not send a video
// frame when no audio frame is ready to accompany it.
func (b *Buffer) AvailableOnTrack(t TrackType) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		if f.Track == t {
			return true
		}
	}
	return false
}

// MemStatTotal computes cumulative buffer memory: the precomputed stream
// header plus the per-frame struct overhead, payload, and MKV header for
// every buffered frame.
func (b *Buffer) MemStatTotal() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := uint64(len(b.streamHeader))
	for _, f := range b.frames {
		total += uint64(f.memSize())
	}
	return total
}

// EvictRingBuffer pops and terminates frames from the head while total
// buffer memory exceeds limit, returning the number of evicted frames.
// Each evicted frame's OnTerminate, if non-nil, is invoked before the
// frame is discarded.
func (b *Buffer) EvictRingBuffer(limit uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for b.memStatTotalLocked() > limit && len(b.frames) > 0 {
		f, ok := b.popLocked()
		if !ok {
			break
		}
		evicted++
		if f.OnTerminate != nil {
			f.OnTerminate(f.Payload, f.AbsoluteTimestampMs, f.Track)
		}
	}
	return evicted
}

func (b *Buffer) memStatTotalLocked() uint64 {
	total := uint64(len(b.streamHeader))
	for _, f := range b.frames {
		total += uint64(f.memSize())
	}
	return total
}
