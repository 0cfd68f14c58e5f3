// Package mkv builds byte-exact EBML / Segment / Tracks / Cluster /
// SimpleBlock headers and codec-private blobs for streaming H.264 video
// (optionally paired with AAC or PCM audio) into a Matroska container.
package mkv

import (
	"encoding/binary"
	"fmt"
	"math"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// TrackType mirrors the MKV TrackType enum value, which doubles as the
// MKV TrackNumber/TrackUID for that track.
type TrackType uint8

const (
	TrackVideo TrackType = 1
	TrackAudio TrackType = 2
)

const trackNameMaxLen = 16

// VideoTrackInfo describes the video track placed into the Tracks header.
type VideoTrackInfo struct {
	TrackName     string
	CodecName     string // e.g. "V_MPEG4/ISO/AVC"
	Width         uint16
	Height        uint16
	CodecPrivate  []byte
}

// AudioTrackInfo describes the optional audio track.
type AudioTrackInfo struct {
	TrackName      string
	CodecName      string // e.g. "A_AAC" or "A_PCM/INT/LIT"
	FrequencyHz    uint32
	Channels       uint16
	BitsPerSample  uint16 // 0 => field absent
	CodecPrivate   []byte
}

var gEbmlHeader = []byte{
	0x1A, 0x45, 0xDF, 0xA3, // EBML (L0)
	0xA3, // len = 35

	0x42, 0x86, 0x81, 0x01, // EBMLVersion = 1
	0x42, 0xF7, 0x81, 0x01, // EBMLReadVersion = 1
	0x42, 0xF2, 0x81, 0x04, // EBMLMaxIDLength = 4
	0x42, 0xF3, 0x81, 0x08, // EBMLMaxSizeLength = 8
	0x42, 0x82, 0x88, 0x6D, 0x61, 0x74, 0x72, 0x6F, 0x73, 0x6B, 0x61, // DocType = "matroska"
	0x42, 0x87, 0x81, 0x02, // DocTypeVersion = 2
	0x42, 0x85, 0x81, 0x02, // DocTypeReadVersion = 2
}

var gSegmentHeader = []byte{0x18, 0x53, 0x80, 0x67, 0xFF} // Segment (L0), unknown size

const (
	segmentInfoUIDOffset       = 9
	segmentInfoTitleOffset     = 40
	segmentInfoMuxingAppOffset = 59
	segmentInfoWritingAppOffset = 78
)

var gSegmentInfoHeader = []byte{
	0x15, 0x49, 0xA9, 0x66, // Info (L1)
	0x40, 0x58, // len = 88

	0x73, 0xA4, 0x90, // SegmentUID (L2), len 16
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,

	0x2A, 0xD7, 0xB1, 0x88, // TimestampScale (L2), len 8
	0x00, 0x00, 0x00, 0x00, 0x00, 0x0F, 0x42, 0x40, // = 1,000,000 ns

	0x7B, 0xA9, 0x90, // Title (L2), len 16
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,

	0x4D, 0x80, 0x90, // MuxingApp (L2), len 16
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,

	0x57, 0x41, 0x90, // WritingApp (L2), len 16
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const tracksLengthOffset = 4 // into gSegmentTrackHeader

var gSegmentTrackHeader = []byte{
	0x16, 0x54, 0xAE, 0x6B, // Tracks (L1)
	0x10, 0x00, 0x00, 0x00, // len, fixed up below
}

const (
	trackEntryHeaderSize       = 5 // leading ID(1)+len(4) of TrackEntry itself
	trackEntryLenOffset        = 1
	trackEntryTrackNumberOffset = 7
	trackEntryTrackUIDOffset    = 11
	trackEntryTrackTypeOffset   = 21
	trackEntryTrackNameOffset   = 25
)

var gSegmentTrackEntryHeader = []byte{
	0xAE, 0x10, 0x00, 0x00, 0x00, // TrackEntry (L2), len fixed up

	0xD7, 0x81, 0x01, // TrackNumber (L3) = 1 (placeholder)

	0x73, 0xC5, 0x88, 0, 0, 0, 0, 0, 0, 0, 1, // TrackUID (L3), 8 bytes (placeholder)

	0x83, 0x81, 0x01, // TrackType (L3) = 1 (placeholder)

	0x53, 0x6E, 0x90, // Name (L3), len 16 (placeholder)
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const codecHeaderLenOffset = 1 // into gSegmentTrackEntryCodecHeader

var gSegmentTrackEntryCodecHeader = []byte{0x86, 0x40, 0x00} // CodecID (L3), len fixed up

const (
	videoHeaderWidthOffset  = 7
	videoHeaderHeightOffset = 11
)

var gSegmentTrackEntryVideoHeader = []byte{
	0xE0, 0x10, 0x00, 0x00, 0x08, // Video (L3), len = 8

	0xB0, 0x82, 0x00, 0x00, // PixelWidth (L4), placeholder
	0xBA, 0x82, 0x00, 0x00, // PixelHeight (L4), placeholder
}

const (
	audioHeaderFrequencyOffset = 7
	audioHeaderChannelsOffset  = 17
)

var gSegmentTrackEntryAudioHeader = []byte{
	0xE1, 0x10, 0x00, 0x00, 0x0D, // Audio (L3), len = 13

	0xB5, 0x88, 0, 0, 0, 0, 0, 0, 0, 0, // SamplingFrequency (L4), IEEE double, placeholder

	0x9F, 0x81, 0x00, // Channels (L4), placeholder
}

const audioHeaderBitsPerSampleOffset = 2

var gSegmentTrackEntryAudioHeaderBitsPerSample = []byte{0x62, 0x64, 0x81, 0x00} // BitDepth (L4)

const codecPrivateLenOffset = 2

var gSegmentTrackEntryCodecPrivateHeader = []byte{0x63, 0xA2, 0x10, 0x00, 0x00, 0x00} // CodecPrivate (L3)

// lengthIndicator2Byte and lengthIndicator4Byte set the VINT marker bit for a
// 2-byte / 4-byte EBML size field.
const (
	lengthIndicator2Byte = 0x4000
	lengthIndicator4Byte = 0x10000000
)

// BuildVideoTrackEntry serializes one H.264 TrackEntry element.
func BuildVideoTrackEntry(info VideoTrackInfo) ([]byte, error) {
	if info.CodecName == "" {
		return nil, kvserrors.NewArgumentError("mkv.buildVideoTrackEntry", fmt.Errorf("codec name required"))
	}
	hasPrivate := len(info.CodecPrivate) > 0

	size := len(gSegmentTrackEntryHeader)
	size += len(gSegmentTrackEntryCodecHeader) + len(info.CodecName)
	size += len(gSegmentTrackEntryVideoHeader)
	if hasPrivate {
		size += len(gSegmentTrackEntryCodecPrivateHeader) + len(info.CodecPrivate)
	}

	buf := make([]byte, size)
	idx := 0

	copy(buf[idx:], gSegmentTrackEntryHeader)
	buf[idx+trackEntryTrackNumberOffset] = byte(TrackVideo)
	binary.BigEndian.PutUint64(buf[idx+trackEntryTrackUIDOffset:], uint64(TrackVideo))
	buf[idx+trackEntryTrackTypeOffset] = byte(TrackVideo)
	writeTrackName(buf[idx+trackEntryTrackNameOffset:idx+trackEntryTrackNameOffset+trackNameMaxLen], info.TrackName)
	idx += len(gSegmentTrackEntryHeader)

	copy(buf[idx:], gSegmentTrackEntryCodecHeader)
	binary.BigEndian.PutUint16(buf[idx+codecHeaderLenOffset:], uint16(lengthIndicator2Byte|len(info.CodecName)))
	idx += len(gSegmentTrackEntryCodecHeader)

	copy(buf[idx:], info.CodecName)
	idx += len(info.CodecName)

	copy(buf[idx:], gSegmentTrackEntryVideoHeader)
	binary.BigEndian.PutUint16(buf[idx+videoHeaderWidthOffset:], info.Width)
	binary.BigEndian.PutUint16(buf[idx+videoHeaderHeightOffset:], info.Height)
	idx += len(gSegmentTrackEntryVideoHeader)

	if hasPrivate {
		copy(buf[idx:], gSegmentTrackEntryCodecPrivateHeader)
		binary.BigEndian.PutUint32(buf[idx+codecPrivateLenOffset:], uint32(lengthIndicator4Byte)|uint32(len(info.CodecPrivate)))
		idx += len(gSegmentTrackEntryCodecPrivateHeader)

		copy(buf[idx:], info.CodecPrivate)
		idx += len(info.CodecPrivate)
	}

	binary.BigEndian.PutUint32(buf[trackEntryLenOffset:], uint32(lengthIndicator4Byte)|uint32(size-trackEntryHeaderSize))
	return buf, nil
}

// BuildAudioTrackEntry serializes one audio TrackEntry element.
func BuildAudioTrackEntry(info AudioTrackInfo) ([]byte, error) {
	if info.CodecName == "" {
		return nil, kvserrors.NewArgumentError("mkv.buildAudioTrackEntry", fmt.Errorf("codec name required"))
	}
	hasPrivate := len(info.CodecPrivate) > 0
	hasBPS := info.BitsPerSample > 0

	size := len(gSegmentTrackEntryHeader)
	size += len(gSegmentTrackEntryCodecHeader) + len(info.CodecName)
	size += len(gSegmentTrackEntryAudioHeader)
	if hasBPS {
		size += len(gSegmentTrackEntryAudioHeaderBitsPerSample)
	}
	if hasPrivate {
		size += len(gSegmentTrackEntryCodecPrivateHeader) + len(info.CodecPrivate)
	}

	buf := make([]byte, size)
	idx := 0

	copy(buf[idx:], gSegmentTrackEntryHeader)
	buf[idx+trackEntryTrackNumberOffset] = byte(TrackAudio)
	binary.BigEndian.PutUint64(buf[idx+trackEntryTrackUIDOffset:], uint64(TrackAudio))
	buf[idx+trackEntryTrackTypeOffset] = byte(TrackAudio)
	writeTrackName(buf[idx+trackEntryTrackNameOffset:idx+trackEntryTrackNameOffset+trackNameMaxLen], info.TrackName)
	idx += len(gSegmentTrackEntryHeader)

	copy(buf[idx:], gSegmentTrackEntryCodecHeader)
	binary.BigEndian.PutUint16(buf[idx+codecHeaderLenOffset:], uint16(lengthIndicator2Byte|len(info.CodecName)))
	idx += len(gSegmentTrackEntryCodecHeader)

	copy(buf[idx:], info.CodecName)
	idx += len(info.CodecName)

	copy(buf[idx:], gSegmentTrackEntryAudioHeader)
	binary.BigEndian.PutUint64(buf[idx+audioHeaderFrequencyOffset:], math.Float64bits(float64(info.FrequencyHz)))
	buf[idx+audioHeaderChannelsOffset] = byte(info.Channels)
	idx += len(gSegmentTrackEntryAudioHeader)

	if hasBPS {
		// BitDepth is a child of Audio: grow the Audio element's size to cover it.
		audioStart := idx - len(gSegmentTrackEntryAudioHeader)
		binary.BigEndian.PutUint32(buf[audioStart+1:], uint32(lengthIndicator4Byte)|
			uint32(len(gSegmentTrackEntryAudioHeader)-5+len(gSegmentTrackEntryAudioHeaderBitsPerSample)))
		copy(buf[idx:], gSegmentTrackEntryAudioHeaderBitsPerSample)
		buf[idx+audioHeaderBitsPerSampleOffset] = byte(info.BitsPerSample)
		idx += len(gSegmentTrackEntryAudioHeaderBitsPerSample)
	}

	if hasPrivate {
		copy(buf[idx:], gSegmentTrackEntryCodecPrivateHeader)
		binary.BigEndian.PutUint32(buf[idx+codecPrivateLenOffset:], uint32(lengthIndicator4Byte)|uint32(len(info.CodecPrivate)))
		idx += len(gSegmentTrackEntryCodecPrivateHeader)

		copy(buf[idx:], info.CodecPrivate)
		idx += len(info.CodecPrivate)
	}

	binary.BigEndian.PutUint32(buf[trackEntryLenOffset:], uint32(lengthIndicator4Byte)|uint32(size-trackEntryHeaderSize))
	return buf, nil
}

func writeTrackName(dst []byte, name string) {
	n := copy(dst, name)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// BuildTracksHeader wraps one or two TrackEntry blobs in the outer Tracks
// element, with its size filled in after the entries are known.
func BuildTracksHeader(entries ...[]byte) []byte {
	total := 0
	for _, e := range entries {
		total += len(e)
	}
	buf := make([]byte, len(gSegmentTrackHeader)+total)
	copy(buf, gSegmentTrackHeader)
	binary.BigEndian.PutUint32(buf[tracksLengthOffset:], uint32(lengthIndicator4Byte)|uint32(total))
	off := len(gSegmentTrackHeader)
	for _, e := range entries {
		off += copy(buf[off:], e)
	}
	return buf
}

// BuildSegmentInfo fills the 16-byte random SegmentUID into the fixed
// Segment Info header.
func BuildSegmentInfo(segmentUID [16]byte) []byte {
	buf := make([]byte, len(gSegmentInfoHeader))
	copy(buf, gSegmentInfoHeader)
	copy(buf[segmentInfoUIDOffset:segmentInfoUIDOffset+16], segmentUID[:])
	return buf
}

// BuildStreamHeader assembles the full EBML+Segment+Info+Tracks byte
// block emitted exactly once at the start of a session.
func BuildStreamHeader(segmentUID [16]byte, video VideoTrackInfo, audio *AudioTrackInfo) ([]byte, error) {
	videoEntry, err := BuildVideoTrackEntry(video)
	if err != nil {
		return nil, err
	}
	entries := [][]byte{videoEntry}
	if audio != nil {
		audioEntry, err := BuildAudioTrackEntry(*audio)
		if err != nil {
			return nil, err
		}
		entries = append(entries, audioEntry)
	}
	tracks := BuildTracksHeader(entries...)
	info := BuildSegmentInfo(segmentUID)

	out := make([]byte, 0, len(gEbmlHeader)+len(gSegmentHeader)+len(info)+len(tracks))
	out = append(out, gEbmlHeader...)
	out = append(out, gSegmentHeader...)
	out = append(out, info...)
	out = append(out, tracks...)
	return out, nil
}
