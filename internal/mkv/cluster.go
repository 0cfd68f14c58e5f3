package mkv

import "encoding/binary"

const (
	clusterSimpleBlockTrackNumberOffset    = 9
	clusterSimpleBlockDeltaTimestampOffset = 10
	clusterSimpleBlockPropertyOffset       = 12

	simpleBlockKeyFrameFlag = 0x80
)

// gClusterHeader is the Cluster element prefix: ID, unknown size marker,
// and the Timestamp sub-element (absolute timestamp in ms, filled in per
// call). No Position element is carried — cluster boundaries are found
// by scanning for the next Cluster/SimpleBlock ID on read.
var gClusterHeader = []byte{
	0x1F, 0x43, 0xB6, 0x75, // Cluster (L1)
	0xFF, // len = -1, unknown

	0xE7, 0x88, 0, 0, 0, 0, 0, 0, 0, 0, // Timestamp (L2), 8-byte BE placeholder
}

// gClusterSimpleBlock is the SimpleBlock element template: ID, an 8-byte
// size field (rewritten wholesale per frame — see BuildSimpleBlockHeader),
// track-number VINT, relative timestamp, and flags byte.
var gClusterSimpleBlock = []byte{
	0xA3, // SimpleBlock (L2)
	0x01, 0, 0, 0, 0, 0, 0, 0, // len = 4+payload, rewritten per frame
	0x81, // track Number VINT, placeholder
	0, 0, // relative timestamp, placeholder
	0, // flags, placeholder
}

// ClusterHeaderLen is the byte length of a standalone MKV Cluster header.
const ClusterHeaderLen = 15

// SimpleBlockHeaderLen is the byte length of a SimpleBlock header
// (excluding payload).
const SimpleBlockHeaderLen = 13

// BuildClusterHeader returns the Cluster header carrying an absolute
// timestamp in milliseconds.
func BuildClusterHeader(absoluteTimestampMs uint64) []byte {
	buf := make([]byte, ClusterHeaderLen)
	copy(buf, gClusterHeader)
	binary.BigEndian.PutUint64(buf[7:15], absoluteTimestampMs)
	return buf
}

// BuildSimpleBlockHeader returns the SimpleBlock header for a frame on
// the given track, with a timestamp relative to the enclosing cluster,
// payload length payloadLen, and key-frame flag.
func BuildSimpleBlockHeader(track TrackType, relativeTimestampMs int16, payloadLen int, keyFrame bool) []byte {
	buf := make([]byte, SimpleBlockHeaderLen)
	copy(buf, gClusterSimpleBlock)
	binary.BigEndian.PutUint64(buf[1:9], uint64(4+payloadLen))
	buf[clusterSimpleBlockTrackNumberOffset] = 0x80 | byte(track)
	binary.BigEndian.PutUint16(buf[clusterSimpleBlockDeltaTimestampOffset:], uint16(relativeTimestampMs))
	if keyFrame {
		buf[clusterSimpleBlockPropertyOffset] = simpleBlockKeyFrameFlag
	} else {
		buf[clusterSimpleBlockPropertyOffset] = 0
	}
	return buf
}

// BuildClusterWithFirstSimpleBlock returns the combined Cluster+
// SimpleBlock header (28 bytes) emitted for a Cluster-kind frame (a
// keyframe on the video track, per the data-model invariants).
func BuildClusterWithFirstSimpleBlock(absoluteTimestampMs uint64, track TrackType, payloadLen int, keyFrame bool) []byte {
	cluster := BuildClusterHeader(absoluteTimestampMs)
	block := BuildSimpleBlockHeader(track, 0, payloadLen, keyFrame)
	out := make([]byte, 0, len(cluster)+len(block))
	out = append(out, cluster...)
	out = append(out, block...)
	return out
}
