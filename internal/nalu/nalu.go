// Package nalu implements H.264 NAL unit framing utilities: Annex-B vs.
// AVCC detection, NAL unit enumeration, in-place Annex-B→AVCC conversion,
// and SPS resolution decode (see sps.go).
package nalu

import (
	"encoding/binary"
	"fmt"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// MaxNaluCountInFrame bounds the number of NAL units
// ConvertAnnexBToAVCCInPlace will track in a single frame.
const MaxNaluCountInFrame = 16

// NaluTypeOfFirst peeks the first NAL unit's nal_unit_type (low 5 bits of
// the first byte after the start code / length prefix).
func NaluTypeOfFirst(frame []byte) (uint8, error) {
	if IsAnnexB(frame) {
		payload, _, err := FindFirstAnnexB(frame)
		if err != nil {
			return 0, err
		}
		if len(payload) == 0 {
			return 0, kvserrors.NewParseError("nalu.naluTypeOfFirst", fmt.Errorf("empty NAL unit"))
		}
		return payload[0] & 0x1F, nil
	}
	if len(frame) < 5 {
		return 0, kvserrors.NewParseError("nalu.naluTypeOfFirst", fmt.Errorf("avcc frame too short"))
	}
	return frame[4] & 0x1F, nil
}

// IsAnnexB reports whether frame starts with a 3-byte (00 00 01) or
// 4-byte (00 00 00 01) Annex-B start code.
func IsAnnexB(frame []byte) bool {
	if len(frame) >= 4 && frame[0] == 0 && frame[1] == 0 && frame[2] == 0 && frame[3] == 1 {
		return true
	}
	if len(frame) >= 3 && frame[0] == 0 && frame[1] == 0 && frame[2] == 1 {
		return true
	}
	return false
}

// FindNaluInAVCC iterates AVCC length-prefixed records in buf and returns
// the payload of the first NAL unit whose type matches naluType and whose
// forbidden_zero_bit is 0.
func FindNaluInAVCC(buf []byte, naluType uint8) ([]byte, error) {
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			return nil, kvserrors.NewParseError("nalu.findNaluInAvcc", fmt.Errorf("avcc length prefix runs past buffer"))
		}
		length := binary.BigEndian.Uint32(buf[off : off+4])
		start := off + 4
		end := start + int(length)
		if end > len(buf) {
			return nil, kvserrors.NewParseError("nalu.findNaluInAvcc", fmt.Errorf("avcc record runs past buffer"))
		}
		if length > 0 {
			header := buf[start]
			if header&0x80 == 0 && header&0x1F == naluType {
				return buf[start:end], nil
			}
		}
		off = end
	}
	return nil, errNaluNotFound
}

var errNaluNotFound = kvserrors.NewParseError("nalu.findNalu", fmt.Errorf("nal unit type not found"))

// ErrNaluNotFound is returned (wrapped) when the requested NAL unit type
// is absent from the buffer.
func ErrNaluNotFound() error { return errNaluNotFound }

// FindNaluInAnnexB scans buf for Annex-B start codes and returns the
// payload of the first NAL unit whose type matches naluType.
func FindNaluInAnnexB(buf []byte, naluType uint8) ([]byte, error) {
	starts := findStartCodes(buf)
	if len(starts) == 0 {
		return nil, kvserrors.NewParseError("nalu.findNaluInAnnexB", fmt.Errorf("no start code found"))
	}
	for i, s := range starts {
		end := len(buf)
		if i+1 < len(starts) {
			end = starts[i+1].startCodeOffset
		}
		payload := buf[s.payloadOffset:end]
		if len(payload) == 0 {
			continue
		}
		if payload[0]&0x1F == naluType {
			return payload, nil
		}
	}
	return nil, errNaluNotFound
}

// FindFirstAnnexB returns the payload and byte extent of the first NAL
// unit in an Annex-B buffer.
func FindFirstAnnexB(buf []byte) (payload []byte, length int, err error) {
	starts := findStartCodes(buf)
	if len(starts) == 0 {
		return nil, 0, kvserrors.NewParseError("nalu.findFirstAnnexB", fmt.Errorf("no start code found"))
	}
	end := len(buf)
	if len(starts) > 1 {
		end = starts[1].startCodeOffset
	}
	p := buf[starts[0].payloadOffset:end]
	return p, len(p), nil
}

type startCode struct {
	startCodeOffset int
	payloadOffset   int
}

// findStartCodes locates every Annex-B start code in buf, in order.
func findStartCodes(buf []byte) []startCode {
	var out []startCode
	i := 0
	for i+2 < len(buf) {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			if i > 0 && buf[i-1] == 0 {
				// 4-byte start code: back up to include the leading zero.
				out = append(out, startCode{startCodeOffset: i - 1, payloadOffset: i + 3})
			} else {
				out = append(out, startCode{startCodeOffset: i, payloadOffset: i + 3})
			}
			i += 3
			continue
		}
		i++
	}
	return out
}

// removeEmulationPrevention strips 00 00 03 -> 00 00 emulation-prevention
// sequences from a NAL unit payload.
func removeEmulationPrevention(b []byte) []byte {
	out := make([]byte, 0, len(b))
	zeroRun := 0
	for i := 0; i < len(b); i++ {
		if zeroRun >= 2 && b[i] == 0x03 {
			zeroRun = 0
			continue
		}
		if b[i] == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
		out = append(out, b[i])
	}
	return out
}

// ConvertAnnexBToAVCCInPlace rewrites an Annex-B framed buffer to AVCC
// (4-byte big-endian length prefixes) in place. buf[:length] holds the
// current Annex-B content; the converted output must fit in capacity
// bytes, or an error is returned. Each 3-byte start code grows by one
// byte, so callers reserve headroom (at least 32 bytes) beyond length.
// Returns the new length.
func ConvertAnnexBToAVCCInPlace(buf []byte, length, capacity int) (int, error) {
	if length > len(buf) || capacity > cap(buf) {
		return 0, kvserrors.NewArgumentError("nalu.convertAnnexBToAvcc", fmt.Errorf("length/capacity exceed backing buffer"))
	}
	src := buf[:length]

	starts := findStartCodes(src)
	if len(starts) == 0 {
		return 0, kvserrors.NewParseError("nalu.convertAnnexBToAvcc", fmt.Errorf("no start code found"))
	}
	if len(starts) > MaxNaluCountInFrame {
		return 0, kvserrors.NewParseError("nalu.convertAnnexBToAvcc", fmt.Errorf("too many NAL units in frame (max %d)", MaxNaluCountInFrame))
	}

	type nalu struct {
		start, end int // payload extent in the ORIGINAL buffer
	}
	nalus := make([]nalu, 0, len(starts))
	for i, s := range starts {
		end := length
		if i+1 < len(starts) {
			end = starts[i+1].startCodeOffset
		}
		if s.payloadOffset >= end {
			return 0, kvserrors.NewParseError("nalu.convertAnnexBToAvcc", fmt.Errorf("empty NAL unit"))
		}
		// 00 00 00 00 inside a NALU body is invalid; 0x000000XX for any
		// other trailing byte is acceptable.
		for j := s.payloadOffset; j+3 < end; j++ {
			if src[j] == 0 && src[j+1] == 0 && src[j+2] == 0 && src[j+3] == 0 {
				return 0, kvserrors.NewParseError("nalu.convertAnnexBToAvcc", fmt.Errorf("adjacent zero bytes invalid inside NAL unit body"))
			}
		}
		nalus = append(nalus, nalu{start: s.payloadOffset, end: end})
	}

	newLen := 0
	for _, n := range nalus {
		newLen += 4 + (n.end - n.start)
	}
	if newLen > capacity {
		return 0, kvserrors.NewArgumentError("nalu.convertAnnexBToAvcc", fmt.Errorf("converted size %d exceeds buffer capacity %d", newLen, capacity))
	}

	// Rewrite back-to-front: a 4-byte length prefix replaces each 3- or
	// 4-byte start code, so every NALU's target offset is at or after its
	// source offset, and copying the last NALU first never overwrites a
	// NALU that has not been copied yet.
	// Precompute per-NALU output offsets first (start of each NALU's AVCC slot).
	outOffsets := make([]int, len(nalus))
	off := 0
	for i, n := range nalus {
		outOffsets[i] = off
		off += 4 + (n.end - n.start)
	}
	for i := len(nalus) - 1; i >= 0; i-- {
		n := nalus[i]
		payloadLen := n.end - n.start
		dstPayloadStart := outOffsets[i] + 4
		copy(buf[dstPayloadStart:dstPayloadStart+payloadLen], src[n.start:n.end])
		binary.BigEndian.PutUint32(buf[outOffsets[i]:outOffsets[i]+4], uint32(payloadLen))
	}

	return newLen, nil
}
