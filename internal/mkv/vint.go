package mkv

import (
	"fmt"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// ElementIDLen returns the EBML element-ID length (1..4 bytes), decoded
// from the position of the leading 1 bit in the first byte.
func ElementIDLen(firstByte byte) (int, error) {
	return vintWidth(firstByte, "mkv.elementIdLen")
}

// ElementSizeLen returns the EBML element-size VINT length (1..4 bytes),
// decoded the same way as ElementIDLen.
func ElementSizeLen(firstByte byte) (int, error) {
	return vintWidth(firstByte, "mkv.elementSizeLen")
}

func vintWidth(firstByte byte, op string) (int, error) {
	switch {
	case firstByte&0x80 != 0:
		return 1, nil
	case firstByte&0x40 != 0:
		return 2, nil
	case firstByte&0x20 != 0:
		return 3, nil
	case firstByte&0x10 != 0:
		return 4, nil
	default:
		return 0, kvserrors.NewParseError(op, fmt.Errorf("no leading 1-bit found in %#x", firstByte))
	}
}

// ReadElementID reads a big-endian EBML element ID (the marker bit is
// kept as part of the ID, per EBML convention).
func ReadElementID(buf []byte) (id uint32, length int, err error) {
	if len(buf) == 0 {
		return 0, 0, kvserrors.NewParseError("mkv.readElementId", fmt.Errorf("empty buffer"))
	}
	n, err := ElementIDLen(buf[0])
	if err != nil {
		return 0, 0, err
	}
	if len(buf) < n {
		return 0, 0, kvserrors.NewParseError("mkv.readElementId", fmt.Errorf("buffer shorter than element id"))
	}
	var v uint32
	for i := 0; i < n; i++ {
		v = (v << 8) | uint32(buf[i])
	}
	return v, n, nil
}

// UnknownSize is the sentinel returned when the size VINT is the
// all-ones "unknown size" marker (e.g. a single byte 0xFF).
const UnknownSize = ^uint64(0)

// ReadElementSize reads a big-endian EBML element size VINT, clearing
// the marker bit from the returned value. A single 0xFF byte is the
// "unknown size" sentinel and returns UnknownSize.
func ReadElementSize(buf []byte) (size uint64, length int, err error) {
	if len(buf) == 0 {
		return 0, 0, kvserrors.NewParseError("mkv.readElementSize", fmt.Errorf("empty buffer"))
	}
	n, err := ElementSizeLen(buf[0])
	if err != nil {
		return 0, 0, err
	}
	if len(buf) < n {
		return 0, 0, kvserrors.NewParseError("mkv.readElementSize", fmt.Errorf("buffer shorter than element size"))
	}
	if n == 1 && buf[0] == 0xFF {
		return UnknownSize, 1, nil
	}
	markerBit := byte(0x80 >> uint(n-1))
	v := uint64(buf[0] &^ markerBit)
	for i := 1; i < n; i++ {
		v = (v << 8) | uint64(buf[i])
	}
	return v, n, nil
}
