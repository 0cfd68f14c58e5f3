package nalu

import (
	"bytes"
	"testing"
)

func TestIsAnnexB(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want bool
	}{
		{"3-byte start code", []byte{0x00, 0x00, 0x01, 0x65}, true},
		{"4-byte start code", []byte{0x00, 0x00, 0x00, 0x01, 0x65}, true},
		{"avcc length prefix", []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0xFF}, false},
		{"too short", []byte{0x00, 0x00}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsAnnexB(c.in); got != c.want {
				t.Fatalf("IsAnnexB(%x) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestConvertAnnexBToAVCCInPlace4ByteStartCode(t *testing.T) {
	buf := make([]byte, 6, 6)
	copy(buf, []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xFF})
	n, err := ConvertAnnexBToAVCCInPlace(buf, 6, 6)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected output length 6, got %d", n)
	}
	want := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0xFF}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("got %x, want %x", buf[:n], want)
	}
}

func TestConvertAnnexBToAVCCInPlace3ByteStartCode(t *testing.T) {
	buf := make([]byte, 6, 6)
	copy(buf, []byte{0x00, 0x00, 0x01, 0x65, 0xFF, 0x00})
	n, err := ConvertAnnexBToAVCCInPlace(buf, 5, 6)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected output length 6, got %d", n)
	}
	if !bytes.HasPrefix(buf[:n], []byte{0x00, 0x00, 0x00, 0x02}) {
		t.Fatalf("expected AVCC length prefix 00 00 00 02, got %x", buf[:4])
	}
}

func TestConvertAnnexBToAVCCRejectsMissingStartCode(t *testing.T) {
	buf := make([]byte, 32)
	copy(buf, []byte{0x01, 0x02, 0x03})
	if _, err := ConvertAnnexBToAVCCInPlace(buf, 3, 32); err == nil {
		t.Fatalf("expected error for missing start code")
	}
}

func TestConvertAnnexBToAVCCAllowsThreeZeroBytesFollowedByNonZero(t *testing.T) {
	buf := make([]byte, 32)
	copy(buf, []byte{0x00, 0x00, 0x01, 0x65, 0x00, 0x00, 0x00, 0xFF})
	if _, err := ConvertAnnexBToAVCCInPlace(buf, 8, 32); err != nil {
		t.Fatalf("0x000000FF inside a NAL unit body must be accepted: %v", err)
	}
}

func TestConvertAnnexBToAVCCRejectsFourZeroBytes(t *testing.T) {
	buf := make([]byte, 32)
	copy(buf, []byte{0x00, 0x00, 0x01, 0x65, 0x00, 0x00, 0x00, 0x00, 0xFF})
	if _, err := ConvertAnnexBToAVCCInPlace(buf, 9, 32); err == nil {
		t.Fatalf("expected error for 00 00 00 00 inside NAL unit body")
	}
}

func TestFindNaluInAVCC(t *testing.T) {
	// one AVCC record: length=2, payload 0x67 0x42 (SPS, type 7)
	buf := []byte{0x00, 0x00, 0x00, 0x02, 0x67, 0x42}
	payload, err := FindNaluInAVCC(buf, 7)
	if err != nil {
		t.Fatalf("FindNaluInAVCC: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x67, 0x42}) {
		t.Fatalf("unexpected payload: %x", payload)
	}
	if _, err := FindNaluInAVCC(buf, 8); err == nil {
		t.Fatalf("expected not-found error for absent type")
	}
}

func TestFindNaluInAVCCCorruptLength(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0xFF, 0x67}
	if _, err := FindNaluInAVCC(buf, 7); err == nil {
		t.Fatalf("expected error for avcc length running past buffer")
	}
}

func TestNaluTypeOfFirstAnnexB(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42}
	typ, err := NaluTypeOfFirst(buf)
	if err != nil {
		t.Fatalf("NaluTypeOfFirst: %v", err)
	}
	if typ != 7 {
		t.Fatalf("expected type 7, got %d", typ)
	}
}

func TestNaluTypeOfFirstAVCC(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0xFF}
	typ, err := NaluTypeOfFirst(buf)
	if err != nil {
		t.Fatalf("NaluTypeOfFirst: %v", err)
	}
	if typ != 5 {
		t.Fatalf("expected type 5, got %d", typ)
	}
}
