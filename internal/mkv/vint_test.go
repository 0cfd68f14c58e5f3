package mkv

import "testing"

func TestElementIDLen(t *testing.T) {
	cases := []struct {
		in   byte
		want int
	}{
		{0x80, 1}, // e.g. TrackNumber-ish single-byte
		{0x40, 2}, // e.g. high half of a 2-byte id
		{0x20, 3},
		{0x10, 4},
		{0x1F, 4},
	}
	for _, c := range cases {
		got, err := ElementIDLen(c.in)
		if err != nil {
			t.Fatalf("ElementIDLen(%#x): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ElementIDLen(%#x) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestElementIDLenInvalid(t *testing.T) {
	if _, err := ElementIDLen(0x00); err == nil {
		t.Fatalf("expected error for byte with no leading 1 bit")
	}
}

func TestReadElementIDCluster(t *testing.T) {
	// Cluster ID is 1F 43 B6 75 (4-byte id).
	id, n, err := ReadElementID([]byte{0x1F, 0x43, 0xB6, 0x75, 0xFF})
	if err != nil {
		t.Fatalf("ReadElementID: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4-byte id, got %d", n)
	}
	if id != 0x1F43B675 {
		t.Fatalf("expected cluster id 0x1F43B675, got %#x", id)
	}
}

func TestReadElementSizeUnknown(t *testing.T) {
	size, n, err := ReadElementSize([]byte{0xFF})
	if err != nil {
		t.Fatalf("ReadElementSize: %v", err)
	}
	if n != 1 || size != UnknownSize {
		t.Fatalf("expected unknown-size sentinel, got size=%d n=%d", size, n)
	}
}

func TestReadElementSizeKnown(t *testing.T) {
	// 1-byte size VINT: 0x88 = marker(0x80) | 0x08 -> value 8.
	size, n, err := ReadElementSize([]byte{0x88})
	if err != nil {
		t.Fatalf("ReadElementSize: %v", err)
	}
	if n != 1 || size != 8 {
		t.Fatalf("expected size=8 n=1, got size=%d n=%d", size, n)
	}
}
