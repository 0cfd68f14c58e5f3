package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/alxayo/kvs-producer/internal/mkv"
)

func buildClusterBytes(absoluteTimestampMs uint64) []byte {
	return mkv.BuildClusterHeader(absoluteTimestampMs)
}

func TestRetimeClustersShiftsTimestampForward(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}) // unrelated leading bytes
	buf.Write(buildClusterBytes(1000))
	buf.Write([]byte{0x01, 0x02, 0x03}) // simulated SimpleBlock payload

	out, n, err := retimeClusters(buf.Bytes(), 500)
	if err != nil {
		t.Fatalf("retimeClusters: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cluster rewritten, got %d", n)
	}

	offset := 4 + 7 // leading bytes + ClusterID(4)+size(1)+TimestampID(1)+TimestampSize(1)
	got := binary.BigEndian.Uint64(out[offset : offset+8])
	if got != 1500 {
		t.Fatalf("timestamp = %d, want 1500", got)
	}
}

func TestRetimeClustersClampsNegativeResultToZero(t *testing.T) {
	out, n, err := retimeClusters(buildClusterBytes(100), -1000)
	if err != nil {
		t.Fatalf("retimeClusters: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cluster rewritten, got %d", n)
	}
	got := binary.BigEndian.Uint64(out[7:15])
	if got != 0 {
		t.Fatalf("timestamp = %d, want 0 (clamped)", got)
	}
}

func TestRetimeClustersRewritesMultipleClusters(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildClusterBytes(0))
	buf.Write([]byte{0x01, 0x02})
	buf.Write(buildClusterBytes(2000))

	_, n, err := retimeClusters(buf.Bytes(), 10)
	if err != nil {
		t.Fatalf("retimeClusters: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 clusters rewritten, got %d", n)
	}
}

func TestRetimeClustersErrorsWhenNoClusterFound(t *testing.T) {
	if _, _, err := retimeClusters([]byte{0x00, 0x01, 0x02}, 10); err == nil {
		t.Fatalf("expected error when no cluster timestamps are present")
	}
}
