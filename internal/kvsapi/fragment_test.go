package kvsapi

import (
	"fmt"
	"testing"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// buildAckChunk assembles one "<hex-len>\r\n<json>\r\n" wire record for
// the given JSON body, computing the length prefix from the body itself
// (the length prefix must always match the byte count of what follows).
func buildAckChunk(json string) []byte {
	return []byte(fmt.Sprintf("%x\r\n%s\r\n", len(json), json))
}

func TestDoWorkParsesPersistedAck(t *testing.T) {
	json := `{"EventType":"PERSISTED","FragmentTimecode":1000}`
	s := &PutMediaSession{readBuf: buildAckChunk(json)}
	s.drainCompleteChunks()

	ack, ok := s.ReadFragmentAck()
	if !ok {
		t.Fatalf("expected one parsed ACK")
	}
	if ack.EventType != AckPersisted || ack.FragmentTimecode != 1000 || ack.ErrorID != 0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if _, ok := s.ReadFragmentAck(); ok {
		t.Fatalf("expected no second ACK queued")
	}
}

func TestDoWorkParsesErrorAck(t *testing.T) {
	json := `{"EventType":"ERROR","FragmentTimecode":2000,"ErrorId":4004}`
	s := &PutMediaSession{readBuf: buildAckChunk(json)}
	s.drainCompleteChunks()

	ack, ok := s.ReadFragmentAck()
	if !ok {
		t.Fatalf("expected one parsed ACK")
	}
	if ack.EventType != AckError || ack.ErrorID != 4004 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	err := ack.AsError("test")
	if err == nil {
		t.Fatalf("expected AsError to return a PutMedia error")
	}
	if id, ok := kvserrors.FragmentErrorID(err); !ok || id != 4004 {
		t.Fatalf("expected FragmentErrorID 4004, got %d ok=%v", id, ok)
	}
}

func TestDoWorkLeavesPartialChunkBuffered(t *testing.T) {
	json := `{"EventType":"RECEIVED","FragmentTimecode":500}`
	full := buildAckChunk(json)
	s := &PutMediaSession{readBuf: full[:len(full)-3]} // drop the closing brace and the trailing "\r\n"
	s.drainCompleteChunks()
	if _, ok := s.ReadFragmentAck(); ok {
		t.Fatalf("expected no ACK parsed from an incomplete record")
	}
	if len(s.readBuf) == 0 {
		t.Fatalf("expected the partial record to remain buffered")
	}
}

func TestFragmentErrorNameTaxonomy(t *testing.T) {
	cases := map[int]string{
		4004: "TimecodeLessThanPrev",
		4500: "KmsError",
		4506: "KmsError",
		5001: "ArchivalError",
		9999: "Unknown",
	}
	for id, want := range cases {
		if got := FragmentErrorName(id); got != want {
			t.Errorf("FragmentErrorName(%d) = %q, want %q", id, got, want)
		}
	}
}

