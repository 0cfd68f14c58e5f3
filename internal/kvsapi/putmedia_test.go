package kvsapi

import (
	"io"
	"net"
	"testing"
)

func newPipeSession(t *testing.T) (*PutMediaSession, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	return &PutMediaSession{conn: client}, server
}

func TestUpdateCoalescesHeaderAndPayloadIntoOneChunk(t *testing.T) {
	s, server := newPipeSession(t)
	defer server.Close()

	header := []byte{0xA3, 0x01, 0x02}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	done := make(chan error, 1)
	go func() { done <- s.Update(header, payload) }()

	want := "7\r\n" + string(header) + string(payload) + "\r\n"
	got := make([]byte, len(want))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("read from pipe: %v", err)
	}
	if string(got) != want {
		t.Fatalf("unexpected chunk bytes: got %q want %q", got, want)
	}
	if err := <-done; err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateRawWritesSingleChunk(t *testing.T) {
	s, server := newPipeSession(t)
	defer server.Close()

	buf := []byte("EBMLHEADERBYTES")
	done := make(chan error, 1)
	go func() { done <- s.UpdateRaw(buf) }()

	want := "f\r\n" + string(buf) + "\r\n"
	got := make([]byte, len(want))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("read from pipe: %v", err)
	}
	if string(got) != want {
		t.Fatalf("unexpected chunk bytes: got %q want %q", got, want)
	}
	if err := <-done; err != nil {
		t.Fatalf("UpdateRaw: %v", err)
	}
}
