package kvsapi

import (
	"net"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

// AckEventType is the EventType carried by a fragment ACK.
type AckEventType string

const (
	AckBuffering AckEventType = "BUFFERING"
	AckReceived  AckEventType = "RECEIVED"
	AckPersisted AckEventType = "PERSISTED"
	AckError     AckEventType = "ERROR"
	AckIdle      AckEventType = "IDLE"
)

// FragmentAck is one decoded fragment-acknowledgment record.
type FragmentAck struct {
	EventType        AckEventType `json:"EventType"`
	FragmentTimecode uint64       `json:"FragmentTimecode"`
	ErrorID          int          `json:"ErrorId,omitempty"`
}

// pollReadDeadline is the deadline used for the non-blocking DoWork poll:
// long enough to catch a chunk already sitting in the socket buffer,
// short enough that DoWork never blocks the caller's pacing loop.
const pollReadDeadline = 2 * time.Millisecond

// DoWork performs one non-blocking drain: while readable bytes are
// available it reads into the session's growing buffer, then parses out
// zero or more complete fragment-ACK chunks, queuing them for
// ReadFragmentAck.
func (s *PutMediaSession) DoWork() error {
	buf := make([]byte, 4096)
	for {
		s.conn.SetReadDeadline(time.Now().Add(pollReadDeadline))
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.readBuf = append(s.readBuf, buf[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return kvserrors.NewNetworkError("kvsapi.PutMediaSession.DoWork", err)
		}
		if n == 0 {
			break
		}
	}
	s.drainCompleteChunks()
	return nil
}

// drainCompleteChunks extracts every complete "<hex-len>\r\n<json>\r\n"
// record currently sitting in readBuf, leaving a trailing partial record
// (if any) for the next DoWork call.
func (s *PutMediaSession) drainCompleteChunks() {
	for {
		sizeEnd := indexCRLF(s.readBuf, 0)
		if sizeEnd < 0 {
			return
		}
		sizeLine := string(s.readBuf[:sizeEnd])
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			// Not a chunk-size line we recognise; drop it and resync.
			s.readBuf = s.readBuf[sizeEnd+2:]
			continue
		}

		bodyStart := sizeEnd + 2
		bodyEnd := bodyStart + int(size)
		trailerEnd := bodyEnd + 2
		if trailerEnd > len(s.readBuf) {
			return // incomplete record, wait for more bytes
		}

		body := s.readBuf[bodyStart:bodyEnd]
		if ack, err := parseFragmentAck(body); err == nil {
			s.pendingAcks = append(s.pendingAcks, ack)
		}
		s.readBuf = s.readBuf[trailerEnd:]
	}
}

func parseFragmentAck(body []byte) (FragmentAck, error) {
	var ack FragmentAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return FragmentAck{}, kvserrors.NewParseError("kvsapi.parseFragmentAck", err)
	}
	return ack, nil
}

func indexCRLF(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// ReadFragmentAck pops one queued fragment ACK, if any.
func (s *PutMediaSession) ReadFragmentAck() (FragmentAck, bool) {
	if len(s.pendingAcks) == 0 {
		return FragmentAck{}, false
	}
	ack := s.pendingAcks[0]
	s.pendingAcks = s.pendingAcks[1:]
	return ack, true
}

// fragmentErrorNames maps an ERROR ack's ErrorId to a human-readable
// name for the KindPutMedia error taxonomy.
var fragmentErrorNames = map[int]string{
	4000: "StreamReadError",
	4001: "MaxFragmentSizeReached",
	4002: "MaxFragmentDurationReached",
	4003: "MaxConnectionDurationReached",
	4004: "TimecodeLessThanPrev",
	4005: "TooManyTracks",
	4006: "InvalidMkvData",
	4007: "InvalidProducerTimestamp",
	4008: "StreamNotActive",
	4009: "FragmentMetadataLimitReached",
	4010: "TrackNumberMismatch",
	4011: "FramesMissingForTrack",
	5000: "InternalError",
	5001: "ArchivalError",
}

// FragmentErrorName returns a human-readable name for a fragment ACK
// ErrorId, or "KmsError" for the 4500-4506 KMS-related family, or "Unknown".
func FragmentErrorName(errorID int) string {
	if name, ok := fragmentErrorNames[errorID]; ok {
		return name
	}
	if errorID >= 4500 && errorID <= 4506 {
		return "KmsError"
	}
	return "Unknown"
}

// AsError converts an ERROR-event ack into a *kvserrors.Error of kind
// KindPutMedia carrying the fragment ErrorId, or nil if ack is not an
// error event.
func (a FragmentAck) AsError(op string) error {
	if a.EventType != AckError {
		return nil
	}
	return kvserrors.NewPutMediaError(op, a.ErrorID, errFragmentAck{a.ErrorID})
}

type errFragmentAck struct{ id int }

func (e errFragmentAck) Error() string { return "fragment ack error: " + FragmentErrorName(e.id) }
