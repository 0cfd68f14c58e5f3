package kvsapi

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
	"github.com/alxayo/kvs-producer/internal/sigv4"
)

// TimecodeType selects whether fragment timestamps sent to PutMedia are
// absolute (wall-clock derived) or relative to stream start.
type TimecodeType int

const (
	TimecodeAbsolute TimecodeType = iota
	TimecodeRelative
)

func (t TimecodeType) String() string {
	if t == TimecodeRelative {
		return "RELATIVE"
	}
	return "ABSOLUTE"
}

// PutMediaParameter configures a PutMedia session.
type PutMediaParameter struct {
	StreamName               string
	TimecodeType             TimecodeType
	ProducerStartTimestampMs uint64
}

// PutMediaSession is the long-lived chunked-transfer connection used to
// upload MKV fragments and read back fragment ACKs. It is not routed
// through the retryable control-plane client: retrying mid-stream makes
// no sense for a hijacked chunked body.
type PutMediaSession struct {
	conn   net.Conn
	reader *bufio.Reader

	recvTimeout time.Duration
	sendTimeout time.Duration

	readBuf     []byte
	pendingAcks []FragmentAck
}

// PutMediaStart dials the data endpoint, signs and sends the PutMedia
// request headers, and blocks for the "100 Continue" / "200 OK" handshake
// before returning an open streaming session.
func PutMediaStart(svc ServiceParameter, p PutMediaParameter) (statusCode int, session *PutMediaSession, err error) {
	dialer := &net.Dialer{Timeout: svc.ConnTimeout}
	rawConn, err := dialer.Dial("tcp", svc.Host+":443")
	if err != nil {
		return 0, nil, kvserrors.NewNetworkError("kvsapi.PutMediaStart.dial", err)
	}
	conn := tls.Client(rawConn, &tls.Config{ServerName: svc.Host, MinVersion: tls.VersionTLS12})
	if err := conn.Handshake(); err != nil {
		conn.Close()
		return 0, nil, kvserrors.NewNetworkError("kvsapi.PutMediaStart.tls", err)
	}

	amzDate := time.Now().UTC().Format("20060102T150405Z")
	startTs := fmt.Sprintf("%d.%03d", p.ProducerStartTimestampMs/1000, p.ProducerStartTimestampMs%1000)

	headers := map[string]string{
		"host":                                     svc.Host,
		"connection":                                "keep-alive",
		"transfer-encoding":                         "chunked",
		"user-agent":                                "kvs-producer/1.0",
		"x-amz-date":                                amzDate,
		"x-amzn-fragment-acknowledgment-required":   "1",
		"x-amzn-fragment-timecode-type":             p.TimecodeType.String(),
		"x-amzn-producer-start-timestamp":           startTs,
		"x-amzn-stream-name":                        p.StreamName,
	}
	if svc.Credentials.Token != "" {
		headers["x-amz-security-token"] = svc.Credentials.Token
	}

	signer := sigv4.New(svc.Region, service)
	auth, err := signer.Sign(sigv4.Request{Method: "POST", URI: "/putMedia", Headers: headers}, amzDate, svc.Credentials)
	if err != nil {
		conn.Close()
		return 0, nil, err
	}

	var sb strings.Builder
	sb.WriteString("POST /putMedia HTTP/1.1\r\n")
	sb.WriteString("host: " + svc.Host + "\r\n")
	sb.WriteString("accept: */*\r\n")
	sb.WriteString("connection: keep-alive\r\n")
	sb.WriteString("content-type: application/json\r\n")
	sb.WriteString("transfer-encoding: chunked\r\n")
	sb.WriteString("user-agent: kvs-producer/1.0\r\n")
	sb.WriteString("x-amz-date: " + amzDate + "\r\n")
	if token, ok := headers["x-amz-security-token"]; ok {
		sb.WriteString("x-amz-security-token: " + token + "\r\n")
	}
	sb.WriteString("x-amzn-fragment-acknowledgment-required: 1\r\n")
	sb.WriteString("x-amzn-fragment-timecode-type: " + p.TimecodeType.String() + "\r\n")
	sb.WriteString("x-amzn-producer-start-timestamp: " + startTs + "\r\n")
	sb.WriteString("x-amzn-stream-name: " + p.StreamName + "\r\n")
	sb.WriteString("expect: 100-continue\r\n")
	sb.WriteString("authorization: " + auth + "\r\n")
	sb.WriteString("\r\n")

	if svc.SendTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(svc.SendTimeout))
	}
	if _, err := conn.Write([]byte(sb.String())); err != nil {
		conn.Close()
		return 0, nil, kvserrors.NewNetworkError("kvsapi.PutMediaStart.write", err)
	}

	reader := bufio.NewReader(conn)
	if svc.RecvTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(svc.RecvTimeout))
	}
	status, err := readStatusLines(reader)
	if err != nil {
		conn.Close()
		return 0, nil, err
	}
	if status != 200 {
		conn.Close()
		return status, nil, kvserrors.NewRestfulError("kvsapi.PutMediaStart", status, nil)
	}

	return status, &PutMediaSession{
		conn:        conn,
		reader:      reader,
		recvTimeout: svc.RecvTimeout,
		sendTimeout: svc.SendTimeout,
	}, nil
}

// readStatusLines consumes the "100 Continue" interim response (if sent)
// and the final status line, returning the final status code.
func readStatusLines(r *bufio.Reader) (int, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, kvserrors.NewNetworkError("kvsapi.readStatusLines", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "HTTP/1.1 ") && !strings.HasPrefix(line, "HTTP/1.0 ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, kvserrors.NewParseError("kvsapi.readStatusLines", fmt.Errorf("malformed status line %q", line))
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, kvserrors.NewParseError("kvsapi.readStatusLines", err)
		}
		if code == 100 {
			if err := skipHeaders(r); err != nil {
				return 0, err
			}
			continue
		}
		if err := skipHeaders(r); err != nil {
			return 0, err
		}
		return code, nil
	}
}

func skipHeaders(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return kvserrors.NewNetworkError("kvsapi.skipHeaders", err)
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}
	}
}

// Update writes one HTTP chunk coalescing an MKV header and a frame
// payload into a single chunk, so cluster/simple-block boundaries are
// preserved on the server side.
func (s *PutMediaSession) Update(mkvHeader, data []byte) error {
	total := len(mkvHeader) + len(data)
	if err := s.writeChunkSizeLine(total); err != nil {
		return err
	}
	if len(mkvHeader) > 0 {
		if err := s.writeRaw(mkvHeader); err != nil {
			return err
		}
	}
	if len(data) > 0 {
		if err := s.writeRaw(data); err != nil {
			return err
		}
	}
	return s.writeRaw([]byte("\r\n"))
}

// UpdateRaw writes buf as a single chunk (used for the EBML+Segment
// header, which carries no frame payload).
func (s *PutMediaSession) UpdateRaw(buf []byte) error {
	if err := s.writeChunkSizeLine(len(buf)); err != nil {
		return err
	}
	if err := s.writeRaw(buf); err != nil {
		return err
	}
	return s.writeRaw([]byte("\r\n"))
}

func (s *PutMediaSession) writeChunkSizeLine(n int) error {
	return s.writeRaw([]byte(strconv.FormatInt(int64(n), 16) + "\r\n"))
}

func (s *PutMediaSession) writeRaw(b []byte) error {
	if s.sendTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout))
	}
	if _, err := s.conn.Write(b); err != nil {
		return kvserrors.NewNetworkError("kvsapi.PutMediaSession.write", err)
	}
	return nil
}

// Finish closes the underlying connection.
func (s *PutMediaSession) Finish() error {
	return s.conn.Close()
}
