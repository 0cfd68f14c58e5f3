// Package producer implements the coordinator state machine that ties
// credential exchange, the KVS control-plane REST calls, the PutMedia
// streaming session, and the stream buffer together into the one
// exported handle applications construct directly — mirroring the
// teacher's relay.Manager/Destination pair as the top-level handle.
package producer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
	"github.com/alxayo/kvs-producer/internal/iot"
	"github.com/alxayo/kvs-producer/internal/kvsapi"
	"github.com/alxayo/kvs-producer/internal/logger"
	"github.com/alxayo/kvs-producer/internal/mkv"
	"github.com/alxayo/kvs-producer/internal/nalu"
	"github.com/alxayo/kvs-producer/internal/sigv4"
	"github.com/alxayo/kvs-producer/internal/stream"
)

// idleSleep is the backoff applied by DoWork when nothing was sent this
// pass.
const idleSleep = 50 * time.Millisecond

// Coordinator is the single non-reentrant session handle applications
// construct: one producer goroutine calls AddFrame, one consumer
// goroutine calls DoWork, and a single mutex serializes the handle's own
// state transitions (the stream buffer has its own, separate mutex).
type Coordinator struct {
	mu    sync.Mutex
	opts  Options
	state State
	log   *slog.Logger

	creds      sigv4.Credentials
	restClient *kvsapi.Client
	iotEx      *iot.Exchanger

	putMediaEndpoint string
	session          *kvsapi.PutMediaSession
	buffer           *stream.Buffer

	videoTrackInfo *mkv.VideoTrackInfo
	audioTrackInfo *mkv.AudioTrackInfo
	capturedSPS    []byte
	capturedPPS    []byte

	earliestTimestampMs uint64
	ebmlHeaderSent      bool
}

// NewCoordinator validates and deep-copies opts into a fresh, unopened
// Coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.StreamName == "" {
		return nil, kvserrors.NewArgumentError("producer.NewCoordinator", fmt.Errorf("stream name required"))
	}
	resolved := opts.withDefaults()
	return &Coordinator{
		opts:           resolved,
		state:          StateIdle,
		log:            logger.WithStream(logger.Logger(), resolved.StreamName),
		videoTrackInfo: resolved.VideoTrackInfo,
		audioTrackInfo: resolved.AudioTrackInfo,
	}, nil
}

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open runs the session bring-up sequence: credential exchange (if IoT
// is configured), control-plane resolution of the PutMedia endpoint, and
// the PutMediaStart handshake. If the video track info is already known
// it also builds the stream buffer (with the audio track, if configured).
func (c *Coordinator) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.resolveCredentials(); err != nil {
		return err
	}
	c.state = StateCredentialsReady

	if c.restClient == nil {
		c.restClient = kvsapi.NewClient(kvsapi.ServiceParameter{
			Credentials: c.creds,
			Region:      c.opts.Region,
			Host:        "kinesisvideo." + c.opts.Region + ".amazonaws.com",
			ConnTimeout: c.opts.NetIoConnTimeout,
			RecvTimeout: c.opts.NetIoRecvTimeout,
			SendTimeout: c.opts.NetIoSendTimeout,
		})
	}

	if c.putMediaEndpoint == "" {
		if err := c.resolveEndpoint(); err != nil {
			return err
		}
	}
	c.state = StateEndpointKnown

	status, session, err := kvsapi.PutMediaStart(kvsapi.ServiceParameter{
		Credentials: c.creds,
		Region:      c.opts.Region,
		Host:        c.putMediaEndpoint,
		ConnTimeout: c.opts.NetIoConnTimeout,
		RecvTimeout: c.opts.NetIoRecvTimeout,
		SendTimeout: c.opts.NetIoSendTimeout,
	}, kvsapi.PutMediaParameter{
		StreamName:               c.opts.StreamName,
		TimecodeType:             kvsapi.TimecodeAbsolute,
		ProducerStartTimestampMs: uint64(time.Now().UnixMilli()),
	})
	if err != nil {
		return kvserrors.NewRestfulError("producer.Open", status, err)
	}
	c.session = session
	c.state = StateConnected

	if c.videoTrackInfo != nil {
		if err := c.buildStreamBufferLocked(); err != nil {
			return err
		}
	}

	c.log.Info("session opened", "endpoint", c.putMediaEndpoint)
	return nil
}

func (c *Coordinator) resolveCredentials() error {
	if c.opts.Iot.Enabled() {
		if c.iotEx == nil {
			ex, err := iot.NewExchanger(iot.Parameter{
				CredentialHost: c.opts.Iot.CredentialHost,
				RoleAlias:      c.opts.Iot.RoleAlias,
				ThingName:      c.opts.Iot.ThingName,
				Identity: iot.X509Identity{
					RootCA:            c.opts.Iot.X509RootCa,
					ClientCertificate: c.opts.Iot.X509Certificate,
					ClientPrivateKey:  c.opts.Iot.X509PrivateKey,
				},
			})
			if err != nil {
				return err
			}
			c.iotEx = ex
		}
		creds, err := c.iotEx.ExchangeCredentials()
		if err != nil {
			return err
		}
		c.creds = creds
		return nil
	}

	c.creds = sigv4.Credentials{
		AccessKeyID:     c.opts.AccessKeyID,
		SecretAccessKey: c.opts.SecretAccessKey,
		Token:           c.opts.SessionToken,
	}
	if c.creds.AccessKeyID == "" {
		return kvserrors.NewStateError("producer.resolveCredentials", fmt.Errorf("no access key available"))
	}
	return nil
}

func (c *Coordinator) resolveEndpoint() error {
	status, err := c.restClient.DescribeStream(c.opts.StreamName)
	if err != nil || status != 200 {
		if _, cerr := c.restClient.CreateStream(c.opts.StreamName, c.opts.DataRetentionInHours); cerr != nil {
			return cerr
		}
	}
	endpoint, status, err := c.restClient.GetDataEndpoint(c.opts.StreamName)
	if err != nil {
		return err
	}
	if status != 200 {
		return kvserrors.NewRestfulError("producer.resolveEndpoint", status, nil)
	}
	c.putMediaEndpoint = stripScheme(endpoint)
	return nil
}

func stripScheme(host string) string {
	const prefix = "https://"
	if len(host) > len(prefix) && host[:len(prefix)] == prefix {
		return host[len(prefix):]
	}
	return host
}

// buildStreamBufferLocked constructs the stream buffer once the video
// track (and optional audio track) is known. Caller holds c.mu.
func (c *Coordinator) buildStreamBufferLocked() error {
	buf, err := stream.New(mkv.NewSegmentUID(), *c.videoTrackInfo, c.audioTrackInfo)
	if err != nil {
		return err
	}
	c.buffer = buf
	return nil
}

// AddFrame inserts one frame, performing Annex-B→AVCC conversion and SPS/
// PPS capture (to synthesize the video track info) as needed.
func (c *Coordinator) AddFrame(data []byte, length, capacity int, absoluteTimestampMs uint64, track stream.TrackType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if absoluteTimestampMs < c.earliestTimestampMs {
		return kvserrors.NewStateError("producer.AddFrame", fmt.Errorf("frame timestamp %d precedes session floor %d", absoluteTimestampMs, c.earliestTimestampMs))
	}

	payload := data[:length]
	if track == stream.TrackVideo && nalu.IsAnnexB(payload) {
		newLen, err := nalu.ConvertAnnexBToAVCCInPlace(data, length, capacity)
		if err != nil {
			return err
		}
		payload = data[:newLen]
	}

	if c.videoTrackInfo == nil && track == stream.TrackVideo {
		c.captureTrackInfoLocked(payload)
	}
	if c.buffer == nil {
		return kvserrors.NewStateError("producer.AddFrame", fmt.Errorf("stream not ready: video track info not yet available"))
	}

	isKeyFrame := false
	if track == stream.TrackVideo {
		if _, err := nalu.FindNaluInAVCC(payload, nalu.NALTypeIFrame); err == nil {
			isKeyFrame = true
		}
	}

	if c.opts.StreamPolicy == StreamPolicyRingBuffer {
		evicted := c.buffer.EvictRingBuffer(c.opts.StreamRbMemlimit)
		if evicted > 0 {
			c.log.Debug("ring-buffer eviction", "evicted_frames", evicted, "limit", humanize.Bytes(c.opts.StreamRbMemlimit))
		}
	}

	c.buffer.AddFrame(track, payload, absoluteTimestampMs, isKeyFrame, c.opts.OnTerminate, c.opts.OnToBeSent)
	return nil
}

// captureTrackInfoLocked collects SPS/PPS from a video frame until both
// are available, then synthesizes the video track info and (if no audio
// is configured, or it already is) builds the stream buffer. Caller
// holds c.mu.
func (c *Coordinator) captureTrackInfoLocked(avcc []byte) {
	if c.capturedSPS == nil {
		if sps, err := nalu.FindNaluInAVCC(avcc, nalu.NALTypeSPS); err == nil {
			c.capturedSPS = append([]byte(nil), sps...)
		}
	}
	if c.capturedPPS == nil {
		if pps, err := nalu.FindNaluInAVCC(avcc, nalu.NALTypePPS); err == nil {
			c.capturedPPS = append([]byte(nil), pps...)
		}
	}
	if c.capturedSPS == nil || c.capturedPPS == nil {
		return
	}

	resolution, err := nalu.H264ResolutionFromSPS(c.capturedSPS)
	if err != nil {
		c.log.Warn("failed to derive resolution from captured SPS", "error", err)
		return
	}
	codecPrivate, err := mkv.GenerateH264CodecPrivateFromSpsPps(c.capturedSPS, c.capturedPPS)
	if err != nil {
		c.log.Warn("failed to build h264 codec private from captured SPS/PPS", "error", err)
		return
	}
	c.videoTrackInfo = &mkv.VideoTrackInfo{
		TrackName:    "video",
		CodecName:    "V_MPEG4/ISO/AVC",
		Width:        resolution.Width,
		Height:       resolution.Height,
		CodecPrivate: codecPrivate,
	}
	if err := c.buildStreamBufferLocked(); err != nil {
		c.log.Warn("failed to build stream buffer after SPS/PPS capture", "error", err)
		c.videoTrackInfo = nil
	}
}

// DoWork performs one non-blocking pass: emits the EBML+Segment header
// exactly once (after the buffer's first cluster-kind head appears),
// drains pending fragment ACKs, and sends at most one frame.
func (c *Coordinator) DoWork() error {
	return c.doWork(false)
}

// DoWorkDrain loops DoWork's send step until nothing remains on the
// video track, used during a graceful Close to flush the buffer.
func (c *Coordinator) DoWorkDrain() error {
	for {
		c.mu.Lock()
		hasVideo := c.buffer != nil && c.buffer.AvailableOnTrack(stream.TrackVideo)
		c.mu.Unlock()
		if !hasVideo {
			return nil
		}
		if err := c.doWork(true); err != nil {
			return err
		}
	}
}

func (c *Coordinator) doWork(draining bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.buffer == nil {
		return kvserrors.NewStateError("producer.DoWork", fmt.Errorf("session not connected"))
	}

	sentSomething := false

	if !c.ebmlHeaderSent {
		for {
			f, ok := c.buffer.Peek()
			if !ok || f.ClusterKind == stream.ClusterKindCluster {
				break
			}
			c.buffer.Pop()
			if f.OnTerminate != nil {
				f.OnTerminate(f.Payload, f.AbsoluteTimestampMs, f.Track)
			}
		}
		if _, ok := c.buffer.Peek(); ok {
			header := c.buffer.StreamHeader()
			if err := c.session.UpdateRaw(header); err != nil {
				return err
			}
			if c.opts.OnMkvSent != nil {
				c.opts.OnMkvSent(header)
			}
			c.ebmlHeaderSent = true
			c.state = StateHeaderEmitted
		}
	}

	if err := c.session.DoWork(); err != nil {
		return err
	}
	for {
		ack, ok := c.session.ReadFragmentAck()
		if !ok {
			break
		}
		if ackErr := ack.AsError("producer.DoWork"); ackErr != nil {
			c.log.Error("fragment ack error", "error", ackErr)
			if kvserrors.IsFatal(ackErr) {
				return ackErr
			}
		}
	}

	// Video availability gates sending on every pass; a graceful drain
	// additionally waits for the matching audio frame (if an audio track
	// is configured) so a flush doesn't strand audio data.
	if f, ok := c.buffer.Peek(); ok {
		ready := c.buffer.AvailableOnTrack(stream.TrackVideo)
		if ready && draining && f.Track == stream.TrackVideo && c.audioTrackInfo != nil {
			ready = c.buffer.AvailableOnTrack(stream.TrackAudio)
		}
		if ready {
			frame, ok := c.buffer.Pop()
			if ok {
				send := true
				if frame.OnToBeSent != nil {
					if err := frame.OnToBeSent(frame.Payload, frame.AbsoluteTimestampMs, frame.Track); err != nil {
						send = false
					}
				}
				if send {
					if err := c.session.Update(frame.MkvHeader, frame.Payload); err != nil {
						return err
					}
					if c.opts.OnMkvSent != nil {
						c.opts.OnMkvSent(frame.MkvHeader)
						c.opts.OnMkvSent(frame.Payload)
					}
					sentSomething = true
					c.state = StateStreaming
				}
				if frame.OnTerminate != nil {
					frame.OnTerminate(frame.Payload, frame.AbsoluteTimestampMs, frame.Track)
				}
				c.earliestTimestampMs = frame.AbsoluteTimestampMs
			}
		}
	}

	if !sentSomething {
		time.Sleep(idleSleep)
	}
	return nil
}

// Close finishes the PutMedia session and resets header-emission state
// so the next Open re-emits the EBML+Segment header.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosing
	var err error
	if c.session != nil {
		err = c.session.Finish()
		c.session = nil
	}
	if c.iotEx != nil {
		c.iotEx.Stop()
	}
	c.ebmlHeaderSent = false
	c.state = StateIdle
	return err
}
