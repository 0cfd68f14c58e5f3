package producer

import (
	"time"

	"github.com/alxayo/kvs-producer/internal/mkv"
	"github.com/alxayo/kvs-producer/internal/stream"
)

// StreamPolicy selects what the coordinator does when the stream buffer
// grows past StreamRbMemlimit.
type StreamPolicy int

const (
	StreamPolicyNone StreamPolicy = iota
	StreamPolicyRingBuffer
)

// defaults mirror the options-surface defaults named for the coordinator.
const (
	DefaultDataRetentionInHours = 2
	DefaultStreamRbMemlimit     = 1 << 20 // 1 MiB
	DefaultConnTimeout          = 10 * time.Second
	DefaultStreamingIOTimeout   = time.Second
)

// IotOptions enables a per-session IoT credential exchange in place of
// static keys; leaving CredentialHost empty disables it.
type IotOptions struct {
	CredentialHost    string
	RoleAlias         string
	ThingName         string
	X509RootCa        []byte
	X509Certificate   []byte
	X509PrivateKey    []byte
}

// Enabled reports whether enough IoT identity is present to attempt a
// credential exchange.
func (o IotOptions) Enabled() bool {
	return o.CredentialHost != "" && o.RoleAlias != "" && o.ThingName != ""
}

// Options configures one Coordinator. VideoTrackInfo/AudioTrackInfo are
// deep-copied by NewCoordinator so later mutation by the caller has no
// effect on a running session.
type Options struct {
	StreamName string
	Region     string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	Iot IotOptions

	DataRetentionInHours uint32

	VideoTrackInfo *mkv.VideoTrackInfo
	AudioTrackInfo *mkv.AudioTrackInfo

	StreamPolicy     StreamPolicy
	StreamRbMemlimit uint64

	NetIoConnTimeout time.Duration
	NetIoRecvTimeout time.Duration
	NetIoSendTimeout time.Duration

	OnTerminate stream.TerminateFunc
	OnToBeSent  stream.OnToBeSentFunc
	// OnMkvSent mirrors every successful PutMedia write (header or frame)
	// to the given sink, e.g. for recording the exact byte stream locally.
	OnMkvSent func(bytes []byte)
}

// withDefaults returns a copy of o with every zero-valued tunable
// replaced by its documented default. The caller's Options value itself
// is never mutated — no pointer aliasing back to the caller's struct is
// possible since every defaulted field is a plain value, not a pointer.
func (o Options) withDefaults() Options {
	if o.DataRetentionInHours == 0 {
		o.DataRetentionInHours = DefaultDataRetentionInHours
	}
	if o.StreamRbMemlimit == 0 {
		o.StreamRbMemlimit = DefaultStreamRbMemlimit
	}
	if o.NetIoConnTimeout == 0 {
		o.NetIoConnTimeout = DefaultConnTimeout
	}
	if o.NetIoRecvTimeout == 0 {
		o.NetIoRecvTimeout = DefaultStreamingIOTimeout
	}
	if o.NetIoSendTimeout == 0 {
		o.NetIoSendTimeout = DefaultStreamingIOTimeout
	}
	if o.VideoTrackInfo != nil {
		v := *o.VideoTrackInfo
		v.CodecPrivate = append([]byte(nil), v.CodecPrivate...)
		o.VideoTrackInfo = &v
	}
	if o.AudioTrackInfo != nil {
		a := *o.AudioTrackInfo
		a.CodecPrivate = append([]byte(nil), a.CodecPrivate...)
		o.AudioTrackInfo = &a
	}
	return o
}
