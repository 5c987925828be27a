// Package voice implements the SFU control plane described in spec §4.5: per-channel routers, per-user send/receive
// transports, producers, and consumers, glued into the gateway session protocol. The low-level media plane (RTP/DTLS
// packet handling) is out of scope and lives behind the MediaEngine interface; this package only owns the signaling
// state machine and its indices.
package voice

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Kind distinguishes audio from video tracks, mirroring the two track kinds a WebRTC transport carries.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Source distinguishes a camera/microphone producer from a screen-share producer, carried through to
// voice.new_consumer so clients can render them differently.
type Source string

const (
	SourceMic    Source = "mic"
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// Sentinel errors, surfaced to clients via the 8000-8003 taxonomy spec's error envelope section names for voice.
var (
	ErrNotVoiceChannel     = errors.New("channel is not a voice channel")
	ErrChannelFull         = errors.New("voice channel is full")
	ErrNoConnectPermission = errors.New("missing voice connect permission")
	ErrTransportNotFound   = errors.New("transport not found")
	ErrProducerNotFound    = errors.New("producer not found")
	ErrConsumerNotFound    = errors.New("consumer not found")
	ErrNotInChannel        = errors.New("user is not in a voice channel")
	ErrRouterUnavailable   = errors.New("voice router unavailable")
)

// TaxonomyCode maps a voice sentinel error to spec's 8000-8003 error code range.
func TaxonomyCode(err error) int {
	switch {
	case errors.Is(err, ErrNotVoiceChannel):
		return 8000
	case errors.Is(err, ErrChannelFull):
		return 8001
	case errors.Is(err, ErrNoConnectPermission):
		return 8002
	default:
		return 8003
	}
}

// Router is the per-channel SFU routing object. At most one exists per voice channel at a time: created lazily on
// first join, destroyed when the last participant leaves.
type Router struct {
	ChannelID    uuid.UUID
	EngineID     string // opaque handle into the MediaEngine
	WorkerID     int    // which media worker this router is assigned to
	Capabilities json.RawMessage
}

// Transport is one WebRTC transport (send or recv direction) belonging to a single user on a single channel's router.
type Transport struct {
	ID        string
	ChannelID uuid.UUID
	UserID    uuid.UUID
	Direction TransportDirection
	EngineID  string
}

// TransportDirection distinguishes a user's outbound (send) transport from their inbound (recv) transport.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// Producer is a media track a user is sending into the router via their send transport.
type Producer struct {
	ID          string
	TransportID string
	ChannelID   uuid.UUID
	UserID      uuid.UUID
	Kind        Kind
	Source      Source
	Paused      bool
	EngineID    string
}

// Consumer is a media track a user is receiving from the router, sourced from another user's producer, delivered
// over the consuming user's recv transport.
type Consumer struct {
	ID          string
	TransportID string
	ProducerID  string
	ChannelID   uuid.UUID
	UserID      uuid.UUID
	Kind        Kind
	Paused      bool
	EngineID    string
}

// State is a user's current voice presence: which channel they're in and their mute/deafen flags. Exposed in the
// READY snapshot (spec §4.1) and broadcast as voice.state_update / VOICE_STATE_UPDATE on every change.
type State struct {
	UserID     uuid.UUID
	ChannelID  uuid.UUID
	SelfMute   bool
	SelfDeaf   bool
	ServerMute bool
	ServerDeaf bool
}

// MediaEngine is the seam spec §1 calls out as external: the low-level SFU media plane (RTP/DTLS transport,
// ICE negotiation, RTP forwarding). This package drives it through signaling calls and never touches packets
// directly. A production deployment wires in a real engine (e.g. a pion/mediasoup-worker binding); the engine
// used here is an in-process stub good enough to exercise the full control-plane state machine.
type MediaEngine interface {
	// CreateRouter allocates a new router on the given worker and returns its capabilities, to be forwarded verbatim
	// to joining clients as voice.router_capabilities.
	CreateRouter(ctx context.Context, workerID int) (engineID string, rtpCapabilities json.RawMessage, err error)
	// CloseRouter releases a router's media-plane resources.
	CloseRouter(ctx context.Context, engineID string)

	// CreateWebRtcTransport allocates a transport on the given router and returns its own connection parameters
	// (ICE candidates, DTLS fingerprint) to forward to the client as part of voice.transport_created.
	CreateWebRtcTransport(ctx context.Context, routerEngineID string) (engineID string, params json.RawMessage, err error)
	// ConnectTransport finalises DTLS negotiation for a transport using the client-supplied parameters.
	ConnectTransport(ctx context.Context, engineID string, dtlsParameters json.RawMessage) error
	// CloseTransport releases a transport's media-plane resources.
	CloseTransport(ctx context.Context, engineID string)

	// Produce starts accepting media from the client on the given send transport.
	Produce(ctx context.Context, transportEngineID string, kind Kind, rtpParameters json.RawMessage) (engineID string, err error)
	// PauseProducer / ResumeProducer toggle whether a producer's media is forwarded to its consumers.
	PauseProducer(ctx context.Context, engineID string) error
	ResumeProducer(ctx context.Context, engineID string) error
	// CloseProducer releases a producer's media-plane resources.
	CloseProducer(ctx context.Context, engineID string)

	// CanConsume reports whether the router can forward the given producer to a consumer described by
	// rtpCapabilities, per spec's "skip them silently" rule when codecs are incompatible.
	CanConsume(ctx context.Context, routerEngineID, producerEngineID string, rtpCapabilities json.RawMessage) bool
	// Consume creates a paused consumer for producerEngineID on the given recv transport.
	Consume(ctx context.Context, transportEngineID, producerEngineID string) (engineID string, rtpParameters json.RawMessage, err error)
	// ResumeConsumer unpauses a consumer once the client signals it's ready.
	ResumeConsumer(ctx context.Context, engineID string) error
	// SetConsumerLayers adjusts simulcast spatial/temporal layer preference for a consumer.
	SetConsumerLayers(ctx context.Context, engineID string, spatialLayer, temporalLayer *int) error
	// CloseConsumer releases a consumer's media-plane resources.
	CloseConsumer(ctx context.Context, engineID string)
}
