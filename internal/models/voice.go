package models

import "encoding/json"

// VoiceState is a user's voice presence as carried in the READY payload and VOICE_STATE_UPDATE dispatch. Removed is
// set on the final update broadcast when the user leaves or is removed from voice.
type VoiceState struct {
	UserID     string `json:"user_id"`
	ChannelID  string `json:"channel_id"`
	SelfMute   bool   `json:"self_mute"`
	SelfDeaf   bool   `json:"self_deaf"`
	ServerMute bool   `json:"server_mute"`
	ServerDeaf bool   `json:"server_deaf"`
	Removed    bool   `json:"_removed,omitempty"`
}

// VoiceCommandData is the payload of a client-sent opcode Voice frame. Cmd selects the operation; the remaining
// fields are per-command and ignored where not applicable.
type VoiceCommandData struct {
	Cmd string `json:"cmd"`

	// join
	ChannelID       string          `json:"channel_id,omitempty"`
	RTPCapabilities json.RawMessage `json:"rtp_capabilities,omitempty"`

	// connect_transport / produce
	TransportID    string          `json:"transport_id,omitempty"`
	DTLSParameters json.RawMessage `json:"dtls_parameters,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	RTPParameters  json.RawMessage `json:"rtp_parameters,omitempty"`
	Source         string          `json:"source,omitempty"`

	// produce_stop / producer_pause / producer_resume
	ProducerID string `json:"producer_id,omitempty"`

	// consumer_resume / set_quality
	ConsumerID    string `json:"consumer_id,omitempty"`
	SpatialLayer  *int   `json:"spatial_layer,omitempty"`
	TemporalLayer *int   `json:"temporal_layer,omitempty"`

	// mute
	SelfMute *bool `json:"self_mute,omitempty"`
	SelfDeaf *bool `json:"self_deaf,omitempty"`
}

// Voice command names accepted in VoiceCommandData.Cmd.
const (
	VoiceCmdJoin           = "join"
	VoiceCmdLeave          = "leave"
	VoiceCmdConnect        = "connect_transport"
	VoiceCmdProduce        = "produce"
	VoiceCmdProduceStop    = "produce_stop"
	VoiceCmdProducerPause  = "producer_pause"
	VoiceCmdProducerResume = "producer_resume"
	VoiceCmdConsumerResume = "consumer_resume"
	VoiceCmdMute           = "mute"
	VoiceCmdSetQuality     = "set_quality"
)

// VoiceRouterCapabilitiesData is the VOICE_ROUTER_CAPABILITIES dispatch payload, sent first in reply to a join.
type VoiceRouterCapabilitiesData struct {
	ChannelID       string          `json:"channel_id"`
	RTPCapabilities json.RawMessage `json:"rtp_capabilities"`
}

// VoiceTransport is one transport's client-facing description inside VOICE_TRANSPORT_CREATED.
type VoiceTransport struct {
	ID         string          `json:"id"`
	Parameters json.RawMessage `json:"parameters"`
}

// VoiceTransportCreatedData is the VOICE_TRANSPORT_CREATED dispatch payload carrying both directions.
type VoiceTransportCreatedData struct {
	Send VoiceTransport `json:"send"`
	Recv VoiceTransport `json:"recv"`
}

// VoiceNewConsumerData is the VOICE_NEW_CONSUMER dispatch payload. The consumer starts paused; the client resumes
// it with a consumer_resume command once its pipeline is ready.
type VoiceNewConsumerData struct {
	ConsumerID    string          `json:"consumer_id"`
	ProducerID    string          `json:"producer_id"`
	UserID        string          `json:"user_id"`
	Kind          string          `json:"kind"`
	Source        string          `json:"source"`
	RTPParameters json.RawMessage `json:"rtp_parameters"`
}

// VoiceProducedData is the VOICE_PRODUCED dispatch payload acknowledging a produce command.
type VoiceProducedData struct {
	ProducerID string `json:"producer_id"`
}

// VoiceProducerClosedData is the VOICE_PRODUCER_CLOSED dispatch payload fanned out to channel participants.
type VoiceProducerClosedData struct {
	ProducerID string `json:"producer_id"`
	UserID     string `json:"user_id"`
	ChannelID  string `json:"channel_id"`
}

// VoiceErrorData is the VOICE_ERROR dispatch payload, carrying the 8xxx voice taxonomy code.
type VoiceErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
