// Package events defines the wire-level vocabulary of the gateway protocol: the opcodes that appear on every frame
// and the dispatch event types carried by opcode 0 frames.
package events

import "encoding/json"

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	// OpcodeDispatch carries a named event in Type/Data, along with a sequence number for resume support.
	OpcodeDispatch Opcode = iota
	// OpcodeHeartbeat is sent by the client to keep the connection alive.
	OpcodeHeartbeat
	// OpcodeIdentify is sent by the client to authenticate a new session.
	OpcodeIdentify
	// OpcodeHello is sent by the server immediately after connecting, carrying the heartbeat interval.
	OpcodeHello
	// OpcodeHeartbeatACK acknowledges a client heartbeat.
	OpcodeHeartbeatACK
	// OpcodeResume is sent by the client to reattach to an existing session after a disconnect.
	OpcodeResume
	// OpcodeReconnect instructs the client to disconnect and reconnect, e.g. before a planned server restart.
	OpcodeReconnect
	// OpcodeInvalidSession tells the client that its session could not be resumed; the payload is a bool
	// indicating whether the client may retry with a fresh Identify.
	OpcodeInvalidSession
	// OpcodePresenceUpdate is sent by the client to change its own presence status.
	OpcodePresenceUpdate
	// OpcodeVoice carries a voice control command (join, leave, produce, consume, mute). Voice frames from one
	// session are processed strictly in order through a per-session queue.
	OpcodeVoice
	// OpcodeSubscribe adds a channel to the session's subscription set, gating channel-scoped dispatch.
	OpcodeSubscribe
	// OpcodeUnsubscribe removes a channel from the session's subscription set.
	OpcodeUnsubscribe
)

// Frame is the wire-format envelope for every message exchanged over the gateway WebSocket. Dispatch frames (op 0)
// populate Seq and Type; control frames only populate Op and, for some opcodes, Data.
type Frame struct {
	Op   Opcode          `json:"op"`
	Seq  *int64          `json:"s,omitempty"`
	Type *DispatchEvent  `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// DispatchEvent names an event carried by an opcode 0 Dispatch frame.
type DispatchEvent string

const (
	Ready   DispatchEvent = "READY"
	Resumed DispatchEvent = "RESUMED"

	Subscribed        DispatchEvent = "SUBSCRIBED"
	Unsubscribed      DispatchEvent = "UNSUBSCRIBED"
	SubscribeRejected DispatchEvent = "SUBSCRIBE_REJECTED"

	// Notify is the only dispatch event carried by the lightweight notify socket.
	Notify DispatchEvent = "NOTIFY"

	ServerUpdate DispatchEvent = "SERVER_UPDATE"

	ChannelCreate DispatchEvent = "CHANNEL_CREATE"
	ChannelUpdate DispatchEvent = "CHANNEL_UPDATE"
	ChannelDelete DispatchEvent = "CHANNEL_DELETE"

	CategoryCreate DispatchEvent = "CATEGORY_CREATE"
	CategoryUpdate DispatchEvent = "CATEGORY_UPDATE"
	CategoryDelete DispatchEvent = "CATEGORY_DELETE"

	RoleCreate DispatchEvent = "ROLE_CREATE"
	RoleUpdate DispatchEvent = "ROLE_UPDATE"
	RoleDelete DispatchEvent = "ROLE_DELETE"

	MemberAdd    DispatchEvent = "MEMBER_ADD"
	MemberUpdate DispatchEvent = "MEMBER_UPDATE"
	MemberRemove DispatchEvent = "MEMBER_REMOVE"

	BanAdd    DispatchEvent = "BAN_ADD"
	BanRemove DispatchEvent = "BAN_REMOVE"

	MessageCreate         DispatchEvent = "MESSAGE_CREATE"
	MessageUpdate         DispatchEvent = "MESSAGE_UPDATE"
	MessageDelete         DispatchEvent = "MESSAGE_DELETE"
	MessageReactionUpdate DispatchEvent = "MESSAGE_REACTION_UPDATE"
	MentionCreate         DispatchEvent = "MENTION_CREATE"

	TypingStart DispatchEvent = "TYPING_START"
	TypingStop  DispatchEvent = "TYPING_STOP"

	ServerDMMessage        DispatchEvent = "SERVER_DM_MESSAGE"
	ServerDMUpdate         DispatchEvent = "SERVER_DM_UPDATE"
	ServerDMDelete         DispatchEvent = "SERVER_DM_DELETE"
	ServerDMReactionUpdate DispatchEvent = "SERVER_DM_REACTION_UPDATE"
	ServerDMTyping         DispatchEvent = "SERVER_DM_TYPING"

	FolderCreate    DispatchEvent = "FOLDER_CREATE"
	FolderUpdate    DispatchEvent = "FOLDER_UPDATE"
	FolderDelete    DispatchEvent = "FOLDER_DELETE"
	SharedFileAdd   DispatchEvent = "SHARED_FILE_ADD"
	SharedFileDelete DispatchEvent = "SHARED_FILE_DELETE"

	PresenceUpdate DispatchEvent = "PRESENCE_UPDATE"

	InviteCreate DispatchEvent = "INVITE_CREATE"
	InviteDelete DispatchEvent = "INVITE_DELETE"

	WebhookCreate DispatchEvent = "WEBHOOK_CREATE"
	WebhookUpdate DispatchEvent = "WEBHOOK_UPDATE"
	WebhookDelete DispatchEvent = "WEBHOOK_DELETE"

	PageUpdate DispatchEvent = "PAGE_UPDATE"

	VoiceStateUpdate        DispatchEvent = "VOICE_STATE_UPDATE"
	VoiceRouterCapabilities DispatchEvent = "VOICE_ROUTER_CAPABILITIES"
	VoiceTransportCreated   DispatchEvent = "VOICE_TRANSPORT_CREATED"
	VoiceNewConsumer        DispatchEvent = "VOICE_NEW_CONSUMER"
	VoiceProduced           DispatchEvent = "VOICE_PRODUCED"
	VoiceProducerClosed     DispatchEvent = "VOICE_PRODUCER_CLOSED"
	VoiceError              DispatchEvent = "VOICE_ERROR"

	DMChannelCreate DispatchEvent = "DM_CHANNEL_CREATE"
)
