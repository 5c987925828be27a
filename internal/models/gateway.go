package models

// HelloData is the payload of an opcode Hello frame, sent immediately after connecting.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// IdentifyData is the payload of an opcode Identify frame.
type IdentifyData struct {
	Token string `json:"token"`
}

// ResumeData is the payload of an opcode Resume frame.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// SubscribeData is the payload of a client-sent Subscribe or Unsubscribe frame, and of the SUBSCRIBED /
// UNSUBSCRIBED / SUBSCRIBE_REJECTED acknowledgements.
type SubscribeData struct {
	ChannelID string `json:"channel_id"`
}

// NotifyData is the NOTIFY dispatch payload sent on the notify socket: a lightweight pointer at a channel with new
// activity, debounced per channel.
type NotifyData struct {
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"ts"`
	Type      string `json:"type"`
}

// PresenceUpdateRequest is the payload of a client-sent opcode PresenceUpdate frame.
type PresenceUpdateRequest struct {
	Status string `json:"status"`
}

// PresenceUpdateData is the PRESENCE_UPDATE dispatch payload.
type PresenceUpdateData struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// PresenceState is a single user's presence entry, as carried in the READY payload and PRESENCE_UPDATE dispatch.
type PresenceState struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// TypingStartData is the TYPING_START dispatch payload.
type TypingStartData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

// TypingStopData is the TYPING_STOP dispatch payload.
type TypingStopData struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// ReadyData is the payload of the READY dispatch sent immediately after a client identifies, containing every piece
// of state the client needs to render its initial view.
type ReadyData struct {
	SessionID   string            `json:"session_id"`
	User        User              `json:"user"`
	Server      ServerConfig      `json:"server"`
	Channels    []Channel         `json:"channels"`
	Roles       []Role            `json:"roles"`
	Members     []Member          `json:"members"`
	Presences   []PresenceState   `json:"presences"`
	ReadStates  []ReadState       `json:"read_states"`
	VoiceStates []VoiceState      `json:"voice_states"`
	Onboarding  *OnboardingConfig `json:"onboarding,omitempty"`
}

// ReadState is the caller's read position for one channel, carried in READY and returned by the read-state
// endpoints.
type ReadState struct {
	ChannelID         string  `json:"channel_id"`
	LastReadMessageID *string `json:"last_read_message_id"`
	MentionCount      int     `json:"mention_count"`
}
