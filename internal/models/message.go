package models

// Attachment is the protocol representation of an uploaded file.
type Attachment struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnail_url"`
	Size         int64   `json:"size"`
	ContentType  string  `json:"content_type"`
	Width        *int    `json:"width"`
	Height       *int    `json:"height"`
}

// Message is the protocol representation of a channel message.
type Message struct {
	ID              string       `json:"id"`
	ChannelID       string       `json:"channel_id"`
	Author          MemberUser   `json:"author"`
	Content         string       `json:"content"`
	Type            int16        `json:"type"`
	Attachments     []Attachment `json:"attachments"`
	ReplyToID       *string      `json:"reply_to_id"`
	Pinned          bool         `json:"pinned"`
	MentionEveryone bool         `json:"mention_everyone"`
	MentionRoles    []string     `json:"mention_roles"`
	MentionUsers    []string     `json:"mention_users"`
	WebhookID        *string     `json:"webhook_id"`
	WebhookUsername  *string     `json:"webhook_username,omitempty"`
	WebhookAvatarURL *string     `json:"webhook_avatar_url,omitempty"`
	Reactions       []Reaction   `json:"reactions"`
	EditedAt        *string      `json:"edited_at"`
	CreatedAt       string       `json:"created_at"`
}

// Reaction is the protocol representation of an aggregated reaction on a message.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Me    bool     `json:"me"`
}

// ReactionUpdateData is the message.reaction_update dispatch payload.
type ReactionUpdateData struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Count     int    `json:"count"`
}

// CreateMessageRequest is the request body for POST /api/v1/channels/:channelID/messages.
type CreateMessageRequest struct {
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachment_ids"`
	ReplyToID     *string  `json:"reply_to_id"`
}

// UpdateMessageRequest is the request body for PATCH /api/v1/messages/:messageID.
type UpdateMessageRequest struct {
	Content string `json:"content"`
}

// PinRequest is the request body for PUT /api/v1/messages/:messageID/pin.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// MarkReadRequest is the request body for PUT /api/v1/channels/:channelID/read.
type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

// ReactRequest is the request body for PUT/DELETE /api/v1/messages/:messageID/reactions/:emoji.

// MessageDeleteData is the MESSAGE_DELETE dispatch payload.
type MessageDeleteData struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}
