package models

// DMConversation is the protocol representation of a direct-message conversation.
type DMConversation struct {
	ID              string  `json:"id"`
	RecipientID     string  `json:"recipient_id"`
	LastMessageAt   *string `json:"last_message_at"`
	CreatedAt       string  `json:"created_at"`
}

// DMMessage is the protocol representation of a single direct message.
type DMMessage struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	AuthorID       string       `json:"author_id"`
	Content        string       `json:"content"`
	Reactions      []Reaction   `json:"reactions"`
	EditedAt       *string      `json:"edited_at"`
	CreatedAt      string       `json:"created_at"`
}

// SendDMRequest is the request body for POST /api/v1/dms/:conversationID/messages.
type SendDMRequest struct {
	Content string `json:"content"`
}

// EditDMRequest is the request body for PATCH /api/v1/dms/messages/:messageID.
type EditDMRequest struct {
	Content string `json:"content"`
}

// DMMessageDeleteData is the SERVER_DM_DELETE dispatch payload.
type DMMessageDeleteData struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// DMReactionUpdateData is the SERVER_DM_REACTION_UPDATE dispatch payload.
type DMReactionUpdateData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
	UserID         string `json:"user_id"`
	Action         string `json:"action"`
	Count          int    `json:"count"`
}

// DMTypingData is the SERVER_DM_TYPING dispatch payload.
type DMTypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// DMReadStateData is the read-cursor update a client sends after marking a conversation read.
type MarkDMReadRequest struct {
	LastReadMessageID string `json:"last_read_message_id"`
}
