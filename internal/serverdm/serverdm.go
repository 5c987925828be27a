// Package serverdm implements direct messages between two members of this self-hosted instance (spec §4.4 "Direct
// Messages"). A conversation is keyed by its two participants in canonical lexicographic order (CanonicalPair) so
// there is exactly one conversation row per pair regardless of who opened it first.
package serverdm

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the serverdm package.
var (
	ErrNotFound          = errors.New("dm conversation not found")
	ErrMessageNotFound   = errors.New("dm message not found")
	ErrSelfConversation  = errors.New("cannot open a conversation with yourself")
	ErrDMsDisabled       = errors.New("this user is not accepting direct messages")
	ErrNotParticipant    = errors.New("you are not a participant in this conversation")
	ErrNotAuthor         = errors.New("you can only modify your own messages")
	ErrAlreadyDeleted    = errors.New("message has already been deleted")
	ErrEmptyContent      = errors.New("message content must not be empty")
	ErrContentTooLong    = errors.New("message content exceeds the maximum length")
)

// Pagination defaults, matching internal/message's bounds.
const (
	DefaultLimit     = 50
	MaxLimit         = 100
	MaxContentLength = 2000
)

// Conversation is a direct-message thread between exactly two users.
type Conversation struct {
	ID            uuid.UUID
	UserAID       uuid.UUID
	UserBID       uuid.UUID
	LastMessageAt *time.Time
	CreatedAt     time.Time
}

// OtherParticipant returns the participant ID that is not userID.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// HasParticipant reports whether userID is one of the conversation's two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Message is a single direct message within a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	AuthorID       uuid.UUID
	Content        string
	Deleted        bool
	EditedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SendMessageParams groups the inputs for sending a direct message.
type SendMessageParams struct {
	ConversationID uuid.UUID
	AuthorID       uuid.UUID
	Content        string
}

// CanonicalPair returns (a, b) ordered so that a < b lexicographically by string representation, matching the
// dm_conversations CHECK (user_a_id < user_b_id) constraint.
func CanonicalPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if strings.Compare(x.String(), y.String()) < 0 {
		return x, y
	}
	return y, x
}

// ValidateContent trims and bounds direct message content.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for direct messages.
type Repository interface {
	// Open returns the existing conversation between userA and userB, creating one (in canonical participant
	// order) if none exists yet.
	Open(ctx context.Context, userA, userB uuid.UUID) (*Conversation, error)
	// ListConversations returns every conversation userID participates in, most recently active first.
	ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	ListMessages(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error)
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// SendMessage inserts a message and bumps the parent conversation's last_message_at in the same transaction.
	SendMessage(ctx context.Context, params SendMessageParams) (*Message, error)
	EditMessage(ctx context.Context, id uuid.UUID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error

	AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (count int, err error)
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (count int, err error)

	// MarkRead upserts the caller's read cursor for a conversation.
	MarkRead(ctx context.Context, userID, conversationID, lastReadMessageID uuid.UUID) error
}
