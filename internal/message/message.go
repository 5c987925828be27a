package message

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrReplyNotFound  = errors.New("reply target message not found")
	ErrNotAuthor      = errors.New("you can only modify your own messages")
	ErrAlreadyDeleted = errors.New("message has already been deleted")
	ErrWrongChannelType = errors.New("messages cannot be sent in this channel type")
	ErrSlowmode       = errors.New("slowmode is active for this channel")
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Type enumerates the kinds of message a row can represent. PinAdded rows are system messages synthesized by
// Service.Pin rather than authored directly by a user.
type Type int16

const (
	TypeDefault  Type = 0
	TypePinAdded Type = 1
)

// Message holds the fields read from the database, including joined author information.
type Message struct {
	ID               uuid.UUID
	ChannelID        uuid.UUID
	AuthorID         uuid.UUID
	Content          string
	Type             Type
	EditedAt         *time.Time
	ReplyToID        *uuid.UUID
	Pinned           bool
	Deleted          bool
	MentionEveryone  bool
	MentionRoles     []uuid.UUID
	MentionUsers     []uuid.UUID
	WebhookID        *uuid.UUID
	WebhookUsername  *string
	WebhookAvatarURL *string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Author fields joined from the users table.
	AuthorUsername    string
	AuthorDisplayName *string
	AuthorAvatarKey   *string
}

// CreateParams groups the inputs for creating a new message.
type CreateParams struct {
	ChannelID       uuid.UUID
	AuthorID        uuid.UUID
	Content         string
	Type            Type
	ReplyToID       *uuid.UUID
	MentionEveryone bool
	MentionRoles    []uuid.UUID
	MentionUsers    []uuid.UUID
	WebhookID       *uuid.UUID
	WebhookUsername  *string
	WebhookAvatarURL *string
}

var (
	userMentionRe    = regexp.MustCompile(`<@([0-9a-fA-F-]{36})>`)
	roleMentionRe    = regexp.MustCompile(`<@&([0-9a-fA-F-]{36})>`)
	everyoneMentionRe = regexp.MustCompile(`@everyone`)
)

// Mentions is the result of parsing a message body for user, role, and @everyone mentions.
type Mentions struct {
	Everyone bool
	Roles    []uuid.UUID
	Users    []uuid.UUID
}

// ParseMentions extracts `<@userID>`, `<@&roleID>`, and `@everyone` tokens from content. Channel mentions
// (`<#channelID>`) are left in place for clients to render; they carry no notification side effects per spec §4.3.
// The caller is responsible for gating Everyone/Roles on the author's MENTION_EVERYONE permission: when the author
// lacks it, the raw text is kept (so `@everyone` still renders) but the returned flags must be discarded by the
// caller rather than honored.
func ParseMentions(content string) Mentions {
	var m Mentions
	m.Everyone = everyoneMentionRe.MatchString(content)

	seenRoles := map[uuid.UUID]bool{}
	for _, match := range roleMentionRe.FindAllStringSubmatch(content, -1) {
		id, err := uuid.Parse(match[1])
		if err != nil || seenRoles[id] {
			continue
		}
		seenRoles[id] = true
		m.Roles = append(m.Roles, id)
	}

	seenUsers := map[uuid.UUID]bool{}
	for _, match := range userMentionRe.FindAllStringSubmatch(content, -1) {
		id, err := uuid.Parse(match[1])
		if err != nil || seenUsers[id] {
			continue
		}
		seenUsers[id] = true
		m.Users = append(m.Users, id)
	}
	return m
}

// ValidateContent checks that content is non-empty after trimming and does not exceed the given maximum rune count.
func ValidateContent(content string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when the input is zero or
// negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	List(ctx context.Context, channelID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error)
	ListPinned(ctx context.Context, channelID uuid.UUID) ([]Message, error)
	Update(ctx context.Context, id uuid.UUID, content string) (*Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	SoftDeleteByAuthorSince(ctx context.Context, authorID uuid.UUID, since time.Time) (int64, error)
	SetPinned(ctx context.Context, id uuid.UUID, pinned bool) (*Message, error)
	LastByAuthor(ctx context.Context, channelID, authorID uuid.UUID) (*Message, error)

	// AddReaction inserts a reaction row, returning ErrAlreadyDeleted-free idempotent success when the
	// (message, user, emoji) row already exists, and the new aggregate count for that emoji.
	AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (count int, err error)
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (count int, err error)
}
