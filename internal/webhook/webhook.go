// Package webhook implements channel-scoped incoming webhooks: a named, tokened identity that an external caller
// can use to post messages into a text channel without a user session (spec §4.4 "Webhooks"). The execute endpoint
// authenticates purely by id+token match in the URL, not by the usual Authorization bearer flow.
package webhook

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the webhook package.
var (
	ErrNotFound        = errors.New("webhook not found")
	ErrInvalidToken    = errors.New("webhook token is invalid")
	ErrNameRequired    = errors.New("webhook name must not be empty")
	ErrNameTooLong     = errors.New("webhook name must be 80 characters or fewer")
	ErrAvatarURLLength = errors.New("avatar URL must be 2048 characters or fewer")
	ErrContentEmpty    = errors.New("webhook message content must not be empty")
	ErrContentTooLong  = errors.New("webhook message content exceeds the maximum length")
)

// MaxNameLength and MaxContentLength bound the user-supplied fields.
const (
	MaxNameLength    = 80
	MaxAvatarURLLen  = 2048
	MaxContentLength = 4000
)

// Webhook is a channel-scoped posting identity.
type Webhook struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	CreatorID uuid.UUID
	Name      string
	AvatarURL *string
	Token     string
}

// CreateParams groups the inputs for creating a webhook.
type CreateParams struct {
	ChannelID uuid.UUID
	CreatorID uuid.UUID
	Name      string
	AvatarURL *string
}

// ExecuteParams groups the inputs for posting a message through a webhook's public endpoint. Username/AvatarURL
// override the webhook's configured defaults for this message only, matching the execute-time override spec §4.4
// describes.
type ExecuteParams struct {
	WebhookID uuid.UUID
	Token     string
	Content   string
	Username  *string
	AvatarURL *string
}

// ValidateName trims and bounds a webhook display name.
func ValidateName(name string) (string, error) {
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ValidateAvatarURL checks that a non-nil avatar URL is within the length bound.
func ValidateAvatarURL(url *string) error {
	if url == nil {
		return nil
	}
	if utf8.RuneCountInString(*url) > MaxAvatarURLLen {
		return ErrAvatarURLLength
	}
	return nil
}

// ValidateContent trims and bounds webhook execute-body content.
func ValidateContent(content string) (string, error) {
	if content == "" {
		return "", ErrContentEmpty
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

// Repository defines the data-access contract for webhooks.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Webhook, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Webhook, error)
	// GetByIDAndToken returns the webhook only if token matches, else ErrInvalidToken (distinguished from
	// ErrNotFound so the execute handler can't be used to probe for valid webhook IDs).
	GetByIDAndToken(ctx context.Context, id uuid.UUID, token string) (*Webhook, error)
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Webhook, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// RegenerateToken replaces a webhook's token with a freshly generated one and returns the updated row.
	RegenerateToken(ctx context.Context, id uuid.UUID) (*Webhook, error)
}
