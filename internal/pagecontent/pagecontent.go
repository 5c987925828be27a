// Package pagecontent implements the 1:1 wiki content backing a "page"-typed channel (spec §4.3 "Pages"). Unlike
// messages, a page has a single current body that is updated in place under optimistic concurrency: every update
// must supply the version it read, and every successful update snapshots the pre-update body into page_revisions
// before bumping the version by exactly one.
package pagecontent

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the pagecontent package.
var (
	ErrNotFound        = errors.New("page content not found")
	ErrVersionConflict = errors.New("page content has been updated since the supplied version was read")
	ErrContentTooLong  = errors.New("page content exceeds the maximum length")
	ErrBannerURLLength = errors.New("banner URL must be 2048 characters or fewer")
)

// MaxContentLength bounds the stored body size (runes); the HTTP layer also clamps to the configured limit.
const MaxContentLength = 100000

// PageContent is the current body of a page channel.
type PageContent struct {
	ChannelID  uuid.UUID
	Content    string
	BannerURL  *string
	Version    int
	EditorID   *uuid.UUID
	EditedAt   *time.Time
	CreatedAt  time.Time
}

// Revision is a point-in-time snapshot taken immediately before an update, carrying the version that was current
// before the bump (spec invariant: "a PageRevision is created with the pre-update version before the bump").
type Revision struct {
	ID         uuid.UUID
	ChannelID  uuid.UUID
	Content    string
	BannerURL  *string
	Version    int
	EditorID   *uuid.UUID
	CreatedAt  time.Time
}

// ValidateContent trims trailing whitespace and checks the rune length. Empty content is allowed (an empty page).
func ValidateContent(content string) (string, error) {
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

// ValidateBannerURL checks that a non-nil banner URL is 2048 characters or fewer.
func ValidateBannerURL(url *string) error {
	if url == nil {
		return nil
	}
	if utf8.RuneCountInString(*url) > 2048 {
		return ErrBannerURLLength
	}
	return nil
}

// UpdateParams groups the inputs for an optimistic-concurrency content update.
type UpdateParams struct {
	ChannelID       uuid.UUID
	Content         string
	BannerURL       *string
	EditorID        uuid.UUID
	ExpectedVersion int
}

// Repository defines the data-access contract for page content.
type Repository interface {
	// Get returns the current page content for a channel, or ErrNotFound if the channel has never had content
	// created (the row is created lazily on first update).
	Get(ctx context.Context, channelID uuid.UUID) (*PageContent, error)

	// UpdateContent performs the optimistic-concurrency update described in the package doc. If no row exists yet for
	// channelID, one is created starting at version 0 (so the first caller must supply ExpectedVersion=0). Returns
	// ErrVersionConflict if the stored version does not match ExpectedVersion.
	UpdateContent(ctx context.Context, params UpdateParams) (*PageContent, error)

	// ListRevisions returns revision snapshots for a channel, most recent first, capped at limit.
	ListRevisions(ctx context.Context, channelID uuid.UUID, limit int) ([]Revision, error)

	// Delete removes the page content and its revisions for a channel (called when the channel itself is deleted).
	Delete(ctx context.Context, channelID uuid.UUID) error
}

// DefaultRevisionLimit bounds the number of revisions returned when the caller does not specify one.
const DefaultRevisionLimit = 50
