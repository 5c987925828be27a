// Package readstate tracks, per (user, channel), the last message the user has read and how many unread
// mentions are pending. It backs the mention-badge counters pushed in system.ready and bumped on every
// notified message send (spec §4.3).
package readstate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ecto-chat/ecto-server/internal/models"
)

// ErrNotFound indicates no read state row exists for the (user, channel) pair.
var ErrNotFound = errors.New("read state not found")

// ReadState is a user's read position and unread mention count for a single channel.
type ReadState struct {
	UserID            uuid.UUID
	ChannelID         uuid.UUID
	LastReadMessageID *uuid.UUID
	MentionCount      int
	UpdatedAt         time.Time
}

// ToModel converts the read state to its wire representation. The user ID is implicit: read states are only ever
// returned to their owner.
func (s *ReadState) ToModel() models.ReadState {
	result := models.ReadState{
		ChannelID:    s.ChannelID.String(),
		MentionCount: s.MentionCount,
	}
	if s.LastReadMessageID != nil {
		id := s.LastReadMessageID.String()
		result.LastReadMessageID = &id
	}
	return result
}

// Repository defines the data-access contract for read-state tracking.
type Repository interface {
	// Get returns the read state for (userID, channelID), or ErrNotFound if no row exists yet.
	Get(ctx context.Context, userID, channelID uuid.UUID) (*ReadState, error)
	// ListForUser returns every read state row for userID, used to populate system.ready.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]ReadState, error)
	// IncrementMention upserts a row for (userID, channelID), creating it with mention_count=1 if absent or
	// incrementing the existing count by one. Called once per distinct notified recipient on message send.
	IncrementMention(ctx context.Context, userID, channelID uuid.UUID) error
	// MarkRead upserts the read state, setting last_read_message_id and resetting mention_count to zero.
	MarkRead(ctx context.Context, userID, channelID, lastReadMessageID uuid.UUID) (*ReadState, error)
}
