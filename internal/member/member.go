package member

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ecto-chat/ecto-server/internal/models"
)

// Sentinel errors for the member package.
var (
	ErrNotFound       = errors.New("member not found")
	ErrBanNotFound    = errors.New("ban not found")
	ErrNicknameLength = errors.New("nickname must be between 1 and 32 characters")
	ErrAlreadyMember  = errors.New("user is already a member")
	ErrAlreadyBanned  = errors.New("user is already banned")
	ErrEveryoneRole   = errors.New("the @everyone role cannot be manually assigned or removed")
	ErrTimeoutInPast  = errors.New("timeout must be in the future")
	ErrNotPending     = errors.New("member is not in pending status")
	ErrInvalidDeleteMessagesWindow = errors.New("delete_messages must be one of 1h, 24h, 7d")
)

// deleteMessagesWindows maps the ban request's delete_messages enum to a lookback duration, per spec's
// `delete_messages ∈ {1h, 24h, 7d}` ban option.
var deleteMessagesWindows = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// ParseDeleteMessagesWindow validates a ban request's delete_messages value and returns the corresponding lookback
// duration. A nil window means "don't delete any messages."
func ParseDeleteMessagesWindow(window *string) (time.Duration, error) {
	if window == nil {
		return 0, nil
	}
	d, ok := deleteMessagesWindows[*window]
	if !ok {
		return 0, ErrInvalidDeleteMessagesWindow
	}
	return d, nil
}

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Member holds the fields read from the members table.
type Member struct {
	UserID       uuid.UUID
	Nickname     *string
	Status       string
	TimeoutUntil *time.Time
	JoinedAt     time.Time
	OnboardedAt  *time.Time
	UpdatedAt    time.Time
}

// MemberWithProfile combines membership fields with public user data and role assignments. Produced by queries that
// join across the members, users, and member_roles tables.
type MemberWithProfile struct {
	UserID       uuid.UUID
	Username     string
	DisplayName  *string
	AvatarKey    *string
	Nickname     *string
	Status       string
	TimeoutUntil *time.Time
	JoinedAt     time.Time
	RoleIDs      []uuid.UUID
}

// ToModel converts the internal member type to the protocol response type.
func (m *MemberWithProfile) ToModel() models.Member {
	roleIDs := make([]string, len(m.RoleIDs))
	for i, id := range m.RoleIDs {
		roleIDs[i] = id.String()
	}
	result := models.Member{
		User: models.MemberUser{
			ID:          m.UserID.String(),
			Username:    m.Username,
			DisplayName: m.DisplayName,
			AvatarKey:   m.AvatarKey,
		},
		Nickname: m.Nickname,
		JoinedAt: m.JoinedAt.Format(time.RFC3339),
		Roles:    roleIDs,
		Status:   m.Status,
	}
	if m.TimeoutUntil != nil {
		s := m.TimeoutUntil.Format(time.RFC3339)
		result.TimeoutUntil = &s
	}
	return result
}

// BanRecord holds a ban row joined with the banned user's public profile.
type BanRecord struct {
	UserID      uuid.UUID
	Username    string
	DisplayName *string
	AvatarKey   *string
	Reason      *string
	BannedBy    *uuid.UUID
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// ValidateNickname checks that a non-nil nickname is between 1 and 32 runes after trimming whitespace. A nil pointer
// means "clear the nickname." On success the pointed-to value is replaced with the trimmed result.
func ValidateNickname(nickname *string) error {
	if nickname == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*nickname)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 32 {
		return ErrNicknameLength
	}
	*nickname = trimmed
	return nil
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

// Repository defines the data-access contract for member operations.
type Repository interface {
	// Listing
	List(ctx context.Context, after *uuid.UUID, limit int) ([]MemberWithProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*MemberWithProfile, error)
	GetByUserIDAnyStatus(ctx context.Context, userID uuid.UUID) (*MemberWithProfile, error)
	GetStatus(ctx context.Context, userID uuid.UUID) (string, error)
	AllowsDMs(ctx context.Context, userID uuid.UUID) (bool, error)
	// TokenVersion reads the member's current token version; BumpTokenVersion increments it to invalidate all
	// outstanding access tokens carrying the old tv claim (password change, forced logout).
	TokenVersion(ctx context.Context, userID uuid.UUID) (int, error)
	BumpTokenVersion(ctx context.Context, userID uuid.UUID) error

	// Mutation
	UpdateNickname(ctx context.Context, userID uuid.UUID, nickname *string) (*MemberWithProfile, error)
	// Delete removes a member and, within the same transaction, cleans its read_states and dm_read_states rows (the
	// leave/kick cascade spec describes).
	Delete(ctx context.Context, userID uuid.UUID) error

	// Timeout
	SetTimeout(ctx context.Context, userID uuid.UUID, until time.Time) (*MemberWithProfile, error)
	ClearTimeout(ctx context.Context, userID uuid.UUID) (*MemberWithProfile, error)

	// Bans
	// Ban inserts a ban row, removes the member (with the same read/dm-state cascade as Delete), and, when
	// deleteMessagesSince is non-nil, soft-deletes the user's messages created at or after that time — all within one
	// transaction.
	Ban(ctx context.Context, userID, bannedBy uuid.UUID, reason *string, expiresAt, deleteMessagesSince *time.Time) error
	Unban(ctx context.Context, userID uuid.UUID) error
	ListBans(ctx context.Context, after *uuid.UUID, limit int) ([]BanRecord, error)
	IsBanned(ctx context.Context, userID uuid.UUID) (bool, error)

	// Roles
	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveRole(ctx context.Context, userID, roleID uuid.UUID) error

	// Onboarding
	CreatePending(ctx context.Context, userID uuid.UUID) (*MemberWithProfile, error)
	Activate(ctx context.Context, userID uuid.UUID, autoRoles []uuid.UUID) (*MemberWithProfile, error)
}
