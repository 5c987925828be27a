package server

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ecto-chat/ecto-server/internal/models"
)

// Sentinel errors for the server package.
var (
	ErrNotFound          = errors.New("server config not found")
	ErrNameLength        = errors.New("name must be between 1 and 100 characters")
	ErrDescriptionLength = errors.New("description must be 1024 characters or fewer")
)

// Config holds the server configuration read from the database. The tunables (MaxUploadSizeBytes through
// ShowSystemMessages) correspond to spec §3's ServerConfig entity and gate the mutation pipeline: upload quotas,
// local-account registration, invite-gated joins, member DM permission, and the pin-added system message.
type Config struct {
	ID                 uuid.UUID
	Name               string
	Description        string
	IconKey            *string
	BannerKey          *string
	OwnerID            uuid.UUID
	SetupComplete      bool
	MaxUploadSizeBytes int64
	MaxStorageBytes    int64
	AllowLocalAccounts bool
	RequireInvite      bool
	AllowMemberDMs     bool
	ShowSystemMessages bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ToModel converts the internal config struct to the protocol response type.
func (cfg *Config) ToModel() models.ServerConfig {
	return models.ServerConfig{
		ID:                 cfg.ID.String(),
		Name:               cfg.Name,
		Description:        cfg.Description,
		IconKey:            cfg.IconKey,
		BannerKey:          cfg.BannerKey,
		OwnerID:            cfg.OwnerID.String(),
		SetupComplete:      cfg.SetupComplete,
		MaxUploadSizeBytes: cfg.MaxUploadSizeBytes,
		MaxStorageBytes:    cfg.MaxStorageBytes,
		AllowLocalAccounts: cfg.AllowLocalAccounts,
		RequireInvite:      cfg.RequireInvite,
		AllowMemberDMs:     cfg.AllowMemberDMs,
		ShowSystemMessages: cfg.ShowSystemMessages,
		CreatedAt:          cfg.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          cfg.UpdatedAt.Format(time.RFC3339),
	}
}

// UpdateParams groups the optional fields for updating the server configuration.
type UpdateParams struct {
	Name               *string
	Description        *string
	IconKey            *string
	BannerKey          *string
	SetupComplete      *bool
	MaxUploadSizeBytes *int64
	MaxStorageBytes    *int64
	AllowLocalAccounts *bool
	RequireInvite      *bool
	AllowMemberDMs     *bool
	ShowSystemMessages *bool
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after trimming whitespace. A nil
// pointer means "no change" (useful for PATCH semantics); a non-nil pointer is always validated. On success the
// pointed-to value is replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateDescription checks that a non-nil description is 1024 characters (runes) or fewer. A nil pointer means "no
// change" (useful for PATCH semantics); a pointer to an empty string means "clear the description."
func ValidateDescription(desc *string) error {
	if desc == nil {
		return nil
	}
	if utf8.RuneCountInString(*desc) > 1024 {
		return ErrDescriptionLength
	}
	return nil
}

// Repository defines the data-access contract for server config operations.
type Repository interface {
	Get(ctx context.Context) (*Config, error)
	Update(ctx context.Context, params UpdateParams) (*Config, error)
}
