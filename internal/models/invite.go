package models

// Invite is the protocol representation of a server invite.
type Invite struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	ChannelID     string  `json:"channel_id"`
	CreatorID     string  `json:"creator_id"`
	MaxUses       *int    `json:"max_uses"`
	UseCount      int     `json:"use_count"`
	MaxAgeSeconds *int    `json:"max_age_seconds"`
	ExpiresAt     *string `json:"expires_at"`
	CreatedAt     string  `json:"created_at"`
}

// CreateInviteRequest is the request body for POST /api/v1/server/invites.
type CreateInviteRequest struct {
	ChannelID     string `json:"channel_id"`
	MaxUses       *int   `json:"max_uses"`
	MaxAgeSeconds *int   `json:"max_age_seconds"`
}
