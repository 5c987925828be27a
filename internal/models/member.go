package models

// Member status values, matching the members.status CHECK constraint.
const (
	MemberStatusPending  = "pending"
	MemberStatusActive   = "active"
	MemberStatusTimedOut = "timed_out"
)

// MemberUser is the subset of user fields embedded in member and message payloads.
type MemberUser struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name"`
	AvatarKey   *string `json:"avatar_key"`
}

// Member is a server membership record joined with public user fields and role assignments.
type Member struct {
	User         MemberUser `json:"user"`
	Nickname     *string    `json:"nickname"`
	Status       string     `json:"status"`
	TimeoutUntil *string    `json:"timeout_until"`
	JoinedAt     string     `json:"joined_at"`
	Roles        []string   `json:"roles"`
}

// UpdateMemberRequest is the request body for PATCH member nickname endpoints.
type UpdateMemberRequest struct {
	Nickname *string `json:"nickname"`
}

// TimeoutMemberRequest is the request body for PUT /api/v1/server/members/:userID/timeout.
type TimeoutMemberRequest struct {
	Until string `json:"until"`
}

// BanMemberRequest is the request body for PUT /api/v1/server/bans/:userID.
type BanMemberRequest struct {
	Reason    string  `json:"reason"`
	ExpiresAt *string `json:"expires_at"`
	// DeleteMessages, when set, must be one of "1h", "24h", "7d" and soft-deletes the banned user's messages created
	// within that lookback window.
	DeleteMessages *string `json:"delete_messages"`
}

// Ban is a server ban record joined with the banned user's public profile.
type Ban struct {
	User      MemberUser `json:"user"`
	Reason    *string    `json:"reason"`
	BannedBy  *string    `json:"banned_by"`
	ExpiresAt *string    `json:"expires_at"`
	CreatedAt string     `json:"created_at"`
}

// MemberRemoveData is the MEMBER_REMOVE dispatch payload.
type MemberRemoveData struct {
	UserID string `json:"user_id"`
}
