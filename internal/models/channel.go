package models

// Channel type values, matching the channels.type CHECK constraint.
const (
	ChannelTypeText  = "text"
	ChannelTypeVoice = "voice"
	ChannelTypePage  = "page"
)

// Channel is the protocol representation of a channel.
type Channel struct {
	ID              string  `json:"id"`
	CategoryID      *string `json:"category_id"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Topic           string  `json:"topic"`
	Position        int     `json:"position"`
	SlowmodeSeconds int     `json:"slowmode_seconds"`
	NSFW            bool    `json:"nsfw"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// CreateChannelRequest is the request body for POST /api/v1/server/channels.
type CreateChannelRequest struct {
	Name            string  `json:"name"`
	Type            *string `json:"type"`
	CategoryID      *string `json:"category_id"`
	Topic           *string `json:"topic"`
	SlowmodeSeconds *int    `json:"slowmode_seconds"`
	NSFW            *bool   `json:"nsfw"`
}

// UpdateChannelRequest is the request body for PATCH /api/v1/channels/:channelID. CategoryID follows PATCH
// semantics: nil means no change, an empty string means remove from category, any other value is parsed as a UUID.
type UpdateChannelRequest struct {
	Name            *string `json:"name"`
	CategoryID      *string `json:"category_id"`
	Topic           *string `json:"topic"`
	Position        *int    `json:"position"`
	SlowmodeSeconds *int    `json:"slowmode_seconds"`
	NSFW            *bool   `json:"nsfw"`
}

// ChannelDeleteData is the CHANNEL_DELETE dispatch payload.
type ChannelDeleteData struct {
	ID string `json:"id"`
}

// Category is the protocol representation of a channel category.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateCategoryRequest is the request body for POST /api/v1/server/categories.
type CreateCategoryRequest struct {
	Name string `json:"name"`
}

// UpdateCategoryRequest is the request body for PATCH /api/v1/categories/:categoryID.
type UpdateCategoryRequest struct {
	Name     *string `json:"name"`
	Position *int    `json:"position"`
}
