package models

// ServerConfig is the protocol representation of the server's identity configuration.
type ServerConfig struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	IconKey            *string `json:"icon_key"`
	BannerKey          *string `json:"banner_key"`
	OwnerID            string  `json:"owner_id"`
	SetupComplete      bool    `json:"setup_complete"`
	MaxUploadSizeBytes int64   `json:"max_upload_size_bytes"`
	MaxStorageBytes    int64   `json:"max_storage_bytes"`
	AllowLocalAccounts bool    `json:"allow_local_accounts"`
	RequireInvite      bool    `json:"require_invite"`
	AllowMemberDMs     bool    `json:"allow_member_dms"`
	ShowSystemMessages bool    `json:"show_system_messages"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// PublicServerInfo is the unauthenticated subset of ServerConfig returned to clients deciding whether to join.
type PublicServerInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	IconKey     *string `json:"icon_key"`
}

// UpdateServerConfigRequest is the request body for PATCH /api/v1/server.
type UpdateServerConfigRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	IconKey            *string `json:"icon_key"`
	BannerKey          *string `json:"banner_key"`
	SetupComplete      *bool   `json:"setup_complete"`
	MaxUploadSizeBytes *int64  `json:"max_upload_size_bytes"`
	MaxStorageBytes    *int64  `json:"max_storage_bytes"`
	AllowLocalAccounts *bool   `json:"allow_local_accounts"`
	RequireInvite      *bool   `json:"require_invite"`
	AllowMemberDMs     *bool   `json:"allow_member_dms"`
	ShowSystemMessages *bool   `json:"show_system_messages"`
}
