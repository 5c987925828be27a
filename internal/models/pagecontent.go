package models

// PageContent is the protocol representation of a wiki-style page channel's current body.
type PageContent struct {
	ChannelID string  `json:"channel_id"`
	Content   string  `json:"content"`
	BannerURL *string `json:"banner_url"`
	Version   int     `json:"version"`
	EditorID  *string `json:"editor_id"`
	EditedAt  *string `json:"edited_at"`
}

// PageRevision is the protocol representation of a historical page snapshot.
type PageRevision struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Content   string  `json:"content"`
	BannerURL *string `json:"banner_url"`
	Version   int     `json:"version"`
	EditorID  *string `json:"editor_id"`
	CreatedAt string  `json:"created_at"`
}

// UpdatePageContentRequest is the request body for PUT /api/v1/channels/:channelID/page.
type UpdatePageContentRequest struct {
	Content   string  `json:"content"`
	BannerURL *string `json:"banner_url"`
	Version   int     `json:"version"`
}
