package models

// ImageUploadResponse is returned by the icon/banner/page-banner upload endpoints.
type ImageUploadResponse struct {
	URL string `json:"url"`
}

// DMUploadResponse is returned by POST /api/v1/dm/upload. DM attachments are not rows in the channel attachment
// table; the client embeds the returned URL in the message it sends next.
type DMUploadResponse struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}
