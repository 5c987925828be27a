package models

// SearchMessageHit is a single matched message in a search response.
type SearchMessageHit struct {
	ID         string   `json:"id"`
	ChannelID  string   `json:"channel_id"`
	AuthorID   string   `json:"author_id"`
	Content    string   `json:"content"`
	CreatedAt  int64    `json:"created_at"`
	Highlights []string `json:"highlights"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	Hits       []SearchMessageHit `json:"hits"`
}
