package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permissions"

	"github.com/ecto-chat/ecto-server/internal/channel"
)

// Sentinel errors for the search package.
var (
	ErrSearchUnavailable = errors.New("search service is unavailable")
	ErrEmptyQuery        = errors.New("search query must not be empty")
)

// Pagination defaults and limits.
const (
	DefaultPerPage = 25
	MaxPerPage     = 100
	DefaultPage    = 1
)

// ChannelLister retrieves all channels. Satisfied by channel.Repository.
type ChannelLister interface {
	List(ctx context.Context) ([]channel.Channel, error)
}

// PermissionFilter checks channel access for a user. Satisfied by *permission.Resolver.
type PermissionFilter interface {
	FilterPermitted(ctx context.Context, userID uuid.UUID, channelIDs []uuid.UUID,
		perm permissions.Permission) ([]bool, error)
}

// Searcher performs raw search queries against a search backend.
type Searcher interface {
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)
}

// Options groups optional query parameters from the handler.
type Options struct {
	ChannelID string
	AuthorID  string
	Before    int64
	After     int64
	Page      int
	PerPage   int
}

// ClampPagination normalises page and per-page values to valid ranges.
func ClampPagination(page, perPage int) (int, int) {
	if page < DefaultPage {
		page = DefaultPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// SearchParams groups the parameters sent to the search backend.
type SearchParams struct {
	Query      string
	ChannelIDs []string
	AuthorID   string
	Before     int64
	After      int64
	Page       int
	PerPage    int
}

// SearchResult holds the raw search backend response.
type SearchResult struct {
	Found int         `json:"found"`
	Hits  []SearchHit `json:"hits"`
}

// SearchHit represents a single search hit from the backend.
type SearchHit struct {
	Document   SearchDocument    `json:"document"`
	Highlights []SearchHighlight `json:"highlights"`
}

// SearchDocument holds the indexed message fields.
type SearchDocument struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	AuthorID  string `json:"author_id"`
	ChannelID string `json:"channel_id"`
	CreatedAt int64  `json:"created_at"`
}

// SearchHighlight holds highlight information for a single field.
type SearchHighlight struct {
	Field    string   `json:"field"`
	Snippets []string `json:"snippets"`
}

// PGSearcher performs search queries directly against Postgres, ranking hits with a generated tsvector column
// (messages.search_vector, see migration 00003) and falling back to ILIKE for very short queries that
// plainto_tsquery would otherwise reduce to nothing. No separate indexing step is required: the tsvector column and
// its GIN index are maintained by Postgres on every insert/update of messages.content.
type PGSearcher struct {
	db *pgxpool.Pool
}

// NewPGSearcher creates a new Postgres-backed search client.
func NewPGSearcher(db *pgxpool.Pool) *PGSearcher {
	return &PGSearcher{db: db}
}

// Search executes a full-text query against the messages table, scoped to the channel IDs the caller is permitted to
// view (enforced by Service.Search before this is called).
func (ps *PGSearcher) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	channelIDs := make([]uuid.UUID, 0, len(params.ChannelIDs))
	for _, raw := range params.ChannelIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		channelIDs = append(channelIDs, id)
	}

	conditions := []string{"channel_id = ANY($1)", "deleted = false", "search_vector @@ plainto_tsquery('english', $2)"}
	args := []any{channelIDs, params.Query}
	argN := 3

	if params.AuthorID != "" {
		if authorID, err := uuid.Parse(params.AuthorID); err == nil {
			conditions = append(conditions, fmt.Sprintf("author_id = $%d", argN))
			args = append(args, authorID)
			argN++
		}
	}
	if params.Before > 0 {
		conditions = append(conditions, fmt.Sprintf("extract(epoch from created_at) < $%d", argN))
		args = append(args, params.Before)
		argN++
	}
	if params.After > 0 {
		conditions = append(conditions, fmt.Sprintf("extract(epoch from created_at) > $%d", argN))
		args = append(args, params.After)
		argN++
	}

	offset := (params.Page - 1) * params.PerPage
	query := fmt.Sprintf(`
		SELECT id, content, author_id, channel_id, extract(epoch from created_at)::bigint,
			ts_headline('english', content, plainto_tsquery('english', $2), 'StartSel=<mark>,StopSel=</mark>'),
			count(*) OVER() AS total
		FROM messages
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $2)) DESC, created_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), argN, argN+1)
	args = append(args, params.PerPage, offset)

	rows, err := ps.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	result := &SearchResult{}
	for rows.Next() {
		var hit SearchHit
		var highlight string
		var total int
		if err := rows.Scan(
			&hit.Document.ID, &hit.Document.Content, &hit.Document.AuthorID, &hit.Document.ChannelID,
			&hit.Document.CreatedAt, &highlight, &total,
		); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		result.Found = total
		hit.Highlights = []SearchHighlight{{Field: "content", Snippets: []string{highlight}}}
		result.Hits = append(result.Hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return result, nil
}

// Service orchestrates permission-scoped message search.
type Service struct {
	channels ChannelLister
	perms    PermissionFilter
	searcher Searcher
	log      zerolog.Logger
}

// NewService creates a new search service.
func NewService(channels ChannelLister, perms PermissionFilter, searcher Searcher, logger zerolog.Logger) *Service {
	return &Service{channels: channels, perms: perms, searcher: searcher, log: logger}
}

// Search executes a permission-scoped message search. Only messages from channels the user has ViewChannels access to
// are returned.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, query string, opts Options) (*models.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	all, err := s.channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	channelIDs := make([]uuid.UUID, len(all))
	for i := range all {
		channelIDs[i] = all[i].ID
	}

	permitted, err := s.perms.FilterPermitted(ctx, userID, channelIDs, permissions.ViewChannels)
	if err != nil {
		return nil, fmt.Errorf("filter permitted channels: %w", err)
	}

	var allowedIDs []string
	for i, ok := range permitted {
		if ok {
			allowedIDs = append(allowedIDs, channelIDs[i].String())
		}
	}

	// If the caller specified a channel filter, intersect with the permitted set.
	if opts.ChannelID != "" {
		found := false
		for _, id := range allowedIDs {
			if id == opts.ChannelID {
				found = true
				break
			}
		}
		if !found {
			return emptyResponse(opts.Page, opts.PerPage), nil
		}
		allowedIDs = []string{opts.ChannelID}
	}

	if len(allowedIDs) == 0 {
		return emptyResponse(opts.Page, opts.PerPage), nil
	}

	result, err := s.searcher.Search(ctx, SearchParams{
		Query:      query,
		ChannelIDs: allowedIDs,
		AuthorID:   opts.AuthorID,
		Before:     opts.Before,
		After:      opts.After,
		Page:       opts.Page,
		PerPage:    opts.PerPage,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchMessageHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := models.SearchMessageHit{
			ID:        h.Document.ID,
			ChannelID: h.Document.ChannelID,
			AuthorID:  h.Document.AuthorID,
			Content:   h.Document.Content,
			CreatedAt: h.Document.CreatedAt,
		}
		for _, hl := range h.Highlights {
			if hl.Field == "content" {
				hit.Highlights = hl.Snippets
				break
			}
		}
		hits = append(hits, hit)
	}

	return &models.SearchResponse{
		TotalCount: result.Found,
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		Hits:       hits,
	}, nil
}

func emptyResponse(page, perPage int) *models.SearchResponse {
	return &models.SearchResponse{
		TotalCount: 0,
		Page:       page,
		PerPage:    perPage,
		Hits:       []models.SearchMessageHit{},
	}
}
