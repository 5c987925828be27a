package pagecontent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/postgres"
)

const selectColumns = `channel_id, content, banner_url, version, last_editor_id, edited_at, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed page content repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Get(ctx context.Context, channelID uuid.UUID) (*PageContent, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM page_content WHERE channel_id = $1", selectColumns), channelID,
	)
	pc, err := scanPageContent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query page content: %w", err)
	}
	return pc, nil
}

// UpdateContent implements the optimistic-concurrency rule described on the Repository interface: read-under-lock,
// compare version, snapshot the pre-update row into page_revisions, then bump.
func (r *PGRepository) UpdateContent(ctx context.Context, params UpdateParams) (*PageContent, error) {
	var result *PageContent

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var currentContent string
		var currentBanner *string
		var currentVersion int
		err := tx.QueryRow(ctx,
			"SELECT content, banner_url, version FROM page_content WHERE channel_id = $1 FOR UPDATE",
			params.ChannelID,
		).Scan(&currentContent, &currentBanner, &currentVersion)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if params.ExpectedVersion != 0 {
				return ErrVersionConflict
			}
			row := tx.QueryRow(ctx,
				fmt.Sprintf(`INSERT INTO page_content (channel_id, content, banner_url, version, last_editor_id, edited_at)
				 VALUES ($1, $2, $3, 1, $4, NOW())
				 RETURNING %s`, selectColumns),
				params.ChannelID, params.Content, params.BannerURL, params.EditorID,
			)
			result, err = scanPageContent(row)
			if err != nil {
				return fmt.Errorf("insert page content: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("lock page content: %w", err)
		}

		if currentVersion != params.ExpectedVersion {
			return ErrVersionConflict
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO page_revisions (channel_id, content, banner_url, version, editor_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			params.ChannelID, currentContent, currentBanner, currentVersion, params.EditorID,
		); err != nil {
			return fmt.Errorf("insert page revision: %w", err)
		}

		row := tx.QueryRow(ctx,
			fmt.Sprintf(`UPDATE page_content SET content = $1, banner_url = $2, version = version + 1,
			 last_editor_id = $3, edited_at = NOW()
			 WHERE channel_id = $4
			 RETURNING %s`, selectColumns),
			params.Content, params.BannerURL, params.EditorID, params.ChannelID,
		)
		result, err = scanPageContent(row)
		if err != nil {
			return fmt.Errorf("update page content: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PGRepository) ListRevisions(ctx context.Context, channelID uuid.UUID, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = DefaultRevisionLimit
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, channel_id, content, banner_url, version, editor_id, created_at
		 FROM page_revisions WHERE channel_id = $1 ORDER BY version DESC LIMIT $2`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query page revisions: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.ChannelID, &rev.Content, &rev.BannerURL, &rev.Version, &rev.EditorID, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page revision: %w", err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page revisions: %w", err)
	}
	return revisions, nil
}

func (r *PGRepository) Delete(ctx context.Context, channelID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM page_content WHERE channel_id = $1", channelID); err != nil {
		return fmt.Errorf("delete page content: %w", err)
	}
	return nil
}

func scanPageContent(row pgx.Row) (*PageContent, error) {
	var pc PageContent
	if err := row.Scan(&pc.ChannelID, &pc.Content, &pc.BannerURL, &pc.Version, &pc.EditorID, &pc.EditedAt, &pc.CreatedAt); err != nil {
		return nil, err
	}
	return &pc, nil
}
