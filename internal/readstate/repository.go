package readstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `user_id, channel_id, last_read_message_id, mention_count, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed read-state repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Get(ctx context.Context, userID, channelID uuid.UUID) (*ReadState, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM read_states WHERE user_id = $1 AND channel_id = $2", selectColumns),
		userID, channelID,
	)
	rs, err := scanReadState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query read state: %w", err)
	}
	return rs, nil
}

func (r *PGRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]ReadState, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM read_states WHERE user_id = $1", selectColumns), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query read states: %w", err)
	}
	defer rows.Close()

	var states []ReadState
	for rows.Next() {
		rs, err := scanReadState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan read state: %w", err)
		}
		states = append(states, *rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read states: %w", err)
	}
	return states, nil
}

func (r *PGRepository) IncrementMention(ctx context.Context, userID, channelID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO read_states (user_id, channel_id, mention_count, updated_at)
		 VALUES ($1, $2, 1, NOW())
		 ON CONFLICT (user_id, channel_id)
		 DO UPDATE SET mention_count = read_states.mention_count + 1, updated_at = NOW()`,
		userID, channelID,
	)
	if err != nil {
		return fmt.Errorf("increment mention count: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkRead(ctx context.Context, userID, channelID, lastReadMessageID uuid.UUID) (*ReadState, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO read_states (user_id, channel_id, last_read_message_id, mention_count, updated_at)
		 VALUES ($1, $2, $3, 0, NOW())
		 ON CONFLICT (user_id, channel_id)
		 DO UPDATE SET last_read_message_id = $3, mention_count = 0, updated_at = NOW()
		 RETURNING %s`, selectColumns),
		userID, channelID, lastReadMessageID,
	)
	rs, err := scanReadState(row)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return rs, nil
}

func scanReadState(row pgx.Row) (*ReadState, error) {
	var rs ReadState
	if err := row.Scan(&rs.UserID, &rs.ChannelID, &rs.LastReadMessageID, &rs.MentionCount, &rs.UpdatedAt); err != nil {
		return nil, err
	}
	return &rs, nil
}
