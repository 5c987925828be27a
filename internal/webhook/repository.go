package webhook

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, channel_id, creator_id, name, avatar_url, token`

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength   = 64
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed webhook repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Webhook, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate webhook token: %w", err)
	}

	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO webhooks (channel_id, creator_id, name, avatar_url, token)
		 VALUES ($1, $2, $3, $4, $5) RETURNING %s`, selectColumns),
		params.ChannelID, params.CreatorID, params.Name, params.AvatarURL, token,
	)
	wh, err := scanWebhook(row)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return wh, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM webhooks WHERE id = $1", selectColumns), id)
	wh, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query webhook by id: %w", err)
	}
	return wh, nil
}

func (r *PGRepository) GetByIDAndToken(ctx context.Context, id uuid.UUID, token string) (*Webhook, error) {
	wh, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wh.Token != token {
		return nil, ErrInvalidToken
	}
	return wh, nil
}

func (r *PGRepository) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Webhook, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM webhooks WHERE channel_id = $1 ORDER BY created_at ASC", selectColumns),
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhooks by channel: %w", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, *wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return webhooks, nil
}

func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) RegenerateToken(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate webhook token: %w", err)
	}
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE webhooks SET token = $1, updated_at = NOW() WHERE id = $2 RETURNING %s", selectColumns),
		token, id,
	)
	wh, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("regenerate webhook token: %w", err)
	}
	return wh, nil
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var wh Webhook
	if err := row.Scan(&wh.ID, &wh.ChannelID, &wh.CreatorID, &wh.Name, &wh.AvatarURL, &wh.Token); err != nil {
		return nil, err
	}
	return &wh, nil
}

// generateToken produces a cryptographically random alphanumeric string of tokenLength characters.
func generateToken() (string, error) {
	alphabetLen := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, tokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
