package auditlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, actor_id, action, target_type, target_id, details, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed audit log repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Record(ctx context.Context, entry Entry) error {
	var details []byte
	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = encoded
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (actor_id, action, target_type, target_id, details)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ActorID, string(entry.Action), entry.TargetType, entry.TargetID, details,
	)
	if err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, before *uuid.UUID, limit int) ([]Entry, error) {
	var rows pgx.Rows
	var err error
	if before != nil {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM audit_log WHERE (created_at, id) < (SELECT created_at, id FROM audit_log WHERE id = $1)
			 ORDER BY created_at DESC, id DESC LIMIT $2`, selectColumns), *before, limit)
	} else {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`, selectColumns), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var details []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.TargetType, &e.TargetID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		e.Action = Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}
