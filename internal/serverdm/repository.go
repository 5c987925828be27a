package serverdm

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

const conversationColumns = `id, user_a_id, user_b_id, last_message_at, created_at`
const messageColumns = `id, conversation_id, author_id, content, deleted, edited_at, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed direct message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Open(ctx context.Context, userA, userB uuid.UUID) (*Conversation, error) {
	a, b := CanonicalPair(userA, userB)
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO dm_conversations (user_a_id, user_b_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_a_id, user_b_id) DO UPDATE SET user_a_id = EXCLUDED.user_a_id
		 RETURNING %s`, conversationColumns),
		a, b,
	)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	return conv, nil
}

func (r *PGRepository) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM dm_conversations
		 WHERE user_a_id = $1 OR user_b_id = $1
		 ORDER BY COALESCE(last_message_at, created_at) DESC`, conversationColumns),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

func (r *PGRepository) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM dm_conversations WHERE id = $1", conversationColumns), id,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

func (r *PGRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM dm_messages
			 WHERE conversation_id = $1 AND deleted = false
			   AND (created_at, id) < (SELECT created_at, id FROM dm_messages WHERE id = $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`, messageColumns),
			conversationID, *before, limit,
		)
	} else {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM dm_messages
			 WHERE conversation_id = $1 AND deleted = false
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`, messageColumns),
			conversationID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query dm messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dm message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dm messages: %w", err)
	}
	return messages, nil
}

func (r *PGRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM dm_messages WHERE id = $1 AND deleted = false", messageColumns), id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("query dm message: %w", err)
	}
	return msg, nil
}

func (r *PGRepository) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	var result *Message

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO dm_messages (conversation_id, author_id, content)
			 VALUES ($1, $2, $3) RETURNING %s`, messageColumns),
			params.ConversationID, params.AuthorID, params.Content,
		)
		msg, err := scanMessage(row)
		if err != nil {
			return fmt.Errorf("insert dm message: %w", err)
		}

		if _, err := tx.Exec(ctx,
			"UPDATE dm_conversations SET last_message_at = $1 WHERE id = $2",
			msg.CreatedAt, params.ConversationID,
		); err != nil {
			return fmt.Errorf("bump conversation last_message_at: %w", err)
		}

		result = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PGRepository) EditMessage(ctx context.Context, id uuid.UUID, content string) (*Message, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`UPDATE dm_messages SET content = $1, edited_at = NOW()
		 WHERE id = $2 AND deleted = false RETURNING %s`, messageColumns),
		content, id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("edit dm message: %w", err)
	}
	return msg, nil
}

func (r *PGRepository) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE dm_messages SET deleted = true WHERE id = $1 AND deleted = false", id,
	)
	if err != nil {
		return fmt.Errorf("delete dm message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *PGRepository) AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (int, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dm_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji,
	)
	if err != nil {
		return 0, fmt.Errorf("insert dm reaction: %w", err)
	}
	return r.reactionCount(ctx, messageID, emoji)
}

func (r *PGRepository) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (int, error) {
	_, err := r.db.Exec(ctx,
		"DELETE FROM dm_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageID, userID, emoji,
	)
	if err != nil {
		return 0, fmt.Errorf("delete dm reaction: %w", err)
	}
	return r.reactionCount(ctx, messageID, emoji)
}

func (r *PGRepository) reactionCount(ctx context.Context, messageID uuid.UUID, emoji string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM dm_reactions WHERE message_id = $1 AND emoji = $2",
		messageID, emoji,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count dm reactions: %w", err)
	}
	return count, nil
}

func (r *PGRepository) MarkRead(ctx context.Context, userID, conversationID, lastReadMessageID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dm_read_states (user_id, conversation_id, last_read_message_id, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, conversation_id)
		 DO UPDATE SET last_read_message_id = EXCLUDED.last_read_message_id, updated_at = NOW()`,
		userID, conversationID, lastReadMessageID,
	)
	if err != nil {
		return fmt.Errorf("mark dm conversation read: %w", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.UserAID, &c.UserBID, &c.LastMessageAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.AuthorID, &m.Content, &m.Deleted, &m.EditedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
