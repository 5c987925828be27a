package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ecto-chat/ecto-server/internal/events"
)

const eventsChannel = "ecto.gateway.events"

// envelope is the JSON structure published to the gateway events channel. TargetUserID, when set, restricts
// delivery to sessions belonging to that one user (used for mention notifications and DM fan-out) instead of the
// normal channel-permission-filtered broadcast.
type envelope struct {
	Type         string `json:"t"`
	Data         any    `json:"d"`
	TargetUserID string `json:"target_user_id,omitempty"`

	// SessionClose, when set, tells every gateway hub subscribed to the events channel to force-close every session
	// belonging to the named user instead of dispatching a normal event. The kick/ban cascade publishes this so the
	// disconnect reaches the user's sessions regardless of which process accepted each WebSocket connection.
	SessionClose *sessionCloseCommand `json:"session_close,omitempty"`
}

type sessionCloseCommand struct {
	UserID string `json:"user_id"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Publisher serialises dispatch events and publishes them to a Valkey pub/sub channel for consumption by the gateway.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new gateway event publisher.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: logger}
}

// Publish serialises the event as JSON and publishes it to the gateway events channel.
func (p *Publisher) Publish(ctx context.Context, eventType events.DispatchEvent, data any) error {
	return p.publish(ctx, envelope{Type: string(eventType), Data: data})
}

// PublishToUser publishes an event restricted to every session belonging to userID, bypassing the normal
// channel-permission filter. Used for mention notifications and per-server DM fan-out.
func (p *Publisher) PublishToUser(ctx context.Context, userID uuid.UUID, eventType events.DispatchEvent, data any) error {
	return p.publish(ctx, envelope{Type: string(eventType), Data: data, TargetUserID: userID.String()})
}

// PublishSessionClose broadcasts a command to force-close every gateway session belonging to userID, across every
// server process sharing this Valkey instance. Used by the member kick/ban cascade (spec: "within 1s, all sessions
// close with 4003").
func (p *Publisher) PublishSessionClose(ctx context.Context, userID uuid.UUID, code int, reason string) error {
	return p.publish(ctx, envelope{SessionClose: &sessionCloseCommand{UserID: userID.String(), Code: code, Reason: reason}})
}

func (p *Publisher) publish(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal gateway event: %w", err)
	}
	if err := p.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish gateway event: %w", err)
	}
	return nil
}
