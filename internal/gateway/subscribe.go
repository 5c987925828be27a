package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permissions"
)

// handleSubscription processes an opcode Subscribe/Unsubscribe payload. Subscribing requires READ_MESSAGES on the
// channel; a rejected subscribe answers with SUBSCRIBE_REJECTED but never closes the session. Unsubscribe always
// succeeds.
func (h *Hub) handleSubscription(c *Client, data json.RawMessage, subscribe bool) {
	var req models.SubscribeData
	if err := json.Unmarshal(data, &req); err != nil {
		c.closeWithCode(CloseDecodeError, "invalid subscribe payload")
		return
	}
	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		c.closeWithCode(CloseDecodeError, "invalid channel ID")
		return
	}

	ack := models.SubscribeData{ChannelID: channelID.String()}

	if !subscribe {
		c.removeSubscription(channelID)
		h.sendAck(c, events.Unsubscribed, ack)
		return
	}

	if h.resolver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, permErr := h.resolver.HasPermission(ctx, c.UserID(), channelID, permissions.ViewChannels)
		if permErr != nil {
			h.log.Warn().Err(permErr).Stringer("channel_id", channelID).Msg("Subscribe permission check failed")
			h.sendAck(c, events.SubscribeRejected, ack)
			return
		}
		if !ok {
			h.sendAck(c, events.SubscribeRejected, ack)
			return
		}
	}

	c.addSubscription(channelID)
	h.sendAck(c, events.Subscribed, ack)
}

// sendAck delivers a subscription acknowledgement directly to the session, outside the replay buffer.
func (h *Hub) sendAck(c *Client, eventType events.DispatchEvent, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(eventType)).Msg("Failed to marshal ack")
		return
	}
	frame, err := NewEphemeralDispatchFrame(eventType, raw)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(eventType)).Msg("Failed to build ack frame")
		return
	}
	c.enqueue(frame)
}
