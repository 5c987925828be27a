package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ecto-chat/ecto-server/internal/channel"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permissions"
	"github.com/ecto-chat/ecto-server/internal/voice"
)

// voiceCommandTimeout bounds the work done for a single voice command, including the permission lookup.
const voiceCommandTimeout = 10 * time.Second

// handleVoiceCommand processes one opcode Voice frame from an identified client. Commands from a single session
// arrive here strictly in order via the client's voice queue; commands from different sessions run concurrently.
func (h *Hub) handleVoiceCommand(c *Client, data json.RawMessage) {
	if h.voice == nil {
		h.sendVoiceError(c, 8003, "voice is not available on this server")
		return
	}

	var cmd models.VoiceCommandData
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.sendVoiceError(c, 8003, "invalid voice payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), voiceCommandTimeout)
	defer cancel()

	userID := c.UserID()

	var err error
	switch cmd.Cmd {
	case models.VoiceCmdJoin:
		err = h.voiceJoin(ctx, c, cmd)
	case models.VoiceCmdLeave:
		err = h.voiceLeave(ctx, userID)
	case models.VoiceCmdConnect:
		err = h.voice.ConnectTransport(ctx, userID, cmd.TransportID, cmd.DTLSParameters)
	case models.VoiceCmdProduce:
		err = h.voiceProduce(ctx, c, cmd)
	case models.VoiceCmdProduceStop:
		err = h.voiceProduceStop(ctx, userID, cmd.ProducerID)
	case models.VoiceCmdProducerPause:
		err = h.voice.PauseProducer(ctx, userID, cmd.ProducerID)
	case models.VoiceCmdProducerResume:
		err = h.voice.ResumeProducer(ctx, userID, cmd.ProducerID)
	case models.VoiceCmdConsumerResume:
		err = h.voice.ResumeConsumer(ctx, userID, cmd.ConsumerID)
	case models.VoiceCmdMute:
		err = h.voiceMute(ctx, userID, cmd)
	case models.VoiceCmdSetQuality:
		err = h.voice.SetConsumerLayers(ctx, userID, cmd.ConsumerID, cmd.SpatialLayer, cmd.TemporalLayer)
	default:
		h.sendVoiceError(c, 8003, "unknown voice command")
		return
	}
	if err != nil {
		h.sendVoiceError(c, voice.TaxonomyCode(err), err.Error())
	}
}

// voiceJoin validates the target channel and the caller's CONNECT_VOICE permission, then joins and replies with
// router capabilities, both transports, and a new_consumer offer per producer already live in the channel.
func (h *Hub) voiceJoin(ctx context.Context, c *Client, cmd models.VoiceCommandData) error {
	channelID, err := uuid.Parse(cmd.ChannelID)
	if err != nil {
		return voice.ErrNotVoiceChannel
	}
	userID := c.UserID()

	if h.channels != nil {
		ch, chErr := h.channels.GetByID(ctx, channelID)
		if chErr != nil {
			return voice.ErrNotVoiceChannel
		}
		if ch.Type != channel.TypeVoice {
			return voice.ErrNotVoiceChannel
		}
	}
	if h.resolver != nil {
		ok, permErr := h.resolver.HasPermission(ctx, userID, channelID, permissions.ConnectVoice)
		if permErr != nil {
			return voice.ErrRouterUnavailable
		}
		if !ok {
			return voice.ErrNoConnectPermission
		}
	}

	res, err := h.voice.Join(ctx, c.SessionID(), userID, channelID, cmd.RTPCapabilities)
	if err != nil {
		return err
	}

	h.sendVoiceEvent(c, events.VoiceRouterCapabilities, models.VoiceRouterCapabilitiesData{
		ChannelID:       res.ChannelID.String(),
		RTPCapabilities: res.RouterCapabilities,
	})
	h.sendVoiceEvent(c, events.VoiceTransportCreated, models.VoiceTransportCreatedData{
		Send: models.VoiceTransport{ID: res.Send.ID, Parameters: res.Send.Parameters},
		Recv: models.VoiceTransport{ID: res.Recv.ID, Parameters: res.Recv.Parameters},
	})
	for _, offer := range res.Consumers {
		h.sendVoiceEvent(c, events.VoiceNewConsumer, consumerOfferToModel(offer))
	}

	if res.Rejoined {
		return nil
	}
	if res.PreviousChannelID != nil {
		h.publishVoiceState(ctx, voice.State{UserID: userID, ChannelID: *res.PreviousChannelID}, true)
	}
	h.publishVoiceState(ctx, res.State, false)
	return nil
}

func (h *Hub) voiceLeave(ctx context.Context, userID uuid.UUID) error {
	res, err := h.voice.Leave(ctx, userID)
	if err != nil {
		return err
	}
	h.broadcastVoiceTeardown(ctx, userID, res)
	return nil
}

func (h *Hub) voiceProduce(ctx context.Context, c *Client, cmd models.VoiceCommandData) error {
	kind := voice.Kind(cmd.Kind)
	if kind != voice.KindAudio && kind != voice.KindVideo {
		return errors.New("invalid media kind")
	}
	userID := c.UserID()

	res, err := h.voice.Produce(ctx, userID, cmd.TransportID, kind, cmd.RTPParameters, voice.Source(cmd.Source))
	if err != nil {
		return err
	}

	h.sendVoiceEvent(c, events.VoiceProduced, models.VoiceProducedData{ProducerID: res.ProducerID})
	for _, offer := range res.Offers {
		h.sendVoiceEventToSession(offer.TargetSessionID, events.VoiceNewConsumer, consumerOfferToModel(offer))
	}
	return nil
}

func (h *Hub) voiceProduceStop(ctx context.Context, userID uuid.UUID, producerID string) error {
	res, err := h.voice.StopProduce(ctx, userID, producerID)
	if err != nil {
		return err
	}
	h.publishVoiceProducerClosed(ctx, userID, res.ProducerID, res.ChannelID)
	return nil
}

func (h *Hub) voiceMute(ctx context.Context, userID uuid.UUID, cmd models.VoiceCommandData) error {
	state, err := h.voice.SetMute(ctx, userID, cmd.SelfMute, cmd.SelfDeaf)
	if err != nil {
		return err
	}
	h.publishVoiceState(ctx, *state, false)
	return nil
}

// teardownVoiceForSession removes any voice state the disconnecting session owned. A newer session of the same
// user keeps its voice state untouched.
func (h *Hub) teardownVoiceForSession(ctx context.Context, userID uuid.UUID, sessionID string) {
	if h.voice == nil {
		return
	}
	if res, left := h.voice.LeaveSession(ctx, userID, sessionID); left {
		h.broadcastVoiceTeardown(ctx, userID, res)
	}
}

// teardownVoiceForUser unconditionally removes the user's voice state. Used by the kick/ban cascade.
func (h *Hub) teardownVoiceForUser(ctx context.Context, userID uuid.UUID) {
	if h.voice == nil {
		return
	}
	if res, removed := h.voice.RemoveUser(ctx, userID); removed {
		h.broadcastVoiceTeardown(ctx, userID, res)
	}
}

// broadcastVoiceTeardown announces a completed leave: one producer_closed per closed producer, then the state
// removal itself.
func (h *Hub) broadcastVoiceTeardown(ctx context.Context, userID uuid.UUID, res *voice.LeaveResult) {
	for _, producerID := range res.ClosedProducers {
		h.publishVoiceProducerClosed(ctx, userID, producerID, res.ChannelID)
	}
	h.publishVoiceState(ctx, voice.State{UserID: userID, ChannelID: res.ChannelID}, true)
}

func (h *Hub) publishVoiceProducerClosed(ctx context.Context, userID uuid.UUID, producerID string, channelID uuid.UUID) {
	if h.publisher == nil {
		return
	}
	data := models.VoiceProducerClosedData{
		ProducerID: producerID,
		UserID:     userID.String(),
		ChannelID:  channelID.String(),
	}
	if err := h.publisher.Publish(ctx, events.VoiceProducerClosed, data); err != nil {
		h.log.Warn().Err(err).Str("producer_id", producerID).Msg("Failed to publish producer closed")
	}
}

func (h *Hub) publishVoiceState(ctx context.Context, s voice.State, removed bool) {
	if h.publisher == nil {
		return
	}
	data := s.ToModel()
	data.Removed = removed
	if err := h.publisher.Publish(ctx, events.VoiceStateUpdate, data); err != nil {
		h.log.Warn().Err(err).Str("user_id", data.UserID).Msg("Failed to publish voice state update")
	}
}

// sendVoiceEvent delivers a voice signaling event directly to one client. Voice signaling is session-scoped and
// useless after a reconnect, so it bypasses the replay buffer the same way typing indicators do.
func (h *Hub) sendVoiceEvent(c *Client, eventType events.DispatchEvent, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(eventType)).Msg("Failed to marshal voice event")
		return
	}
	frame, err := NewEphemeralDispatchFrame(eventType, raw)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(eventType)).Msg("Failed to build voice event frame")
		return
	}
	c.enqueue(frame)
}

// sendVoiceEventToSession delivers a voice signaling event to another user's session by ID, if it is still
// connected to this process. Voice sessions are process-local, so no pub/sub hop is needed.
func (h *Hub) sendVoiceEventToSession(sessionID string, eventType events.DispatchEvent, data any) {
	h.mu.RLock()
	target := h.clients[sessionID]
	h.mu.RUnlock()
	if target == nil {
		return
	}
	h.sendVoiceEvent(target, eventType, data)
}

func (h *Hub) sendVoiceError(c *Client, code int, message string) {
	h.sendVoiceEvent(c, events.VoiceError, models.VoiceErrorData{Code: code, Message: message})
}

func consumerOfferToModel(offer voice.ConsumerOffer) models.VoiceNewConsumerData {
	return models.VoiceNewConsumerData{
		ConsumerID:    offer.ConsumerID,
		ProducerID:    offer.ProducerID,
		UserID:        offer.ProducerUser.String(),
		Kind:          string(offer.Kind),
		Source:        string(offer.Source),
		RTPParameters: offer.RTPParameters,
	}
}
