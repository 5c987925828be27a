package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/member"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/ratelimit"
	"github.com/ecto-chat/ecto-server/internal/serverdm"
)

// ServerDMHandler serves the direct-message endpoints.
type ServerDMHandler struct {
	dms     serverdm.Repository
	members member.Repository
	gateway *gateway.Publisher
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// NewServerDMHandler creates a new direct-message handler.
func NewServerDMHandler(dms serverdm.Repository, members member.Repository, gw *gateway.Publisher, limiter *ratelimit.Limiter, logger zerolog.Logger) *ServerDMHandler {
	return &ServerDMHandler{dms: dms, members: members, gateway: gw, limiter: limiter, log: logger}
}

// OpenConversation handles POST /api/v1/dms/:userID, opening (or returning the existing) conversation with the
// target user. Fails if the target does not allow DMs or is the caller themself.
func (h *ServerDMHandler) OpenConversation(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	targetID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid user ID format")
	}
	if targetID == userID {
		return h.mapServerDMError(c, serverdm.ErrSelfConversation)
	}

	allowed, err := h.members.AllowsDMs(c, targetID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownUser, "User not found")
		}
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("allow_dms lookup failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return h.mapServerDMError(c, serverdm.ErrDMsDisabled)
	}

	conv, err := h.dms.Open(c, userID, targetID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("open conversation failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	return httputil.Success(c, toDMConversationModel(conv, userID))
}

// ListConversations handles GET /api/v1/dms.
func (h *ServerDMHandler) ListConversations(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	conversations, err := h.dms.ListConversations(c, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("list conversations failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.DMConversation, len(conversations))
	for i := range conversations {
		result[i] = toDMConversationModel(&conversations[i], userID)
	}
	return httputil.Success(c, result)
}

// ListMessages handles GET /api/v1/dms/:conversationID/messages.
func (h *ServerDMHandler) ListMessages(c fiber.Ctx) error {
	userID, conv, err := h.requireParticipant(c)
	if err != nil {
		return err
	}
	_ = userID

	var before *uuid.UUID
	if raw := c.Query("before"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid before cursor")
		}
		before = &id
	}
	rawLimit, _ := strconv.Atoi(c.Query("limit"))
	limit := serverdm.ClampLimit(rawLimit)

	messages, err := h.dms.ListMessages(c, conv.ID, before, limit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("list dm messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.DMMessage, len(messages))
	for i := range messages {
		result[i] = toDMMessageModel(&messages[i])
	}
	return httputil.Success(c, result)
}

// SendMessage handles POST /api/v1/dms/:conversationID/messages.
func (h *ServerDMHandler) SendMessage(c fiber.Ctx) error {
	userID, conv, err := h.requireParticipant(c)
	if err != nil {
		return err
	}

	if h.limiter != nil {
		allowed, _, err := h.limiter.Allow(c, "message_send", userID.String(), ratelimit.MessageSendLimit, 1)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "serverdm").Msg("rate limit check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if !allowed {
			return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, "You are sending messages too quickly")
		}
	}

	var body models.SendDMRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	content, err := serverdm.ValidateContent(body.Content)
	if err != nil {
		return h.mapServerDMError(c, err)
	}

	msg, err := h.dms.SendMessage(c, serverdm.SendMessageParams{
		ConversationID: conv.ID, AuthorID: userID, Content: content,
	})
	if err != nil {
		return h.mapServerDMError(c, err)
	}

	result := toDMMessageModel(msg)
	h.publishToParticipants(c, conv, events.ServerDMMessage, result)

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// EditMessage handles PATCH /api/v1/dms/messages/:messageID. Author only.
func (h *ServerDMHandler) EditMessage(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}

	existing, err := h.dms.GetMessageByID(c, messageID)
	if err != nil {
		return h.mapServerDMError(c, err)
	}
	if existing.AuthorID != userID {
		return h.mapServerDMError(c, serverdm.ErrNotAuthor)
	}

	var body models.EditDMRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	content, err := serverdm.ValidateContent(body.Content)
	if err != nil {
		return h.mapServerDMError(c, err)
	}

	msg, err := h.dms.EditMessage(c, messageID, content)
	if err != nil {
		return h.mapServerDMError(c, err)
	}

	conv, err := h.dms.GetConversation(c, msg.ConversationID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("load conversation for edit publish failed")
		return httputil.Success(c, toDMMessageModel(msg))
	}

	result := toDMMessageModel(msg)
	h.publishToParticipants(c, conv, events.ServerDMUpdate, result)
	return httputil.Success(c, result)
}

// DeleteMessage handles DELETE /api/v1/dms/messages/:messageID. Author only.
func (h *ServerDMHandler) DeleteMessage(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}

	existing, err := h.dms.GetMessageByID(c, messageID)
	if err != nil {
		return h.mapServerDMError(c, err)
	}
	if existing.AuthorID != userID {
		return h.mapServerDMError(c, serverdm.ErrNotAuthor)
	}

	if err := h.dms.DeleteMessage(c, messageID); err != nil {
		return h.mapServerDMError(c, err)
	}

	if conv, err := h.dms.GetConversation(c, existing.ConversationID); err == nil {
		h.publishToParticipants(c, conv, events.ServerDMDelete, models.DMMessageDeleteData{
			ID: messageID.String(), ConversationID: existing.ConversationID.String(),
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// AddReaction handles PUT /api/v1/dms/messages/:messageID/reactions/:emoji.
func (h *ServerDMHandler) AddReaction(c fiber.Ctx) error {
	return h.react(c, true)
}

// RemoveReaction handles DELETE /api/v1/dms/messages/:messageID/reactions/:emoji.
func (h *ServerDMHandler) RemoveReaction(c fiber.Ctx) error {
	return h.react(c, false)
}

func (h *ServerDMHandler) react(c fiber.Ctx, add bool) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}
	emoji := c.Params("emoji")

	msg, err := h.dms.GetMessageByID(c, messageID)
	if err != nil {
		return h.mapServerDMError(c, err)
	}
	conv, err := h.dms.GetConversation(c, msg.ConversationID)
	if err != nil {
		return h.mapServerDMError(c, err)
	}
	if !conv.HasParticipant(userID) {
		return h.mapServerDMError(c, serverdm.ErrNotParticipant)
	}

	var count int
	action := "remove"
	if add {
		count, err = h.dms.AddReaction(c, messageID, userID, emoji)
		action = "add"
	} else {
		count, err = h.dms.RemoveReaction(c, messageID, userID, emoji)
	}
	if err != nil {
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("dm reaction update failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	payload := models.DMReactionUpdateData{
		ConversationID: conv.ID.String(), MessageID: messageID.String(),
		Emoji: emoji, UserID: userID.String(), Action: action, Count: count,
	}
	h.publishToParticipants(c, conv, events.ServerDMReactionUpdate, payload)

	return c.SendStatus(fiber.StatusNoContent)
}

// Typing handles POST /api/v1/dms/:conversationID/typing, an ephemeral (not persisted) notification to the other
// participant.
func (h *ServerDMHandler) Typing(c fiber.Ctx) error {
	userID, conv, err := h.requireParticipant(c)
	if err != nil {
		return err
	}

	if h.limiter != nil {
		allowed, _, err := h.limiter.Allow(c, "dm_typing", userID.String(), ratelimit.TypingIndicatorLimit, 1)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "serverdm").Msg("rate limit check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if !allowed {
			return c.SendStatus(fiber.StatusNoContent)
		}
	}

	if h.gateway != nil {
		other := conv.OtherParticipant(userID)
		payload := models.DMTypingData{ConversationID: conv.ID.String(), UserID: userID.String()}
		if err := h.gateway.PublishToUser(c, other, events.ServerDMTyping, payload); err != nil {
			h.log.Warn().Err(err).Msg("Failed to publish dm typing")
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkRead handles PUT /api/v1/dms/:conversationID/read.
func (h *ServerDMHandler) MarkRead(c fiber.Ctx) error {
	userID, conv, err := h.requireParticipant(c)
	if err != nil {
		return err
	}

	var body models.MarkDMReadRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	lastReadID, err := uuid.Parse(body.LastReadMessageID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid last_read_message_id")
	}

	if err := h.dms.MarkRead(c, userID, conv.ID, lastReadID); err != nil {
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("mark dm read failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// requireParticipant resolves the authenticated user and the :conversationID route param, failing unless the user
// is one of its two participants.
func (h *ServerDMHandler) requireParticipant(c fiber.Ctx) (uuid.UUID, *serverdm.Conversation, error) {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return uuid.UUID{}, nil, httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	conversationID, err := uuid.Parse(c.Params("conversationID"))
	if err != nil {
		return uuid.UUID{}, nil, httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid conversation ID format")
	}
	conv, err := h.dms.GetConversation(c, conversationID)
	if err != nil {
		return uuid.UUID{}, nil, h.mapServerDMError(c, err)
	}
	if !conv.HasParticipant(userID) {
		return uuid.UUID{}, nil, h.mapServerDMError(c, serverdm.ErrNotParticipant)
	}
	return userID, conv, nil
}

func (h *ServerDMHandler) publishToParticipants(c fiber.Ctx, conv *serverdm.Conversation, eventType events.DispatchEvent, data any) {
	if h.gateway == nil {
		return
	}
	go func() {
		if err := h.gateway.PublishToUser(c, conv.UserAID, eventType, data); err != nil {
			h.log.Warn().Err(err).Msg("Gateway publish failed")
		}
		if err := h.gateway.PublishToUser(c, conv.UserBID, eventType, data); err != nil {
			h.log.Warn().Err(err).Msg("Gateway publish failed")
		}
	}()
}

func toDMConversationModel(c *serverdm.Conversation, viewerID uuid.UUID) models.DMConversation {
	var lastMessageAt *string
	if c.LastMessageAt != nil {
		s := c.LastMessageAt.Format(time.RFC3339)
		lastMessageAt = &s
	}
	return models.DMConversation{
		ID:            c.ID.String(),
		RecipientID:   c.OtherParticipant(viewerID).String(),
		LastMessageAt: lastMessageAt,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	}
}

func toDMMessageModel(m *serverdm.Message) models.DMMessage {
	var editedAt *string
	if m.EditedAt != nil {
		s := m.EditedAt.Format(time.RFC3339)
		editedAt = &s
	}
	return models.DMMessage{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		AuthorID:       m.AuthorID.String(),
		Content:        m.Content,
		Reactions:      []models.Reaction{},
		EditedAt:       editedAt,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *ServerDMHandler) mapServerDMError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, serverdm.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownDMConversation, "Conversation not found")
	case errors.Is(err, serverdm.ErrMessageNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownMessage, "Message not found")
	case errors.Is(err, serverdm.ErrSelfConversation):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, serverdm.ErrDMsDisabled):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, err.Error())
	case errors.Is(err, serverdm.ErrNotParticipant):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, err.Error())
	case errors.Is(err, serverdm.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, err.Error())
	case errors.Is(err, serverdm.ErrEmptyContent), errors.Is(err, serverdm.ErrContentTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "serverdm").Msg("unhandled serverdm service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
