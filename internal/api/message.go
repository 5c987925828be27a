package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apierrors "github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/auditlog"
	"github.com/ecto-chat/ecto-server/internal/channel"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permissions"

	"github.com/ecto-chat/ecto-server/internal/attachment"
	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/media"
	"github.com/ecto-chat/ecto-server/internal/message"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/ratelimit"
	"github.com/ecto-chat/ecto-server/internal/readstate"
	"github.com/ecto-chat/ecto-server/internal/server"
)

// MessageHandler serves message endpoints.
type MessageHandler struct {
	messages       message.Repository
	attachments    attachment.Repository
	channels       channel.Repository
	readStates     readstate.Repository
	servers        server.Repository
	audit          auditlog.Repository
	storage        media.StorageProvider
	resolver       *permission.Resolver
	gateway        *gateway.Publisher
	limiter        *ratelimit.Limiter
	maxContent     int
	maxAttachments int
	log            zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	messages message.Repository,
	attachments attachment.Repository,
	channels channel.Repository,
	readStates readstate.Repository,
	servers server.Repository,
	audit auditlog.Repository,
	storage media.StorageProvider,
	resolver *permission.Resolver,
	gw *gateway.Publisher,
	limiter *ratelimit.Limiter,
	maxContent int,
	maxAttachments int,
	logger zerolog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messages:       messages,
		attachments:    attachments,
		channels:       channels,
		readStates:     readStates,
		servers:        servers,
		audit:          audit,
		storage:        storage,
		resolver:       resolver,
		gateway:        gw,
		limiter:        limiter,
		maxContent:     maxContent,
		maxAttachments: maxAttachments,
		log:            logger,
	}
}

// ListMessages handles GET /api/v1/channels/:channelID/messages. When pinned_only=true is given, only pinned
// messages are returned (spec §4.3 pin invariant).
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}

	var messages []message.Message
	if c.Query("pinned_only") == "true" {
		messages, err = h.messages.ListPinned(c, channelID)
	} else {
		var before *uuid.UUID
		if raw := c.Query("before"); raw != "" {
			id, perr := uuid.Parse(raw)
			if perr != nil {
				return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid before parameter")
			}
			before = &id
		}
		rawLimit, _ := strconv.Atoi(c.Query("limit"))
		limit := message.ClampLimit(rawLimit)
		messages, err = h.messages.List(c, channelID, before, limit)
	}
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	// Batch-load attachments for all returned messages.
	messageIDs := make([]uuid.UUID, len(messages))
	for i := range messages {
		messageIDs[i] = messages[i].ID
	}
	attachmentMap, err := h.attachments.ListByMessages(c, messageIDs)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list message attachments failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.Message, len(messages))
	for i := range messages {
		result[i] = h.toMessageModel(&messages[i], attachmentMap[messages[i].ID])
	}
	return httputil.Success(c, result)
}

// CreateMessage handles POST /api/v1/channels/:channelID/messages.
func (h *MessageHandler) CreateMessage(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}

	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	ch, err := h.channels.GetByID(c, channelID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownChannel, "Channel not found")
	}
	if ch.Type == channel.TypePage {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.WrongChannelType, "Messages cannot be sent in page channels")
	}

	if h.limiter != nil {
		allowed, _, err := h.limiter.Allow(c, "message_send", userID.String(), ratelimit.MessageSendLimit, 1)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "message").Msg("rate limit check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if !allowed {
			return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, "You are sending messages too quickly")
		}
	}

	// Slowmode: a non-moderator author must wait slowmode_seconds between their own messages in this channel.
	if ch.SlowmodeSeconds > 0 {
		canBypass, err := h.resolver.HasPermission(c, userID, channelID, permissions.ManageMessages|permissions.ManageChannels)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "message").Msg("slowmode permission check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if !canBypass {
			last, err := h.messages.LastByAuthor(c, channelID, userID)
			if err != nil && !errors.Is(err, message.ErrNotFound) {
				h.log.Error().Err(err).Str("handler", "message").Msg("slowmode lookup failed")
				return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
			}
			if last != nil {
				elapsed := time.Since(last.CreatedAt)
				window := time.Duration(ch.SlowmodeSeconds) * time.Second
				if elapsed < window {
					retryAfter := window - elapsed
					return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.SlowmodeActive,
						fmt.Sprintf("Slowmode is active, retry after %.0fs", retryAfter.Seconds()))
				}
			}
		}
	}

	var body models.CreateMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	hasAttachments := len(body.AttachmentIDs) > 0

	// Validate attachment count.
	if len(body.AttachmentIDs) > h.maxAttachments {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError,
			fmt.Sprintf("Too many attachments (maximum %d)", h.maxAttachments))
	}

	// Parse attachment IDs upfront.
	var attachmentIDs []uuid.UUID
	for _, raw := range body.AttachmentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid attachment_ids format")
		}
		attachmentIDs = append(attachmentIDs, id)
	}

	// Content is required only when no attachments are provided.
	content, err := message.ValidateContent(body.Content, h.maxContent)
	if err != nil {
		if errors.Is(err, message.ErrEmptyContent) && hasAttachments {
			content = ""
		} else {
			return h.mapMessageError(c, err)
		}
	}

	var replyToID *uuid.UUID
	if body.ReplyToID != nil {
		parsed, err := uuid.Parse(*body.ReplyToID)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid reply_to_id format")
		}
		replyToID = &parsed
	}

	// MENTION_EVERYONE gates whether @everyone/role mentions are honored; absent the permission the raw text
	// stays in content but the flags and notification side effects are suppressed (spec §4.3).
	mentions := message.ParseMentions(content)
	hasMentionPerm, err := h.resolver.HasPermission(c, userID, channelID, permissions.MentionEveryone)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("mention permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !hasMentionPerm {
		mentions.Everyone = false
		mentions.Roles = nil
	}

	msg, err := h.messages.Create(c, message.CreateParams{
		ChannelID:       channelID,
		AuthorID:        userID,
		Content:         content,
		Type:            message.TypeDefault,
		ReplyToID:       replyToID,
		MentionEveryone: mentions.Everyone,
		MentionRoles:    mentions.Roles,
		MentionUsers:    mentions.Users,
	})
	if err != nil {
		return h.mapMessageError(c, err)
	}

	// Link pending attachments to the new message.
	var linked []attachment.Attachment
	if len(attachmentIDs) > 0 {
		linked, err = h.attachments.LinkToMessage(c, attachmentIDs, msg.ID, userID)
		if err != nil {
			return mapAttachmentError(c, err)
		}
	}

	result := h.toMessageModel(msg, linked)

	h.notifyMentions(c, msg, mentions, userID)

	// Best-effort gateway event publish.
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.MessageCreate, result); err != nil {
				h.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// notifyMentions bumps the unread-mention counter and dispatches mention.create for every distinct notified
// recipient, excluding the author (spec §4.3). Membership fan-out for @everyone is intentionally not expanded
// here: @everyone notifies by presence in the channel, not by per-user counters, matching the teacher's
// broadcast-first dispatch model.
func (h *MessageHandler) notifyMentions(c fiber.Ctx, msg *message.Message, mentions message.Mentions, authorID uuid.UUID) {
	if h.readStates == nil {
		return
	}
	notified := map[uuid.UUID]bool{}
	for _, uid := range mentions.Users {
		if uid == authorID || notified[uid] {
			continue
		}
		notified[uid] = true
		go func(recipient uuid.UUID) {
			if err := h.readStates.IncrementMention(c, recipient, msg.ChannelID); err != nil {
				h.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("increment mention count failed")
				return
			}
			if h.gateway != nil {
				if err := h.gateway.PublishToUser(c, recipient, events.MentionCreate, map[string]string{
					"message_id": msg.ID.String(),
					"channel_id": msg.ChannelID.String(),
				}); err != nil {
					h.log.Warn().Err(err).Msg("mention dispatch failed")
				}
			}
		}(uid)
	}
}

// EditMessage handles PATCH /api/v1/messages/:messageID.
func (h *MessageHandler) EditMessage(c fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}

	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body models.UpdateMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	content, err := message.ValidateContent(body.Content, h.maxContent)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	existing, err := h.messages.GetByID(c, messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	if existing.AuthorID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You can only edit your own messages")
	}

	msg, err := h.messages.Update(c, messageID, content)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	attachments, err := h.attachments.ListByMessage(c, msg.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list message attachments failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := h.toMessageModel(msg, attachments)

	// Best-effort gateway event publish.
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.MessageUpdate, result); err != nil {
				h.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.Success(c, result)
}

// DeleteMessage handles DELETE /api/v1/messages/:messageID.
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}

	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	existing, err := h.messages.GetByID(c, messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	// The author can always delete their own messages. Other users need the ManageMessages permission on the channel,
	// and that path is audit-logged per spec §4.3.
	moderated := false
	if existing.AuthorID != userID {
		allowed, err := h.resolver.HasPermission(c, userID, existing.ChannelID, permissions.ManageMessages)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "message").Msg("permission check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if !allowed {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions,
				"You do not have permission to delete this message")
		}
		moderated = true
	}

	if err := h.messages.SoftDelete(c, messageID); err != nil {
		return h.mapMessageError(c, err)
	}

	if moderated && h.audit != nil {
		go func() {
			if err := h.audit.Record(c, auditlog.Entry{
				ActorID:    userID,
				Action:     auditlog.ActionMessageDelete,
				TargetID:   &messageID,
				TargetType: "message",
			}); err != nil {
				h.log.Warn().Err(err).Msg("audit log write failed")
			}
		}()
	}

	// Best-effort gateway event publish.
	if h.gateway != nil {
		go func() {
			deletePayload := models.MessageDeleteData{
				ID:        messageID.String(),
				ChannelID: existing.ChannelID.String(),
			}
			if err := h.gateway.Publish(c, events.MessageDelete, deletePayload); err != nil {
				h.log.Warn().Err(err).Str("message_id", messageID.String()).Msg("Gateway publish failed")
			}
		}()
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Pin handles PUT /api/v1/messages/:messageID/pin. Requires MANAGE_MESSAGES. When pinning (not unpinning) and the
// server has show_system_messages enabled, a PIN_ADDED system message is created in the same channel (spec §4.3).
func (h *MessageHandler) Pin(c fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body models.PinRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	existing, err := h.messages.GetByID(c, messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	allowed, err := h.resolver.HasPermission(c, userID, existing.ChannelID, permissions.ManageMessages)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("pin permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions,
			"You do not have permission to pin messages in this channel")
	}

	msg, err := h.messages.SetPinned(c, messageID, body.Pinned)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	attachments, err := h.attachments.ListByMessage(c, msg.ID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list message attachments failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	result := h.toMessageModel(msg, attachments)

	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.MessageUpdate, result); err != nil {
				h.log.Warn().Err(err).Msg("gateway publish failed")
			}
		}()
	}

	if body.Pinned && h.servers != nil {
		cfg, err := h.servers.Get(c)
		if err == nil && cfg.ShowSystemMessages {
			pinText := messageID.String()
			sysMsg, err := h.messages.Create(c, message.CreateParams{
				ChannelID: existing.ChannelID,
				AuthorID:  userID,
				Content:   pinText,
				Type:      message.TypePinAdded,
				ReplyToID: &messageID,
			})
			if err == nil && h.gateway != nil {
				sysResult := h.toMessageModel(sysMsg, nil)
				go func() {
					if err := h.gateway.Publish(c, events.MessageCreate, sysResult); err != nil {
						h.log.Warn().Err(err).Msg("gateway publish failed")
					}
				}()
			}
		}
	}

	return httputil.Success(c, result)
}

// AddReaction handles PUT /api/v1/messages/:messageID/reactions/:emoji. Requires ADD_REACTIONS. Adding an
// already-present reaction is a no-op (idempotent per spec §4.3's unique constraint).
func (h *MessageHandler) AddReaction(c fiber.Ctx) error {
	return h.react(c, "add")
}

// RemoveReaction handles DELETE /api/v1/messages/:messageID/reactions/:emoji.
func (h *MessageHandler) RemoveReaction(c fiber.Ctx) error {
	return h.react(c, "remove")
}

func (h *MessageHandler) react(c fiber.Ctx, action string) error {
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID format")
	}
	emoji := c.Params("emoji")
	if emoji == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Emoji is required")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	existing, err := h.messages.GetByID(c, messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	requiredPerm := permissions.ViewChannels
	if action == "add" {
		requiredPerm |= permissions.AddReactions
	}
	allowed, err := h.resolver.HasPermission(c, userID, existing.ChannelID, requiredPerm)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("reaction permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions,
			"You do not have permission to react to this message")
	}

	var count int
	if action == "add" {
		count, err = h.messages.AddReaction(c, messageID, userID, emoji)
	} else {
		count, err = h.messages.RemoveReaction(c, messageID, userID, emoji)
	}
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("reaction update failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	payload := models.ReactionUpdateData{
		ChannelID: existing.ChannelID.String(),
		MessageID: messageID.String(),
		Emoji:     emoji,
		UserID:    userID.String(),
		Action:    action,
		Count:     count,
	}
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.MessageReactionUpdate, payload); err != nil {
				h.log.Warn().Err(err).Msg("gateway publish failed")
			}
		}()
	}

	return httputil.Success(c, payload)
}

// toMessageModel converts the internal message type to the protocol response type.
func (h *MessageHandler) toMessageModel(m *message.Message, attachments []attachment.Attachment) models.Message {
	var replyToID *string
	if m.ReplyToID != nil {
		s := m.ReplyToID.String()
		replyToID = &s
	}
	var editedAt *string
	if m.EditedAt != nil {
		s := m.EditedAt.Format(time.RFC3339)
		editedAt = &s
	}
	var webhookID *string
	if m.WebhookID != nil {
		s := m.WebhookID.String()
		webhookID = &s
	}

	modelAttachments := make([]models.Attachment, len(attachments))
	for i := range attachments {
		modelAttachments[i] = toAttachmentModel(&attachments[i], h.storage)
	}

	roleMentions := make([]string, len(m.MentionRoles))
	for i, id := range m.MentionRoles {
		roleMentions[i] = id.String()
	}
	userMentions := make([]string, len(m.MentionUsers))
	for i, id := range m.MentionUsers {
		userMentions[i] = id.String()
	}

	return models.Message{
		ID:        m.ID.String(),
		ChannelID: m.ChannelID.String(),
		Author: models.MemberUser{
			ID:          m.AuthorID.String(),
			Username:    m.AuthorUsername,
			DisplayName: m.AuthorDisplayName,
			AvatarKey:   m.AuthorAvatarKey,
		},
		Content:         m.Content,
		Type:            int16(m.Type),
		Attachments:     modelAttachments,
		ReplyToID:       replyToID,
		Pinned:          m.Pinned,
		MentionEveryone: m.MentionEveryone,
		MentionRoles:    roleMentions,
		MentionUsers:    userMentions,
		WebhookID:        webhookID,
		WebhookUsername:  m.WebhookUsername,
		WebhookAvatarURL: m.WebhookAvatarURL,
		EditedAt:         editedAt,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
}

// mapMessageError converts message-layer errors to appropriate HTTP responses.
func (h *MessageHandler) mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownMessage, "Message not found")
	case errors.Is(err, message.ErrContentTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, message.ErrEmptyContent):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, message.ErrReplyNotFound):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.UnknownMessage, err.Error())
	case errors.Is(err, message.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You can only edit your own messages")
	case errors.Is(err, message.ErrWrongChannelType):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.WrongChannelType, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "message").Msg("unhandled message service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
