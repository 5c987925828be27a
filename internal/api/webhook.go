package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/auditlog"
	"github.com/ecto-chat/ecto-server/internal/channel"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/message"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/permissions"
	"github.com/ecto-chat/ecto-server/internal/ratelimit"
	"github.com/ecto-chat/ecto-server/internal/webhook"
)

// WebhookHandler serves webhook management endpoints and the public execute endpoint.
type WebhookHandler struct {
	webhooks webhook.Repository
	messages message.Repository
	channels channel.Repository
	resolver *permission.Resolver
	audit    auditlog.Repository
	gateway  *gateway.Publisher
	limiter  *ratelimit.Limiter
	log      zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	webhooks webhook.Repository, messages message.Repository, channels channel.Repository,
	resolver *permission.Resolver, audit auditlog.Repository, gw *gateway.Publisher,
	limiter *ratelimit.Limiter, logger zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks, messages: messages, channels: channels,
		resolver: resolver, audit: audit, gateway: gw, limiter: limiter, log: logger,
	}
}

// CreateWebhook handles POST /api/v1/channels/:channelID/webhooks. Requires MANAGE_WEBHOOKS.
func (h *WebhookHandler) CreateWebhook(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	if _, err := h.channels.GetByID(c, channelID); err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownChannel, "Channel not found")
	}

	var body models.CreateWebhookRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	name, err := webhook.ValidateName(body.Name)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	if err := webhook.ValidateAvatarURL(body.AvatarURL); err != nil {
		return h.mapWebhookError(c, err)
	}

	wh, err := h.webhooks.Create(c, webhook.CreateParams{
		ChannelID: channelID, CreatorID: userID, Name: name, AvatarURL: body.AvatarURL,
	})
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	result := toWebhookModel(wh, true)
	if h.audit != nil {
		go func() {
			if err := h.audit.Record(c, auditlog.Entry{
				ActorID: userID, Action: auditlog.ActionWebhookCreate,
				TargetType: "webhook", TargetID: &wh.ID,
			}); err != nil {
				h.log.Warn().Err(err).Msg("audit log write failed")
			}
		}()
	}
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.WebhookCreate, toWebhookModel(wh, false)); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// ListWebhooks handles GET /api/v1/channels/:channelID/webhooks. Requires MANAGE_WEBHOOKS.
func (h *WebhookHandler) ListWebhooks(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}

	webhooks, err := h.webhooks.ListByChannel(c, channelID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("list webhooks failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.Webhook, len(webhooks))
	for i := range webhooks {
		result[i] = toWebhookModel(&webhooks[i], false)
	}
	return httputil.Success(c, result)
}

// DeleteWebhook handles DELETE /api/v1/webhooks/:webhookID. Requires MANAGE_WEBHOOKS on the webhook's channel.
func (h *WebhookHandler) DeleteWebhook(c fiber.Ctx) error {
	webhookID, err := uuid.Parse(c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid webhook ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	wh, err := h.webhooks.GetByID(c, webhookID)
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	allowed, err := h.resolver.HasPermission(c, userID, wh.ChannelID, permissions.ManageWebhooks)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have permission to manage webhooks in this channel")
	}

	if err := h.webhooks.Delete(c, webhookID); err != nil {
		return h.mapWebhookError(c, err)
	}

	if h.audit != nil {
		go func() {
			if err := h.audit.Record(c, auditlog.Entry{
				ActorID: userID, Action: auditlog.ActionWebhookDelete,
				TargetType: "webhook", TargetID: &webhookID,
			}); err != nil {
				h.log.Warn().Err(err).Msg("audit log write failed")
			}
		}()
	}
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.WebhookDelete, map[string]string{
				"id": webhookID.String(), "channel_id": wh.ChannelID.String(),
			}); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RegenerateToken handles POST /api/v1/webhooks/:webhookID/token. Requires MANAGE_WEBHOOKS.
func (h *WebhookHandler) RegenerateToken(c fiber.Ctx) error {
	webhookID, err := uuid.Parse(c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid webhook ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	existing, err := h.webhooks.GetByID(c, webhookID)
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	allowed, err := h.resolver.HasPermission(c, userID, existing.ChannelID, permissions.ManageWebhooks)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have permission to manage webhooks in this channel")
	}

	wh, err := h.webhooks.RegenerateToken(c, webhookID)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	return httputil.Success(c, toWebhookModel(wh, true))
}

// Execute handles POST /webhooks/:webhookID/:token — the public, unauthenticated endpoint external callers use to
// post into the webhook's channel. There is no Authorization header; the id+token pair in the URL is the only
// credential.
func (h *WebhookHandler) Execute(c fiber.Ctx) error {
	webhookID, err := uuid.Parse(c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownWebhook, "Webhook not found")
	}
	token := c.Params("token")

	wh, err := h.webhooks.GetByIDAndToken(c, webhookID, token)
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	if h.limiter != nil {
		allowed, _, err := h.limiter.Allow(c, "webhook_execute", wh.ID.String(), ratelimit.MessageSendLimit, 1)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "webhook").Msg("rate limit check failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if !allowed {
			return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, "This webhook is posting too quickly")
		}
	}

	var body models.ExecuteWebhookRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	content, err := webhook.ValidateContent(body.Content)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	if err := webhook.ValidateAvatarURL(body.AvatarURL); err != nil {
		return h.mapWebhookError(c, err)
	}

	username := wh.Name
	if body.Username != nil && *body.Username != "" {
		n, err := webhook.ValidateName(*body.Username)
		if err != nil {
			return h.mapWebhookError(c, err)
		}
		username = n
	}
	avatarURL := wh.AvatarURL
	if body.AvatarURL != nil {
		avatarURL = body.AvatarURL
	}

	msg, err := h.messages.Create(c, message.CreateParams{
		ChannelID:        wh.ChannelID,
		AuthorID:         wh.CreatorID,
		Content:          content,
		Type:             message.TypeDefault,
		WebhookID:        &wh.ID,
		WebhookUsername:  &username,
		WebhookAvatarURL: avatarURL,
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("webhook message create failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := toWebhookMessageModel(msg)
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.MessageCreate, result); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

func toWebhookModel(wh *webhook.Webhook, includeToken bool) models.Webhook {
	m := models.Webhook{
		ID:        wh.ID.String(),
		ChannelID: wh.ChannelID.String(),
		CreatorID: wh.CreatorID.String(),
		Name:      wh.Name,
		AvatarURL: wh.AvatarURL,
	}
	if includeToken {
		m.Token = wh.Token
	}
	return m
}

func toWebhookMessageModel(m *message.Message) models.Message {
	var webhookID *string
	if m.WebhookID != nil {
		s := m.WebhookID.String()
		webhookID = &s
	}
	return models.Message{
		ID:               m.ID.String(),
		ChannelID:        m.ChannelID.String(),
		Content:          m.Content,
		Type:             int16(m.Type),
		WebhookID:        webhookID,
		WebhookUsername:  m.WebhookUsername,
		WebhookAvatarURL: m.WebhookAvatarURL,
		Attachments:      []models.Attachment{},
		MentionRoles:     []string{},
		MentionUsers:     []string{},
		CreatedAt:        m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *WebhookHandler) mapWebhookError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownWebhook, "Webhook not found")
	case errors.Is(err, webhook.ErrInvalidToken):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Invalid webhook token")
	case errors.Is(err, webhook.ErrNameRequired), errors.Is(err, webhook.ErrNameTooLong),
		errors.Is(err, webhook.ErrAvatarURLLength), errors.Is(err, webhook.ErrContentEmpty),
		errors.Is(err, webhook.ErrContentTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "webhook").Msg("unhandled webhook service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
