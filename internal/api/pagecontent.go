package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apierrors "github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/channel"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/pagecontent"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/permissions"
)

// PageContentHandler serves the page-channel content endpoints.
type PageContentHandler struct {
	pages    pagecontent.Repository
	channels channel.Repository
	resolver *permission.Resolver
	gateway  *gateway.Publisher
	log      zerolog.Logger
}

// NewPageContentHandler creates a new page content handler.
func NewPageContentHandler(pages pagecontent.Repository, channels channel.Repository, resolver *permission.Resolver, gw *gateway.Publisher, logger zerolog.Logger) *PageContentHandler {
	return &PageContentHandler{pages: pages, channels: channels, resolver: resolver, gateway: gw, log: logger}
}

// GetContent handles GET /api/v1/channels/:channelID/page.
func (h *PageContentHandler) GetContent(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	ch, err := h.requirePageChannel(c, channelID)
	if err != nil {
		return err
	}

	allowed, err := h.resolver.HasPermission(c, userID, ch.ID, permissions.ViewChannels)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "pagecontent").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have permission to view this page")
	}

	page, err := h.pages.Get(c, channelID)
	if err != nil {
		if errors.Is(err, pagecontent.ErrNotFound) {
			// A page channel with no content yet reads as an empty page at version 0, so clients can still
			// supply ExpectedVersion=0 on their first update.
			return httputil.Success(c, models.PageContent{ChannelID: channelID.String(), Content: "", Version: 0})
		}
		h.log.Error().Err(err).Str("handler", "pagecontent").Msg("get page content failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	return httputil.Success(c, toPageContentModel(page))
}

// UpdateContent handles PUT /api/v1/channels/:channelID/page. Requires EDIT_PAGES. Optimistic concurrency is
// enforced in the repository; a version mismatch surfaces as CONFLICT(3003) (apierrors.PageVersionConflict).
func (h *PageContentHandler) UpdateContent(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	ch, err := h.requirePageChannel(c, channelID)
	if err != nil {
		return err
	}

	allowed, err := h.resolver.HasPermission(c, userID, ch.ID, permissions.EditPages)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "pagecontent").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have permission to edit this page")
	}

	var body models.UpdatePageContentRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	content, err := pagecontent.ValidateContent(body.Content)
	if err != nil {
		return h.mapPageContentError(c, err)
	}
	if err := pagecontent.ValidateBannerURL(body.BannerURL); err != nil {
		return h.mapPageContentError(c, err)
	}

	page, err := h.pages.UpdateContent(c, pagecontent.UpdateParams{
		ChannelID:       channelID,
		Content:         content,
		BannerURL:       body.BannerURL,
		EditorID:        userID,
		ExpectedVersion: body.Version,
	})
	if err != nil {
		return h.mapPageContentError(c, err)
	}

	result := toPageContentModel(page)
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.PageUpdate, result); err != nil {
				h.log.Warn().Err(err).Str("channel_id", channelID.String()).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.Success(c, result)
}

// ListRevisions handles GET /api/v1/channels/:channelID/page/revisions.
func (h *PageContentHandler) ListRevisions(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidChannelID, "Invalid channel ID format")
	}
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	ch, err := h.requirePageChannel(c, channelID)
	if err != nil {
		return err
	}

	allowed, err := h.resolver.HasPermission(c, userID, ch.ID, permissions.EditPages)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "pagecontent").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You do not have permission to view this page's history")
	}

	revisions, err := h.pages.ListRevisions(c, channelID, pagecontent.DefaultRevisionLimit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "pagecontent").Msg("list page revisions failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.PageRevision, len(revisions))
	for i, rev := range revisions {
		var editorID *string
		if rev.EditorID != nil {
			s := rev.EditorID.String()
			editorID = &s
		}
		result[i] = models.PageRevision{
			ID:        rev.ID.String(),
			ChannelID: rev.ChannelID.String(),
			Content:   rev.Content,
			BannerURL: rev.BannerURL,
			Version:   rev.Version,
			EditorID:  editorID,
			CreatedAt: rev.CreatedAt.Format(time.RFC3339),
		}
	}
	return httputil.Success(c, result)
}

// requirePageChannel loads channelID and fails with WrongChannelType unless it is a page channel.
func (h *PageContentHandler) requirePageChannel(c fiber.Ctx, channelID uuid.UUID) (*channel.Channel, error) {
	ch, err := h.channels.GetByID(c, channelID)
	if err != nil {
		return nil, httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownChannel, "Channel not found")
	}
	if ch.Type != channel.TypePage {
		return nil, httputil.Fail(c, fiber.StatusBadRequest, apierrors.WrongChannelType, "This channel is not a page channel")
	}
	return ch, nil
}

func toPageContentModel(p *pagecontent.PageContent) models.PageContent {
	var editorID *string
	if p.EditorID != nil {
		s := p.EditorID.String()
		editorID = &s
	}
	var editedAt *string
	if p.EditedAt != nil {
		s := p.EditedAt.Format(time.RFC3339)
		editedAt = &s
	}
	return models.PageContent{
		ChannelID: p.ChannelID.String(),
		Content:   p.Content,
		BannerURL: p.BannerURL,
		Version:   p.Version,
		EditorID:  editorID,
		EditedAt:  editedAt,
	}
}

// mapPageContentError converts pagecontent-layer errors to appropriate HTTP responses.
func (h *PageContentHandler) mapPageContentError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pagecontent.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownPage, "Page content not found")
	case errors.Is(err, pagecontent.ErrVersionConflict):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.PageVersionConflict, err.Error())
	case errors.Is(err, pagecontent.ErrContentTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, pagecontent.ErrBannerURLLength):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "pagecontent").Msg("unhandled page content service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
