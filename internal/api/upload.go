package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apierrors "github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permissions"

	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/media"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/server"
	"github.com/ecto-chat/ecto-server/internal/serverdm"
)

// Size caps for decorative image uploads. Icons render small; banners are wide but compressed.
const (
	iconMaxBytes   = 2 << 20   // 2 MiB
	bannerMaxBytes = 800 << 10 // 800 KiB
)

// UploadHandler serves the image-upload endpoints (server icon, server banner, page banner) and DM attachment
// uploads. Channel attachments live in AttachmentHandler; shared files in SharedFolderHandler.
type UploadHandler struct {
	servers       server.Repository
	conversations serverdm.Repository
	storage       media.StorageProvider
	resolver      *permission.Resolver
	gateway       *gateway.Publisher
	maxDMBytes    int64
	log           zerolog.Logger
}

// NewUploadHandler creates a new upload handler. maxDMBytes caps DM attachment size, matching the per-server
// upload limit applied to channel attachments.
func NewUploadHandler(
	servers server.Repository,
	conversations serverdm.Repository,
	storage media.StorageProvider,
	resolver *permission.Resolver,
	gw *gateway.Publisher,
	maxDMBytes int64,
	logger zerolog.Logger,
) *UploadHandler {
	return &UploadHandler{
		servers:       servers,
		conversations: conversations,
		storage:       storage,
		resolver:      resolver,
		gateway:       gw,
		maxDMBytes:    maxDMBytes,
		log:           logger,
	}
}

// UploadIcon handles POST /api/v1/upload/icon. Requires MANAGE_SERVER; the stored key is written to the server
// config so the new icon is visible immediately.
func (h *UploadHandler) UploadIcon(c fiber.Ctx) error {
	return h.uploadServerImage(c, "icons", iconMaxBytes, func(p *server.UpdateParams, key string) {
		p.IconKey = &key
	})
}

// UploadBanner handles POST /api/v1/upload/banner.
func (h *UploadHandler) UploadBanner(c fiber.Ctx) error {
	return h.uploadServerImage(c, "banners", bannerMaxBytes, func(p *server.UpdateParams, key string) {
		p.BannerKey = &key
	})
}

func (h *UploadHandler) uploadServerImage(c fiber.Ctx, prefix string, maxBytes int64, assign func(*server.UpdateParams, string)) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	if err := h.requireServerPermission(c, userID, permissions.ManageServer, "MANAGE_SERVER"); err != nil {
		return err
	}

	key, err := h.storeImage(c, prefix, maxBytes)
	if err != nil {
		return err
	}

	var params server.UpdateParams
	assign(&params, key)
	cfg, err := h.servers.Update(c, params)
	if err != nil {
		_ = h.storage.Delete(c.Context(), key)
		h.log.Error().Err(err).Str("handler", "upload").Msg("update server image key failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	if h.gateway != nil {
		result := cfg.ToModel()
		go func() {
			if err := h.gateway.Publish(context.Background(), events.ServerUpdate, result); err != nil {
				h.log.Warn().Err(err).Msg("Failed to publish server update")
			}
		}()
	}

	return httputil.Success(c, models.ImageUploadResponse{URL: h.storage.URL(key)})
}

// UploadPageBanner handles POST /api/v1/upload/page-banner. Requires EDIT_PAGES; the client sets the returned URL
// as the page's banner_url through the page update endpoint.
func (h *UploadHandler) UploadPageBanner(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	if err := h.requireServerPermission(c, userID, permissions.EditPages, "EDIT_PAGES"); err != nil {
		return err
	}

	key, err := h.storeImage(c, "page-banners", bannerMaxBytes)
	if err != nil {
		return err
	}
	return httputil.Success(c, models.ImageUploadResponse{URL: h.storage.URL(key)})
}

// UploadDM handles POST /api/v1/dm/upload. The caller must be a participant of the conversation named by the
// conversation_id form field. No attachment row is created; the returned URL is embedded in the DM message.
func (h *UploadHandler) UploadDM(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	conversationID, err := uuid.Parse(c.FormValue("conversation_id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid conversation ID")
	}
	conv, err := h.conversations.GetConversation(c, conversationID)
	if err != nil {
		if errors.Is(err, serverdm.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownDMConversation, "Conversation not found")
		}
		h.log.Error().Err(err).Str("handler", "upload").Msg("get conversation failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if conv.UserAID != userID && conv.UserBID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "Not a participant of this conversation")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Missing file field in multipart form")
	}
	if fh.Size > h.maxDMBytes {
		return httputil.Fail(c, fiber.StatusRequestEntityTooLarge, apierrors.PayloadTooLarge,
			fmt.Sprintf("File size exceeds the maximum of %d MB", h.maxDMBytes/(1024*1024)))
	}

	contentType := detectContentType(fh.Header.Get("Content-Type"), fh.Filename)
	if !media.IsAllowedContentType(contentType) {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.UnsupportedContentType, "This file type is not allowed")
	}

	f, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to open uploaded file")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	defer func() { _ = f.Close() }()

	ext := media.ExtensionFromFilename(fh.Filename)
	key := fmt.Sprintf("dm/%s/%s%s", conversationID.String(), uuid.New().String(), ext)
	if err := h.storage.Put(c.Context(), key, f); err != nil {
		h.log.Error().Err(err).Msg("Failed to write DM upload to storage")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, models.DMUploadResponse{
		URL:         h.storage.URL(key),
		Filename:    sanitiseFilename(fh.Filename),
		ContentType: contentType,
		SizeBytes:   fh.Size,
	})
}

func (h *UploadHandler) requireServerPermission(c fiber.Ctx, userID uuid.UUID, perm permissions.Permission, name string) error {
	if h.resolver == nil {
		return nil
	}
	allowed, err := h.resolver.HasServerPermission(c, userID, perm)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "upload").Msg("permission check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "Missing "+name+" permission")
	}
	return nil
}

// storeImage validates and stores a decorative image upload: size-capped, image content type, and decodable by the
// imaging library (a renamed .txt cannot sneak through on content type alone).
func (h *UploadHandler) storeImage(c fiber.Ctx, prefix string, maxBytes int64) (string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Missing file field in multipart form")
	}
	if fh.Size > maxBytes {
		return "", httputil.Fail(c, fiber.StatusRequestEntityTooLarge, apierrors.PayloadTooLarge,
			fmt.Sprintf("Image exceeds the maximum of %d KB", maxBytes/1024))
	}

	contentType := detectContentType(fh.Header.Get("Content-Type"), fh.Filename)
	if !media.IsImageContentType(contentType) {
		return "", httputil.Fail(c, fiber.StatusBadRequest, apierrors.UnsupportedContentType, "Only image uploads are allowed")
	}

	f, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to open uploaded image")
		return "", httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	defer func() { _ = f.Close() }()

	if _, err := imaging.Decode(f); err != nil {
		return "", httputil.Fail(c, fiber.StatusBadRequest, apierrors.UnsupportedContentType, "File is not a decodable image")
	}
	if err := rewind(f); err != nil {
		h.log.Error().Err(err).Msg("Failed to rewind uploaded image")
		return "", httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	ext := media.ExtensionFromFilename(fh.Filename)
	key := fmt.Sprintf("%s/%s%s", prefix, uuid.New().String(), ext)
	if err := h.storage.Put(c.Context(), key, f); err != nil {
		h.log.Error().Err(err).Msg("Failed to write image to storage")
		return "", httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	return key, nil
}

func rewind(f multipart.File) error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}
