package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/auditlog"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/media"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/permissions"
	"github.com/ecto-chat/ecto-server/internal/sharedfolder"
)

// SharedFolderHandler serves the shared-file folder tree endpoints.
type SharedFolderHandler struct {
	folders    sharedfolder.Repository
	storage    media.StorageProvider
	resolver   *permission.Resolver
	overrides  permission.OverrideStore
	audit      auditlog.Repository
	gateway    *gateway.Publisher
	quotaBytes int64
	maxSizeBytes int64
	log        zerolog.Logger
}

// NewSharedFolderHandler creates a new shared-folder handler. quotaBytes is the global non-image storage cap
// (0 disables the check); maxSizeBytes bounds a single upload.
func NewSharedFolderHandler(
	folders sharedfolder.Repository, storage media.StorageProvider, resolver *permission.Resolver,
	overrides permission.OverrideStore, audit auditlog.Repository, gw *gateway.Publisher,
	quotaBytes, maxSizeBytes int64, logger zerolog.Logger,
) *SharedFolderHandler {
	return &SharedFolderHandler{
		folders: folders, storage: storage, resolver: resolver, overrides: overrides,
		audit: audit, gateway: gw, quotaBytes: quotaBytes, maxSizeBytes: maxSizeBytes, log: logger,
	}
}

// CreateFolder handles POST /shared/folders.
func (h *SharedFolderHandler) CreateFolder(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body models.CreateSharedFolderRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}

	name, err := sharedfolder.ValidateName(body.Name)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}

	parentID, allowed, err := h.resolveParentAccess(c, userID, body.ParentFolderID, permissions.UploadSharedFiles)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to create folders here")
	}

	folder, err := h.folders.CreateFolder(c, sharedfolder.CreateFolderParams{
		ParentFolderID: parentID, Name: name, CreatorID: userID,
	})
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("create folder failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := toSharedFolderModel(folder)
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.FolderCreate, result); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// ListFolders handles GET /shared/folders?parent_id=.
func (h *SharedFolderHandler) ListFolders(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	parentID, allowed, err := h.resolveParentAccess(c, userID, queryUUIDPointer(c, "parent_id"), permissions.BrowseFiles)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to browse this folder")
	}

	folders, err := h.folders.ListFolders(c, parentID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("list folders failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	visible := make([]models.SharedFolder, 0, len(folders))
	for i := range folders {
		ok, err := h.resolver.HasSharedItemAccess(c, userID, folders[i].ID, permissions.BrowseFiles)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("resolve folder access failed")
			continue
		}
		if ok {
			visible = append(visible, toSharedFolderModel(&folders[i]))
		}
	}
	return httputil.Success(c, visible)
}

// DeleteFolder handles DELETE /shared/folders/:folderID. Requires MANAGE_FILES on the folder and recursively
// deletes every descendant folder/file, including their shared-item permission overrides.
func (h *SharedFolderHandler) DeleteFolder(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	folderID, err := uuid.Parse(c.Params("folderID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid folder ID format")
	}

	allowed, err := h.resolver.HasSharedItemAccess(c, userID, folderID, permissions.ManageFiles)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("resolve folder access failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to delete this folder")
	}

	storageKeys, err := h.folders.DeleteFolder(c, folderID)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}

	for _, key := range storageKeys {
		if err := h.storage.Delete(c, key); err != nil {
			h.log.Warn().Err(err).Str("storage_key", key).Msg("failed to delete shared file bytes after folder delete")
		}
	}

	if h.audit != nil {
		go func() {
			_ = h.audit.Record(c, auditlog.Entry{
				ActorID: userID, Action: auditlog.ActionFolderDelete, TargetType: "shared_folder", TargetID: &folderID,
				Details: map[string]any{"files_removed": len(storageKeys)},
			})
		}()
	}
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.FolderDelete, map[string]string{"id": folderID.String()}); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Upload handles POST /shared/upload, a multipart upload with an optional folder_id field.
func (h *SharedFolderHandler) Upload(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	folderID, allowed, err := h.resolveParentAccess(c, userID, formUUIDPointer(c, "folder_id"), permissions.UploadSharedFiles)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to upload here")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Missing file field in multipart form")
	}
	if fh.Size > h.maxSizeBytes {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.PayloadTooLarge,
			fmt.Sprintf("File size exceeds the maximum of %d MB", h.maxSizeBytes/(1024*1024)))
	}

	contentType := detectContentType(fh.Header.Get("Content-Type"), fh.Filename)
	if !media.IsAllowedContentType(contentType) {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.UnsupportedContentType, "This file type is not allowed")
	}

	if h.quotaBytes > 0 && !media.IsImageContentType(contentType) {
		used, err := h.folders.TotalStorageBytes(c)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to check storage quota")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
		}
		if used+fh.Size > h.quotaBytes {
			return h.mapSharedFolderError(c, sharedfolder.ErrQuotaExceeded)
		}
	}

	f, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to open uploaded file")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	defer func() { _ = f.Close() }()

	folderKey := "root"
	if folderID != nil {
		folderKey = folderID.String()
	}
	ext := media.ExtensionFromFilename(fh.Filename)
	storageKey := fmt.Sprintf("shared/%s/%s%s", folderKey, uuid.New().String(), ext)

	if err := h.storage.Put(c.Context(), storageKey, f); err != nil {
		h.log.Error().Err(err).Msg("Failed to write file to storage")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	file, err := h.folders.CreateFile(c, sharedfolder.CreateFileParams{
		FolderID: folderID, Name: sanitiseFilename(fh.Filename), UploaderID: userID,
		ContentType: contentType, SizeBytes: fh.Size, StorageKey: storageKey,
	})
	if err != nil {
		_ = h.storage.Delete(c.Context(), storageKey)
		h.log.Error().Err(err).Msg("Failed to create shared file record")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := toSharedFileModel(file, h.storage)
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.SharedFileAdd, result); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// ListFiles handles GET /shared/files?folder_id=.
func (h *SharedFolderHandler) ListFiles(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	folderID, allowed, err := h.resolveParentAccess(c, userID, queryUUIDPointer(c, "folder_id"), permissions.BrowseFiles)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to browse this folder")
	}

	files, err := h.folders.ListFiles(c, folderID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("list files failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.SharedFile, len(files))
	for i := range files {
		result[i] = toSharedFileModel(&files[i], h.storage)
	}
	return httputil.Success(c, result)
}

// DeleteFile handles DELETE /shared/files/:fileID.
func (h *SharedFolderHandler) DeleteFile(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	fileID, err := uuid.Parse(c.Params("fileID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid file ID format")
	}

	allowed, err := h.resolver.HasSharedItemAccess(c, userID, fileID, permissions.ManageFiles)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("resolve file access failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to delete this file")
	}

	file, err := h.folders.DeleteFile(c, fileID)
	if err != nil {
		return h.mapSharedFolderError(c, err)
	}
	if err := h.storage.Delete(c, file.StorageKey); err != nil {
		h.log.Warn().Err(err).Str("storage_key", file.StorageKey).Msg("failed to delete shared file bytes")
	}

	if h.audit != nil {
		go func() {
			_ = h.audit.Record(c, auditlog.Entry{
				ActorID: userID, Action: auditlog.ActionSharedFileDelete, TargetType: "shared_file", TargetID: &fileID,
			})
		}()
	}
	if h.gateway != nil {
		go func() {
			if err := h.gateway.Publish(c, events.SharedFileDelete, map[string]string{"id": fileID.String()}); err != nil {
				h.log.Warn().Err(err).Msg("Gateway publish failed")
			}
		}()
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// SetItemOverride handles PUT /shared/:itemID/overrides/:targetID, setting a permission override on a folder or
// file. Requires MANAGE_FILES on the item.
func (h *SharedFolderHandler) SetItemOverride(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	itemID, err := uuid.Parse(c.Params("itemID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid item ID format")
	}
	targetID, err := uuid.Parse(c.Params("targetID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid target ID format")
	}

	allowed, err := h.resolver.HasSharedItemAccess(c, userID, itemID, permissions.ManageFiles)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("resolve item access failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to manage this item")
	}

	var body models.SetOverrideRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidBody, "Invalid request body")
	}
	principalType, err := parsePrincipalType(body.Type)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	}
	if err := validateOverrideBits(body.Allow, body.Deny); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	}

	row, err := h.overrides.Set(c, permission.TargetSharedItem, itemID, principalType, targetID,
		permissions.Permission(body.Allow), permissions.Permission(body.Deny))
	if err != nil {
		return h.mapOverrideError(c, err)
	}
	return httputil.Success(c, toOverrideModel(row))
}

// DeleteItemOverride handles DELETE /shared/:itemID/overrides/:targetID.
func (h *SharedFolderHandler) DeleteItemOverride(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}
	itemID, err := uuid.Parse(c.Params("itemID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid item ID format")
	}
	targetID, err := uuid.Parse(c.Params("targetID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid target ID format")
	}

	allowed, err := h.resolver.HasSharedItemAccess(c, userID, itemID, permissions.ManageFiles)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("resolve item access failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "You lack permission to manage this item")
	}

	principalType, err := parsePrincipalType(c.Query("type"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	}
	if err := h.overrides.Delete(c, permission.TargetSharedItem, itemID, principalType, targetID); err != nil {
		return h.mapOverrideError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// mapOverrideError reuses PermissionHandler's override-layer error mapping.
func (h *SharedFolderHandler) mapOverrideError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, permission.ErrOverrideNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownOverride, "Permission override not found")
	default:
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("unhandled permission override error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}

// resolveParentAccess parses an optional parent folder/file-scope id and checks perm on it. A nil id (root scope)
// is checked against the server-wide base permission since there is no shared-item row to walk an override chain
// from.
func (h *SharedFolderHandler) resolveParentAccess(c fiber.Ctx, userID uuid.UUID, parentID *uuid.UUID, perm permissions.Permission) (*uuid.UUID, bool, error) {
	if parentID == nil {
		allowed, err := h.resolver.HasServerPermission(c, userID, perm)
		if err != nil {
			return nil, false, fmt.Errorf("resolve server permission: %w", err)
		}
		return nil, allowed, nil
	}
	if _, err := h.folders.GetFolder(c, *parentID); err != nil {
		return nil, false, err
	}
	allowed, err := h.resolver.HasSharedItemAccess(c, userID, *parentID, perm)
	if err != nil {
		return nil, false, fmt.Errorf("resolve shared item permission: %w", err)
	}
	return parentID, allowed, nil
}

func queryUUIDPointer(c fiber.Ctx, key string) *uuid.UUID {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func formUUIDPointer(c fiber.Ctx, key string) *uuid.UUID {
	raw := c.FormValue(key)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func toSharedFolderModel(f *sharedfolder.Folder) models.SharedFolder {
	var parentID *string
	if f.ParentFolderID != nil {
		s := f.ParentFolderID.String()
		parentID = &s
	}
	return models.SharedFolder{
		ID:             f.ID.String(),
		ParentFolderID: parentID,
		Name:           f.Name,
		CreatorID:      f.CreatorID.String(),
		CreatedAt:      f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      f.UpdatedAt.Format(time.RFC3339),
	}
}

func toSharedFileModel(f *sharedfolder.File, storage media.StorageProvider) models.SharedFile {
	var folderID *string
	if f.FolderID != nil {
		s := f.FolderID.String()
		folderID = &s
	}
	return models.SharedFile{
		ID:          f.ID.String(),
		FolderID:    folderID,
		Name:        f.Name,
		UploaderID:  f.UploaderID.String(),
		URL:         storage.URL(f.StorageKey),
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		CreatedAt:   f.CreatedAt.Format(time.RFC3339),
	}
}

func (h *SharedFolderHandler) mapSharedFolderError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, sharedfolder.ErrFolderNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownFolder, "Shared folder not found")
	case errors.Is(err, sharedfolder.ErrFileNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.UnknownSharedFile, "Shared file not found")
	case errors.Is(err, sharedfolder.ErrNameRequired), errors.Is(err, sharedfolder.ErrNameTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, sharedfolder.ErrQuotaExceeded):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.PayloadTooLarge, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "sharedfolder").Msg("unhandled sharedfolder error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
