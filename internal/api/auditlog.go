package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apierrors "github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/models"

	"github.com/ecto-chat/ecto-server/internal/auditlog"
	"github.com/ecto-chat/ecto-server/internal/httputil"
)

const (
	auditLogDefaultLimit = 50
	auditLogMaxLimit     = 100
)

// AuditLogHandler serves the moderator action history. VIEW_AUDIT_LOG is enforced by the
// permission.RequireServerPermission middleware on the route.
type AuditLogHandler struct {
	audit auditlog.Repository
	log   zerolog.Logger
}

// NewAuditLogHandler creates a new audit log handler.
func NewAuditLogHandler(audit auditlog.Repository, logger zerolog.Logger) *AuditLogHandler {
	return &AuditLogHandler{audit: audit, log: logger}
}

// List handles GET /api/v1/server/audit-log. Pagination uses a before cursor, newest first.
func (h *AuditLogHandler) List(c fiber.Ctx) error {
	if _, ok := c.Locals("userID").(uuid.UUID); !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	limit := auditLogDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid limit")
		}
		if n > auditLogMaxLimit {
			n = auditLogMaxLimit
		}
		limit = n
	}

	var before *uuid.UUID
	if raw := c.Query("before"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid before cursor")
		}
		before = &id
	}

	entries, err := h.audit.List(c, before, limit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "auditlog").Msg("list audit log failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.AuditLogEntry, len(entries))
	for i := range entries {
		result[i] = toAuditLogModel(&entries[i])
	}
	return httputil.Success(c, result)
}

func toAuditLogModel(e *auditlog.Entry) models.AuditLogEntry {
	result := models.AuditLogEntry{
		ID:         e.ID.String(),
		ActorID:    e.ActorID.String(),
		Action:     string(e.Action),
		TargetType: e.TargetType,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.TargetID != nil {
		id := e.TargetID.String()
		result.TargetID = &id
	}
	return result
}
