package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apierrors "github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/models"

	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/readstate"
)

// ReadStateHandler serves the read-cursor endpoints. Marking a channel read resets its mention counter; the full
// per-channel cursor list also rides in the READY payload so this listing exists for clients that refetch state
// after losing a gateway session.
type ReadStateHandler struct {
	readStates readstate.Repository
	log        zerolog.Logger
}

// NewReadStateHandler creates a new read-state handler.
func NewReadStateHandler(readStates readstate.Repository, logger zerolog.Logger) *ReadStateHandler {
	return &ReadStateHandler{readStates: readStates, log: logger}
}

// List handles GET /api/v1/read-states, returning every read-state row for the authenticated user.
func (h *ReadStateHandler) List(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	rows, err := h.readStates.ListForUser(c, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "readstate").Msg("list read states failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	result := make([]models.ReadState, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return httputil.Success(c, result)
}

// MarkRead handles PUT /api/v1/channels/:channelID/read. It advances the caller's read cursor to the given message
// and zeroes the channel's mention counter. The upsert is idempotent for equal inputs.
func (h *ReadStateHandler) MarkRead(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid channel ID")
	}

	var body models.MarkReadRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid request body")
	}
	messageID, err := uuid.Parse(body.MessageID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid message ID")
	}

	state, err := h.readStates.MarkRead(c, userID, channelID, messageID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "readstate").Msg("mark read failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}

	return httputil.Success(c, state.ToModel())
}
