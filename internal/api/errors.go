package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/apierrors"
	"github.com/ecto-chat/ecto-server/internal/auth"
	"github.com/ecto-chat/ecto-server/internal/httputil"
)

// mapAuthServiceError converts errors returned by auth.Service's account-management methods (MFA setup, account
// deletion, verification resend) to HTTP responses. It is distinct from mapAuthError, which only covers the
// register/login/refresh flow, because these call sites are reached from handlers outside AuthHandler.
func mapAuthServiceError(c fiber.Ctx, err error, log zerolog.Logger, context string) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.InvalidCredentials, err.Error())
	case errors.Is(err, auth.ErrInvalidMFACode):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidCredentials, err.Error())
	case errors.Is(err, auth.ErrMFANotEnabled):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.MFANotEnabled, err.Error())
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.MFANotEnabled, err.Error())
	case errors.Is(err, auth.ErrMFANotConfigured):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.MFANotEnabled, err.Error())
	case errors.Is(err, auth.ErrMFASetupLocked):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.MFALocked, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyVerified):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.EmailNotVerified, err.Error())
	case errors.Is(err, auth.ErrVerificationCooldown):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.VerificationCooldown, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.InvalidToken, err.Error())
	case errors.Is(err, auth.ErrServerOwner):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.ServerOwner, err.Error())
	default:
		log.Error().Err(err).Str("handler", context).Msg("unhandled auth service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "An internal error occurred")
	}
}
