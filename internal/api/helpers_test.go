package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// fakeAuth injects the given user ID into the request context the way the auth middleware does after validating a
// bearer token. A Nil ID leaves the request unauthenticated.
func fakeAuth(userID uuid.UUID) fiber.Handler {
	return func(c fiber.Ctx) error {
		if userID != uuid.Nil {
			c.Locals("userID", userID)
		}
		return c.Next()
	}
}
