package middleware

import (
	"crypto/ed25519"

	"github.com/gofiber/fiber/v2"

	"github.com/open-builders/knock-backend/internal/service/discord"
)

const (
	SignatureHeader = "X-Signature-Ed25519"
	TimestampHeader = "X-Signature-Timestamp"
)

// SignatureMiddleware rejects requests whose body is not signed by the
// application's public key. Discord treats any 401 as a failed
// verification, so every failure path answers 401.
//
// If key is empty, the middleware will return 500 to avoid insecure defaults.
func SignatureMiddleware(key ed25519.PublicKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(key) == 0 {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "signature verification is not configured"})
		}

		sig := c.Get(SignatureHeader)
		ts := c.Get(TimestampHeader)
		if sig == "" || ts == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing signature"})
		}
		if !discord.Verify(key, ts, c.Body(), sig) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid request signature"})
		}
		return c.Next()
	}
}
