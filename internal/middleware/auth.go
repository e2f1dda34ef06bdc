package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Oldsnak/video-downloader-api/internal/auth"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

// HeaderAPIKey carries the shared API key.
const HeaderAPIKey = "X-API-KEY"

type AuthMiddleware struct {
	apiKey string
}

// NewAuthMiddleware returns the API key guard. An empty key disables
// authentication.
func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{apiKey: apiKey}
}

// Enabled reports whether requests must authenticate.
func (m *AuthMiddleware) Enabled() bool {
	return m.apiKey != ""
}

// Authenticate validates the X-API-KEY header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			return c.Next()
		}

		key := c.Get(HeaderAPIKey)
		if key == "" {
			return response.Unauthorized(c, "Missing API key")
		}
		if !auth.APIKeyMatches(key, m.apiKey) {
			return response.Unauthorized(c, "Invalid API key")
		}

		return c.Next()
	}
}

// AuthenticateStream accepts the API key or a stream token scoped to the
// :jobId route parameter, passed as ?token=. Browsers cannot set headers on
// EventSource or WebSocket requests.
func (m *AuthMiddleware) AuthenticateStream() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			return c.Next()
		}

		if key := c.Get(HeaderAPIKey); key != "" && auth.APIKeyMatches(key, m.apiKey) {
			return c.Next()
		}

		token := c.Query("token")
		if token == "" {
			return response.Unauthorized(c, "Missing API key or stream token")
		}
		claims, err := auth.ValidateStreamToken(token, m.apiKey, c.Params("jobId"))
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired stream token")
		}

		c.Locals("jobId", claims.JobID)
		return c.Next()
	}
}
