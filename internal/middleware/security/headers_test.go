package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		cfg     HeadersConfig
		hsts    bool
		connect string
	}{
		{name: "production", cfg: HeadersConfig{AllowedOrigins: []string{"https://pulse.example.com"}}, hsts: true, connect: "connect-src 'self' https://pulse.example.com"},
		{name: "development", cfg: HeadersConfig{IsDevelopment: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(HeadersMiddleware(tt.cfg))
			app.Get("/", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)

			assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			assert.Equal(t, tt.hsts, resp.Header.Get("Strict-Transport-Security") != "")
			csp := resp.Header.Get("Content-Security-Policy")
			assert.Contains(t, csp, "default-src 'none'")
			if tt.connect != "" {
				assert.Contains(t, csp, tt.connect)
			} else {
				assert.NotContains(t, csp, "connect-src")
			}
		})
	}
}
