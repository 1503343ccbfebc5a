package validation

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Post("/runs", RunRequestMiddleware(cfg), func(c *fiber.Ctx) error {
		req := c.Locals(RunRequestKey).(*RunRequest)
		return c.JSON(fiber.Map{"count": len(req.Reviews), "first_text": req.Reviews[0].Text})
	})
	return app
}

func TestRunRequestMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{name: "valid", contentType: "application/json", body: `{"reviews":[{"review_id":"1","text":"  slow\u0000 app "}]}`, status: fiber.StatusOK},
		{name: "charset suffix", contentType: "application/json; charset=utf-8", body: `{"reviews":[{"review_id":"1","text":"x"}]}`, status: fiber.StatusOK},
		{name: "wrong content type", contentType: "text/plain", body: `{"reviews":[]}`, status: fiber.StatusUnsupportedMediaType},
		{name: "broken json", contentType: "application/json", body: `{"reviews":`, status: fiber.StatusBadRequest},
		{name: "empty reviews", contentType: "application/json", body: `{"reviews":[]}`, status: fiber.StatusBadRequest},
		{name: "missing id", contentType: "application/json", body: `{"reviews":[{"review_id":" ","text":"x"}]}`, status: fiber.StatusBadRequest},
		{name: "too many", contentType: "application/json", body: `{"reviews":[{"review_id":"1"},{"review_id":"2"},{"review_id":"3"}]}`, status: fiber.StatusRequestEntityTooLarge},
		{name: "text too long", contentType: "application/json", body: `{"reviews":[{"review_id":"1","text":"` + strings.Repeat("a", 101) + `"}]}`, status: fiber.StatusRequestEntityTooLarge},
	}

	app := newApp(Config{MaxReviews: 2, MaxTextLength: 100})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/runs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRunRequestMiddlewareSanitizes(t *testing.T) {
	app := newApp(Config{})
	req := httptest.NewRequest("POST", "/runs", strings.NewReader(`{"reviews":[{"review_id":"1","text":"  slow\u0000 app "}]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Count     int    `json:"count"`
		FirstText string `json:"first_text"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "slow app", body.FirstText)
}
