package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Open(t *testing.T) {
	assert.True(t, (&Request{State: RequestStatePending}).Open())
	assert.True(t, (&Request{State: RequestStateHold}).Open())
	assert.False(t, (&Request{State: RequestStateComplete}).Open())
}

func TestRequest_Display(t *testing.T) {
	withLink := &Request{Title: "Chrono Trigger OST", Link: "https://example.com/ct"}
	assert.Equal(t, "Chrono Trigger OST (https://example.com/ct)", withLink.Display())

	nameOnly := &Request{Title: "Chrono Trigger OST"}
	assert.Equal(t, "Chrono Trigger OST", nameOnly.Display())
}

func TestRequest_TitleOrLink(t *testing.T) {
	assert.Equal(t, "A Title", (&Request{Title: "A Title", Link: "https://x"}).TitleOrLink())
	assert.Equal(t, "https://x", (&Request{Link: "https://x"}).TitleOrLink())
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewValidationError("bad input"), fiber.StatusBadRequest},
		{NewNotFoundError("Request", 7), fiber.StatusNotFound},
		{NewUnauthorizedError("no"), fiber.StatusForbidden},
		{NewInternalError(errors.New("boom")), fiber.StatusInternalServerError},
		{errors.New("plain"), fiber.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", NewValidationError("bad")), fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusForError(tt.err))
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternalError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRespondWithError_DetailsOnlyInDevelopment(t *testing.T) {
	tests := []struct {
		env         string
		wantDetails bool
	}{
		{"development", true},
		{"production", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("env="+tt.env, func(t *testing.T) {
			t.Setenv("APP_ENV", tt.env)

			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				err := NewInternalError(errors.New("dial tcp: connection refused"))
				return RespondWithError(c, StatusForError(err), err)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "Internal server error", body.Error)
			assert.Equal(t, "INTERNAL_ERROR", body.Code)
			if tt.wantDetails {
				assert.Equal(t, "dial tcp: connection refused", body.Details)
			} else {
				assert.Empty(t, body.Details)
			}
		})
	}
}
