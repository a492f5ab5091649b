package server

import (
	"strconv"
	"strings"

	"requestdesk/internal/models"
	"requestdesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SubmitRequestInput is the submission payload: free text with at most one
// URL in it.
type SubmitRequestInput struct {
	Text string `json:"text"`
}

// ReasonInput carries the moderator reason for hold and reject.
type ReasonInput struct {
	Reason string `json:"reason"`
}

func (s *Server) caller(c *fiber.Ctx) (identity, bool) {
	id, ok := c.Locals("identity").(identity)
	return id, ok
}

func parseRequestID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, models.NewValidationError("Invalid request ID")
	}
	return uint(id), nil
}

// SubmitRequest creates a new pending request from the caller's text.
func (s *Server) SubmitRequest(c *fiber.Ctx) error {
	id, ok := s.caller(c)
	if !ok {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
	}

	var input SubmitRequestInput
	if err := c.BodyParser(&input); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, err := s.svc.Submit(c.UserContext(), service.Submission{
		UserID:  id.UserID,
		UserTag: id.UserTag,
		Donator: id.Donator,
		Staff:   id.Staff,
		Text:    input.Text,
	})
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Request submitted",
		"request": req,
	})
}

// ListRequests returns every open request in submission order.
func (s *Server) ListRequests(c *fiber.Ctx) error {
	requests, err := s.svc.ListOpen(c.UserContext())
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(fiber.Map{
		"requests": requests,
		"count":    len(requests),
	})
}

// MyRequestSummary returns the caller's request counts per state.
func (s *Server) MyRequestSummary(c *fiber.Ctx) error {
	id, ok := s.caller(c)
	if !ok {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
	}

	summary, err := s.svc.UserSummary(c.UserContext(), id.UserID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}
	return c.JSON(summary)
}

// GetRequest returns a single request by ID.
func (s *Server) GetRequest(c *fiber.Ctx) error {
	reqID, err := parseRequestID(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	req, err := s.svc.Get(c.UserContext(), reqID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}
	return c.JSON(req)
}

// HoldRequest parks a pending request with a reason.
func (s *Server) HoldRequest(c *fiber.Ctx) error {
	reqID, err := parseRequestID(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	var input ReasonInput
	if err := c.BodyParser(&input); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, err := s.svc.Hold(c.UserContext(), reqID, strings.TrimSpace(input.Reason))
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(fiber.Map{
		"message": "Request put on hold",
		"request": req,
	})
}

// CompleteRequest marks a request fulfilled.
func (s *Server) CompleteRequest(c *fiber.Ctx) error {
	reqID, err := parseRequestID(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	req, err := s.svc.Complete(c.UserContext(), reqID)
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(fiber.Map{
		"message": "Request completed",
		"request": req,
	})
}

// RejectRequest terminates a request with a reason.
func (s *Server) RejectRequest(c *fiber.Ctx) error {
	reqID, err := parseRequestID(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}

	var input ReasonInput
	if err := c.BodyParser(&input); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	req, err := s.svc.Reject(c.UserContext(), reqID, strings.TrimSpace(input.Reason))
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(fiber.Map{
		"message": "Request rejected",
		"request": req,
	})
}

// RefreshListing republishes every open request into the listing channel.
func (s *Server) RefreshListing(c *fiber.Ctx) error {
	n, err := s.svc.Refresh(c.UserContext())
	if err != nil {
		return models.RespondWithError(c, models.StatusForError(err), err)
	}

	return c.JSON(fiber.Map{
		"message":     "Listing refreshed",
		"republished": n,
	})
}
