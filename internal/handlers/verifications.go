package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vitalmesh/consentd/internal/services"
	appErrors "github.com/vitalmesh/consentd/pkg/errors"
	"github.com/vitalmesh/consentd/pkg/response"
)

type submitRequest struct {
	SubjectID            string `json:"subject_id" validate:"required"`
	RequesterID          string `json:"requester_id" validate:"required"`
	RequesterDisplayName string `json:"requester_display_name"`
	TraitType            string `json:"trait_type" validate:"required"`
}

type respondRequest struct {
	Approved   *bool `json:"approved" validate:"required"`
	ExpiryDays int   `json:"expiry_days"`
}

// VerificationHandler exposes the consent request lifecycle over HTTP.
type VerificationHandler struct {
	service *services.ConsentService
}

// NewVerificationHandler wires the handler to the consent service.
func NewVerificationHandler(service *services.ConsentService) (*VerificationHandler, error) {
	if service == nil {
		return nil, errors.New("verification handler: consent service is required")
	}
	return &VerificationHandler{service: service}, nil
}

// Submit creates a new pending verification request.
func (h *VerificationHandler) Submit(c *gin.Context) {
	var payload submitRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.service.Submit(c.Request.Context(), services.SubmitInput{
		SubjectID:            payload.SubjectID,
		RequesterID:          payload.RequesterID,
		RequesterDisplayName: payload.RequesterDisplayName,
		TraitType:            payload.TraitType,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

// List returns the requests targeting a subject, newest first.
func (h *VerificationHandler) List(c *gin.Context) {
	subjectID := strings.TrimSpace(c.Query("subject_id"))
	if subjectID == "" {
		response.Error(c, appErrors.NewBadRequest("subject_id query parameter is required"))
		return
	}

	dtos, err := h.service.ListBySubject(c.Request.Context(), subjectID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, gin.H{"verifications": dtos}, &response.Meta{
		Total: len(dtos),
	})
}

// Respond resolves a pending request with either a time-bound approval or a
// denial. ExpiryDays only applies to approvals.
func (h *VerificationHandler) Respond(c *gin.Context) {
	id := c.Param("id")

	var payload respondRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.service.Respond(c.Request.Context(), id, *payload.Approved, payload.ExpiryDays)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// Revoke withdraws an active approval before its window lapses.
func (h *VerificationHandler) Revoke(c *gin.Context) {
	dto, err := h.service.Revoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}
