package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vitalmesh/consentd/internal/lifecycle"
	"github.com/vitalmesh/consentd/internal/models"
	"github.com/vitalmesh/consentd/internal/store"
	apperrors "github.com/vitalmesh/consentd/pkg/errors"
	"github.com/vitalmesh/consentd/pkg/metrics"
)

// VerificationRequestDTO is the caller-facing projection of a request. Its
// status is always the effective one, folding in expiry, so consumers never
// see a stale "approved" for a lapsed grant.
type VerificationRequestDTO struct {
	ID                   string               `json:"id"`
	SubjectID            string               `json:"subject_id"`
	RequesterID          string               `json:"requester_id"`
	RequesterDisplayName string               `json:"requester_display_name,omitempty"`
	TraitType            string               `json:"trait_type"`
	Status               models.RequestStatus `json:"status"`
	Resolution           lifecycle.Resolution `json:"resolution,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	RespondedAt          *time.Time           `json:"responded_at,omitempty"`
	ExpiresAt            *time.Time           `json:"expires_at,omitempty"`
	RevokedAt            *time.Time           `json:"revoked_at,omitempty"`
}

// SubmitInput carries the fields of a new verification request.
type SubmitInput struct {
	SubjectID            string
	RequesterID          string
	RequesterDisplayName string
	TraitType            string
}

// ConsentOption customises the ConsentService.
type ConsentOption func(*ConsentService)

// WithConsentClock injects a custom time source, shared with the engine.
func WithConsentClock(now func() time.Time) ConsentOption {
	return func(s *ConsentService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDeniedLimit caps how many denied requests a listing returns. Zero
// means unlimited.
func WithDeniedLimit(limit int) ConsentOption {
	return func(s *ConsentService) {
		if limit >= 0 {
			s.deniedLimit = limit
		}
	}
}

// ConsentService is the operation surface consumed by transport handlers:
// submit, list-by-subject, respond, revoke. Identity and authentication live
// outside this service; it trusts the ids it is handed.
type ConsentService struct {
	requests    *store.RequestStore
	engine      *lifecycle.Engine
	now         func() time.Time
	deniedLimit int
}

// NewConsentService constructs the facade over a shared store and engine.
func NewConsentService(requests *store.RequestStore, engine *lifecycle.Engine, opts ...ConsentOption) (*ConsentService, error) {
	if requests == nil {
		return nil, errors.New("consent service: request store is required")
	}
	if engine == nil {
		return nil, errors.New("consent service: lifecycle engine is required")
	}

	service := &ConsentService{
		requests: requests,
		engine:   engine,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Submit creates a new pending request. Duplicate asks are legal distinct
// requests; no de-duplication is attempted.
func (s *ConsentService) Submit(ctx context.Context, input SubmitInput) (*VerificationRequestDTO, error) {
	input.SubjectID = strings.TrimSpace(input.SubjectID)
	input.RequesterID = strings.TrimSpace(input.RequesterID)
	input.TraitType = strings.TrimSpace(input.TraitType)

	if input.SubjectID == "" {
		return nil, apperrors.NewBadRequest("subject_id is required")
	}
	if input.RequesterID == "" {
		return nil, apperrors.NewBadRequest("requester_id is required")
	}
	if input.TraitType == "" {
		return nil, apperrors.NewBadRequest("trait_type is required")
	}

	record := &models.VerificationRequest{
		SubjectID:            input.SubjectID,
		RequesterID:          input.RequesterID,
		RequesterDisplayName: strings.TrimSpace(input.RequesterDisplayName),
		TraitType:            input.TraitType,
		Status:               models.StatusPending,
	}

	if err := s.requests.Create(ctx, record); err != nil {
		return nil, s.mapError(err)
	}

	metrics.RequestsSubmitted.Inc()
	return s.toDTO(record), nil
}

// ListBySubject returns the subject's requests, newest first, with effective
// status applied per record. Reads never mutate storage; reconciling stored
// state with effective state is the reaper's job.
func (s *ConsentService) ListBySubject(ctx context.Context, subjectID string) ([]VerificationRequestDTO, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, apperrors.NewBadRequest("subject_id is required")
	}

	records, err := s.requests.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, s.mapError(err)
	}

	now := s.now().UTC()
	out := make([]VerificationRequestDTO, 0, len(records))
	denied := 0
	for i := range records {
		dto := s.projectDTO(&records[i], now)
		if dto.Status == models.StatusDenied {
			if s.deniedLimit > 0 && denied >= s.deniedLimit {
				continue
			}
			denied++
		}
		out = append(out, *dto)
	}
	return out, nil
}

// Respond routes the subject's answer to approve or deny. durationDays is
// consulted only when approving.
func (s *ConsentService) Respond(ctx context.Context, id string, approved bool, durationDays int) (*VerificationRequestDTO, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("request id is required")
	}

	var (
		record *models.VerificationRequest
		err    error
	)
	if approved {
		record, err = s.engine.Approve(ctx, id, durationDays)
	} else {
		record, err = s.engine.Deny(ctx, id)
	}
	if err != nil {
		return nil, s.mapError(err)
	}

	return s.toDTO(record), nil
}

// Revoke cuts short an active grant.
func (s *ConsentService) Revoke(ctx context.Context, id string) (*VerificationRequestDTO, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("request id is required")
	}

	record, err := s.engine.Revoke(ctx, id)
	if err != nil {
		return nil, s.mapError(err)
	}

	return s.toDTO(record), nil
}

func (s *ConsentService) toDTO(record *models.VerificationRequest) *VerificationRequestDTO {
	return s.projectDTO(record, s.now().UTC())
}

func (s *ConsentService) projectDTO(record *models.VerificationRequest, now time.Time) *VerificationRequestDTO {
	return &VerificationRequestDTO{
		ID:                   record.ID,
		SubjectID:            record.SubjectID,
		RequesterID:          record.RequesterID,
		RequesterDisplayName: record.RequesterDisplayName,
		TraitType:            record.TraitType,
		Status:               s.engine.EffectiveStatus(record, now),
		Resolution:           s.engine.Resolution(record, now),
		CreatedAt:            record.CreatedAt,
		RespondedAt:          record.RespondedAt,
		ExpiresAt:            record.ExpiresAt,
		RevokedAt:            record.RevokedAt,
	}
}

// mapError translates store and lifecycle sentinels into transport-facing
// AppErrors; anything unrecognised passes through for the response layer to
// treat as internal.
func (s *ConsentService) mapError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidDuration):
		return apperrors.ErrInvalidDuration.WithInternal(err)
	case errors.Is(err, lifecycle.ErrAlreadyResolved):
		return apperrors.ErrAlreadyResolved.WithInternal(err)
	case errors.Is(err, lifecycle.ErrNotActive):
		return apperrors.ErrNotActive.WithInternal(err)
	case errors.Is(err, store.ErrRequestNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.ErrNotFound.WithInternal(err)
	case errors.Is(err, store.ErrStoreUnavailable):
		return apperrors.ErrUnavailable.WithInternal(err)
	default:
		return err
	}
}
