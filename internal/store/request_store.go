package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vitalmesh/consentd/internal/models"
)

var (
	// ErrRequestNotFound indicates no verification request matches the id.
	ErrRequestNotFound = errors.New("request store: not found")
	// ErrStatusConflict indicates the record's status no longer matches the
	// guard; the caller lost a transition race.
	ErrStatusConflict = errors.New("request store: status changed")
	// ErrStoreUnavailable wraps transient storage failures. The guarded
	// update is all-or-nothing, so the operation is safe to retry.
	ErrStoreUnavailable = errors.New("request store: unavailable")
)

// StatusChange describes the target of a guarded transition: the new status
// plus whichever timestamps that transition stamps.
type StatusChange struct {
	Status      models.RequestStatus
	RespondedAt *time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
}

// RequestStore persists verification requests. All status mutation funnels
// through CompareAndTransition; nothing else writes the status column.
type RequestStore struct {
	db *gorm.DB
}

// NewRequestStore constructs a RequestStore using the provided database handle.
func NewRequestStore(db *gorm.DB) (*RequestStore, error) {
	if db == nil {
		return nil, errors.New("request store: db is required")
	}
	return &RequestStore{db: db}, nil
}

// Create persists a new verification request.
func (s *RequestStore) Create(ctx context.Context, record *models.VerificationRequest) error {
	if record == nil {
		return errors.New("request store: record is required")
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("%w: create: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get fetches a single request by id.
func (s *RequestStore) Get(ctx context.Context, id string) (*models.VerificationRequest, error) {
	var record models.VerificationRequest
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}
	return &record, nil
}

// ListBySubject returns all requests addressed to the subject, newest first.
// Ties on created_at break by id so the order is stable.
func (s *RequestStore) ListBySubject(ctx context.Context, subjectID string) ([]models.VerificationRequest, error) {
	var records []models.VerificationRequest
	if err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: list by subject: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// ListExpired returns approved requests whose grant has lapsed as of now.
// This is the reaper's scan source.
func (s *RequestStore) ListExpired(ctx context.Context, now time.Time) ([]models.VerificationRequest, error) {
	var records []models.VerificationRequest
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.StatusApproved, now).
		Order("expires_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: list expired: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// CompareAndTransition atomically moves the request from the expected status
// to the one described by change. The guard rides in the WHERE clause of a
// single UPDATE, so two racing transitions on the same id can never both
// succeed regardless of how many service instances share the database.
func (s *RequestStore) CompareAndTransition(ctx context.Context, id string, expected models.RequestStatus, change StatusChange) (*models.VerificationRequest, error) {
	updates := map[string]any{"status": change.Status}
	if change.RespondedAt != nil {
		updates["responded_at"] = change.RespondedAt.UTC()
	}
	if change.ExpiresAt != nil {
		updates["expires_at"] = change.ExpiresAt.UTC()
	}
	if change.RevokedAt != nil {
		updates["revoked_at"] = change.RevokedAt.UTC()
	}

	result := s.db.WithContext(ctx).
		Model(&models.VerificationRequest{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: transition: %v", ErrStoreUnavailable, result.Error)
	}

	if result.RowsAffected == 0 {
		// Zero rows means the guard failed or the record is gone; a
		// follow-up read tells the two apart.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}

	return s.Get(ctx, id)
}
