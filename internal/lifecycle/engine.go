package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitalmesh/consentd/internal/models"
	"github.com/vitalmesh/consentd/internal/store"
	"github.com/vitalmesh/consentd/pkg/metrics"
)

const (
	// DefaultMinDurationDays is the shortest grant a subject may issue.
	DefaultMinDurationDays = 1
	// DefaultMaxDurationDays is the longest grant a subject may issue.
	DefaultMaxDurationDays = 30
)

var (
	// ErrInvalidDuration rejects a grant duration outside the configured
	// bounds. Raised before any storage access.
	ErrInvalidDuration = errors.New("lifecycle: duration out of bounds")
	// ErrAlreadyResolved is returned to the loser of a response race.
	ErrAlreadyResolved = errors.New("lifecycle: request already resolved")
	// ErrNotActive rejects a revoke of anything but a currently-valid grant.
	ErrNotActive = errors.New("lifecycle: request is not an active grant")
)

// Resolution names the provenance of a denied outcome. It is derived from
// the record's timestamps, never stored.
type Resolution string

const (
	ResolutionExplicitDeny Resolution = "explicit_deny"
	ResolutionRevoked      Resolution = "revoked"
	ResolutionExpired      Resolution = "expired"
)

// Option customises the Engine.
type Option func(*Engine)

// WithClock injects a custom time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDurationBounds overrides the allowed grant duration range in days.
func WithDurationBounds(min, max int) Option {
	return func(e *Engine) {
		if min > 0 && max >= min {
			e.minDays = min
			e.maxDays = max
		}
	}
}

// Engine encodes the verification-request state machine on top of the
// store's guarded transition primitive. pending moves exactly once to
// approved or denied; approved may still fall to denied via revoke or
// expiry; denied is terminal.
type Engine struct {
	requests *store.RequestStore
	minDays  int
	maxDays  int
	now      func() time.Time
}

// NewEngine constructs an Engine with the default 1-30 day duration bounds.
func NewEngine(requests *store.RequestStore, opts ...Option) (*Engine, error) {
	if requests == nil {
		return nil, errors.New("lifecycle: request store is required")
	}

	engine := &Engine{
		requests: requests,
		minDays:  DefaultMinDurationDays,
		maxDays:  DefaultMaxDurationDays,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine, nil
}

// Approve transitions a pending request into a time-bound grant expiring
// durationDays from now.
func (e *Engine) Approve(ctx context.Context, id string, durationDays int) (*models.VerificationRequest, error) {
	if durationDays < e.minDays || durationDays > e.maxDays {
		return nil, fmt.Errorf("%w: %d days (allowed %d-%d)", ErrInvalidDuration, durationDays, e.minDays, e.maxDays)
	}

	now := e.now().UTC()
	expires := now.AddDate(0, 0, durationDays)

	updated, err := e.requests.CompareAndTransition(ctx, id, models.StatusPending, store.StatusChange{
		Status:      models.StatusApproved,
		RespondedAt: &now,
		ExpiresAt:   &expires,
	})
	if err != nil {
		return nil, transitionErr("approved", err)
	}

	metrics.Transitions.WithLabelValues("approved", "success").Inc()
	return updated, nil
}

// Deny transitions a pending request to the terminal denied state.
func (e *Engine) Deny(ctx context.Context, id string) (*models.VerificationRequest, error) {
	now := e.now().UTC()

	updated, err := e.requests.CompareAndTransition(ctx, id, models.StatusPending, store.StatusChange{
		Status:      models.StatusDenied,
		RespondedAt: &now,
	})
	if err != nil {
		return nil, transitionErr("denied", err)
	}

	metrics.Transitions.WithLabelValues("denied", "success").Inc()
	return updated, nil
}

// Revoke cuts short a currently-valid grant. Anything else - still pending,
// already denied, or approved but past its expiry - fails with ErrNotActive:
// revoking a grant that is not live is a caller error, not a no-op.
func (e *Engine) Revoke(ctx context.Context, id string) (*models.VerificationRequest, error) {
	record, err := e.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if e.EffectiveStatus(record, now) != models.StatusApproved {
		metrics.Transitions.WithLabelValues("revoked", "conflict").Inc()
		return nil, ErrNotActive
	}

	updated, err := e.requests.CompareAndTransition(ctx, id, models.StatusApproved, store.StatusChange{
		Status:    models.StatusDenied,
		RevokedAt: &now,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// Lost a race with another revoke or the reaper; the grant
			// is no longer active either way.
			metrics.Transitions.WithLabelValues("revoked", "conflict").Inc()
			return nil, ErrNotActive
		}
		return nil, err
	}

	metrics.Transitions.WithLabelValues("revoked", "success").Inc()
	return updated, nil
}

// Expire demotes an approved-but-lapsed grant to denied on behalf of the
// reaper, stamping responded_at with the moment the grant actually ended.
// A lost race is benign: the returned bool reports whether this call did
// the demotion.
func (e *Engine) Expire(ctx context.Context, record *models.VerificationRequest) (bool, error) {
	if record == nil {
		return false, errors.New("lifecycle: record is required")
	}

	endedAt := e.now().UTC()
	if record.ExpiresAt != nil {
		endedAt = record.ExpiresAt.UTC()
	}

	_, err := e.requests.CompareAndTransition(ctx, record.ID, models.StatusApproved, store.StatusChange{
		Status:      models.StatusDenied,
		RespondedAt: &endedAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrRequestNotFound) {
			return false, nil
		}
		return false, err
	}

	metrics.Transitions.WithLabelValues("expired", "success").Inc()
	return true, nil
}

// EffectiveStatus projects the status as observed at read time: an approved
// record past its expiry reads as denied even before the reaper has swept
// it. Storage is never touched.
func (e *Engine) EffectiveStatus(record *models.VerificationRequest, now time.Time) models.RequestStatus {
	if record == nil {
		return ""
	}
	if record.Status == models.StatusApproved && record.ExpiresAt != nil && !now.Before(*record.ExpiresAt) {
		return models.StatusDenied
	}
	return record.Status
}

// Resolution derives the provenance of a denied outcome from the record's
// timestamps. Empty for pending requests and live grants.
func (e *Engine) Resolution(record *models.VerificationRequest, now time.Time) Resolution {
	if record == nil || e.EffectiveStatus(record, now) != models.StatusDenied {
		return ""
	}
	switch {
	case record.RevokedAt != nil:
		return ResolutionRevoked
	case record.ExpiresAt != nil:
		return ResolutionExpired
	default:
		return ResolutionExplicitDeny
	}
}

func transitionErr(outcome string, err error) error {
	if errors.Is(err, store.ErrStatusConflict) {
		metrics.Transitions.WithLabelValues(outcome, "conflict").Inc()
		return ErrAlreadyResolved
	}
	metrics.Transitions.WithLabelValues(outcome, "error").Inc()
	return err
}
