package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalmesh/consentd/internal/database/testutil"
	"github.com/vitalmesh/consentd/internal/lifecycle"
	"github.com/vitalmesh/consentd/internal/models"
	"github.com/vitalmesh/consentd/internal/store"
	apperrors "github.com/vitalmesh/consentd/pkg/errors"
)

type consentFixture struct {
	service  *ConsentService
	requests *store.RequestStore
	now      time.Time
}

func newConsentFixture(t *testing.T, opts ...ConsentOption) *consentFixture {
	t.Helper()

	f := &consentFixture{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	requests, err := store.NewRequestStore(testutil.MustOpenTestDB(t))
	require.NoError(t, err)
	f.requests = requests

	engine, err := lifecycle.NewEngine(requests, lifecycle.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	opts = append([]ConsentOption{WithConsentClock(func() time.Time { return f.now })}, opts...)
	service, err := NewConsentService(requests, engine, opts...)
	require.NoError(t, err)
	f.service = service

	return f
}

func (f *consentFixture) submit(t *testing.T, subjectID string) *VerificationRequestDTO {
	t.Helper()

	dto, err := f.service.Submit(context.Background(), SubmitInput{
		SubjectID:            subjectID,
		RequesterID:          "d1000000-0000-0000-0000-000000000001",
		RequesterDisplayName: "Dr. Meredith Hale",
		TraitType:            "blood_type",
	})
	require.NoError(t, err)
	return dto
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	f := newConsentFixture(t)

	dto := f.submit(t, "subj-svc-submit")
	require.NotEmpty(t, dto.ID)
	require.Equal(t, models.StatusPending, dto.Status)
	require.Equal(t, lifecycle.Resolution(""), dto.Resolution)
	require.Nil(t, dto.RespondedAt)
	require.Nil(t, dto.ExpiresAt)
}

func TestSubmitValidatesInput(t *testing.T) {
	f := newConsentFixture(t)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, SubmitInput{RequesterID: "r", TraitType: "blood_type"})
	require.Error(t, err)
	_, err = f.service.Submit(ctx, SubmitInput{SubjectID: "s", TraitType: "blood_type"})
	require.Error(t, err)
	_, err = f.service.Submit(ctx, SubmitInput{SubjectID: "s", RequesterID: "r"})
	require.Error(t, err)
}

func TestSubmitAllowsDuplicateAsks(t *testing.T) {
	f := newConsentFixture(t)

	first := f.submit(t, "subj-svc-dup")
	second := f.submit(t, "subj-svc-dup")
	require.NotEqual(t, first.ID, second.ID)

	list, err := f.service.ListBySubject(context.Background(), "subj-svc-dup")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestRespondApproveAndDeny(t *testing.T) {
	f := newConsentFixture(t)
	ctx := context.Background()

	a := f.submit(t, "subj-svc-respond")
	approved, err := f.service.Respond(ctx, a.ID, true, 7)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ExpiresAt)
	require.WithinDuration(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), *approved.ExpiresAt, time.Second)

	d := f.submit(t, "subj-svc-respond")
	denied, err := f.service.Respond(ctx, d.ID, false, 0)
	require.NoError(t, err)
	require.Equal(t, models.StatusDenied, denied.Status)
	require.Equal(t, lifecycle.ResolutionExplicitDeny, denied.Resolution)
}

func TestRespondMapsDomainErrors(t *testing.T) {
	f := newConsentFixture(t)
	ctx := context.Background()

	dto := f.submit(t, "subj-svc-errors")

	_, err := f.service.Respond(ctx, dto.ID, true, 0)
	requireAppCode(t, err, apperrors.ErrInvalidDuration.Code)
	_, err = f.service.Respond(ctx, dto.ID, true, 31)
	requireAppCode(t, err, apperrors.ErrInvalidDuration.Code)

	// invalid duration leaves the record untouched
	list, err := f.service.ListBySubject(ctx, "subj-svc-errors")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.StatusPending, list[0].Status)

	_, err = f.service.Respond(ctx, dto.ID, false, 0)
	require.NoError(t, err)
	_, err = f.service.Respond(ctx, dto.ID, true, 7)
	requireAppCode(t, err, apperrors.ErrAlreadyResolved.Code)

	_, err = f.service.Respond(ctx, "f72cb8a6-0000-0000-0000-000000000000", false, 0)
	requireAppCode(t, err, apperrors.ErrNotFound.Code)
}

func TestRevokeMapsDomainErrors(t *testing.T) {
	f := newConsentFixture(t)
	ctx := context.Background()

	pending := f.submit(t, "subj-svc-revoke")
	_, err := f.service.Revoke(ctx, pending.ID)
	requireAppCode(t, err, apperrors.ErrNotActive.Code)

	active := f.submit(t, "subj-svc-revoke")
	_, err = f.service.Respond(ctx, active.ID, true, 7)
	require.NoError(t, err)

	revoked, err := f.service.Revoke(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDenied, revoked.Status)
	require.Equal(t, lifecycle.ResolutionRevoked, revoked.Resolution)
	require.NotNil(t, revoked.RevokedAt)

	_, err = f.service.Revoke(ctx, "e72cb8a6-0000-0000-0000-000000000000")
	requireAppCode(t, err, apperrors.ErrNotFound.Code)
}

func TestListBySubjectAppliesEffectiveStatus(t *testing.T) {
	f := newConsentFixture(t)
	ctx := context.Background()

	dto := f.submit(t, "subj-svc-effective")
	_, err := f.service.Respond(ctx, dto.ID, true, 1)
	require.NoError(t, err)

	// 25 hours later the grant has lapsed; the listing fails closed even
	// though no reaper has run
	f.now = f.now.Add(25 * time.Hour)

	list, err := f.service.ListBySubject(ctx, "subj-svc-effective")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.StatusDenied, list[0].Status)
	require.Equal(t, lifecycle.ResolutionExpired, list[0].Resolution)

	// storage still says approved until the reaper sweeps
	stored, err := f.requests.Get(ctx, dto.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, stored.Status)
}

func TestListBySubjectUnknownSubjectIsEmpty(t *testing.T) {
	f := newConsentFixture(t)

	list, err := f.service.ListBySubject(context.Background(), "subj-svc-nobody")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestListBySubjectDeniedLimit(t *testing.T) {
	f := newConsentFixture(t, WithDeniedLimit(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		dto := f.submit(t, "subj-svc-denied-limit")
		_, err := f.service.Respond(ctx, dto.ID, false, 0)
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
	}
	f.submit(t, "subj-svc-denied-limit")

	list, err := f.service.ListBySubject(ctx, "subj-svc-denied-limit")
	require.NoError(t, err)

	denied := 0
	pending := 0
	for _, dto := range list {
		switch dto.Status {
		case models.StatusDenied:
			denied++
		case models.StatusPending:
			pending++
		}
	}
	require.Equal(t, 2, denied)
	require.Equal(t, 1, pending)
}

// Mirrors the full subject journey: ask, grant for a week, lapse, then a
// late revoke bounces.
func TestConsentEndToEnd(t *testing.T) {
	f := newConsentFixture(t)
	ctx := context.Background()

	dto, err := f.service.Submit(ctx, SubmitInput{
		SubjectID:   "p1",
		RequesterID: "d1",
		TraitType:   "blood_type",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, dto.Status)

	approved, err := f.service.Respond(ctx, dto.ID, true, 7)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, approved.Status)
	require.WithinDuration(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), *approved.ExpiresAt, time.Second)

	f.now = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	list, err := f.service.ListBySubject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, dto.ID, list[0].ID)
	require.Equal(t, models.StatusDenied, list[0].Status)

	_, err = f.service.Revoke(ctx, dto.ID)
	requireAppCode(t, err, apperrors.ErrNotActive.Code)
}

func requireAppCode(t *testing.T, err error, code string) {
	t.Helper()

	require.Error(t, err)
	appErr := apperrors.FromError(err)
	require.Equal(t, code, appErr.Code, "error: %v", err)
}
