package models

import "time"

// RequestStatus is the stored lifecycle state of a verification request.
type RequestStatus string

const (
	// StatusPending marks a request awaiting the subject's response.
	StatusPending RequestStatus = "pending"
	// StatusApproved marks a time-bound grant; ExpiresAt says until when.
	StatusApproved RequestStatus = "approved"
	// StatusDenied is terminal and covers explicit denials, revocations and
	// expired grants alike. The optional timestamps keep the three apart.
	StatusDenied RequestStatus = "denied"
)

// VerificationRequest records one requester's ask to access a subject's
// trait data, together with the subject's eventual response.
//
// Timestamp rules: RespondedAt is set exactly when the request leaves
// pending; ExpiresAt is set only while the request is (or was) approved;
// RevokedAt is set only when an approved grant was cut short explicitly.
type VerificationRequest struct {
	BaseModel

	SubjectID            string        `gorm:"not null;index" json:"subject_id"`
	RequesterID          string        `gorm:"not null;index" json:"requester_id"`
	RequesterDisplayName string        `json:"requester_display_name,omitempty"`
	TraitType            string        `gorm:"not null" json:"trait_type"`
	Status               RequestStatus `gorm:"not null;index;default:pending" json:"status"`
	RespondedAt          *time.Time    `json:"responded_at,omitempty"`
	ExpiresAt            *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	RevokedAt            *time.Time    `json:"revoked_at,omitempty"`
}

// IsResolved reports whether the request has left the pending state.
func (r *VerificationRequest) IsResolved() bool {
	return r.Status != StatusPending
}
