package access

import (
	"context"
	"slices"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
)

// State transitions per (patient, provider):
//
//	none → pending → granted → revoked
//	pending → revoked
//	revoked → pending (a fresh request, never a resurrection)
type Status string

const (
	StatusNone    Status = "none"
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

var validTransitions = map[Status][]Status{
	StatusNone:    {StatusPending},
	StatusPending: {StatusGranted, StatusRevoked},
	StatusGranted: {StatusRevoked},
	StatusRevoked: {StatusPending},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusGranted, StatusRevoked:
		return st, nil
	}
	return "", ErrUnknownStatus
}

func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(validTransitions[s], next)
}

// IsActive reports whether a request in this state blocks a new request.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusGranted
}

// Request is the on-chain access relationship. RequestedAt and UpdatedAt are block heights.
type Request struct {
	PatientID   string           `json:"patient_id"`
	Requester   domain.Principal `json:"requester"`
	Status      Status           `json:"status"`
	RequestedAt uint64           `json:"requested_at"`
	UpdatedAt   *uint64          `json:"updated_at,omitempty"`
}

// StatusOf treats a missing request as StatusNone.
func StatusOf(r *Request) Status {
	if r == nil {
		return StatusNone
	}
	return r.Status
}

// Check rejects a transition that the state table forbids from the current request.
func Check(current *Request, next Status) error {
	if !StatusOf(current).CanTransitionTo(next) {
		return ErrInvalidStatusTransition
	}
	return nil
}

type Repository interface {
	// GetAccessRequest returns (nil, nil) when no request exists.
	GetAccessRequest(ctx context.Context, patientID string, requester domain.Principal) (*Request, error)

	RequestAccess(ctx context.Context, patientID string) (*domain.TransactionResult, error)
	GrantAccess(ctx context.Context, patientID string, provider domain.Principal) (*domain.TransactionResult, error)
	RevokeAccess(ctx context.Context, patientID string, provider domain.Principal) (*domain.TransactionResult, error)
}
