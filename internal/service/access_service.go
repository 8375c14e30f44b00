package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"go.uber.org/zap"
)

const accessViewTTL = 15 * time.Second

type AccessService struct {
	lc       *Lifecycle
	watch    *Watchlist
	requests *ViewCache[*access.Request]
	log      *zap.Logger
}

func NewAccessService(lc *Lifecycle, watch *Watchlist, log *zap.Logger) *AccessService {
	s := &AccessService{lc: lc, watch: watch, log: log}
	s.requests = NewViewCache("access_request", accessViewTTL, s.fetchRequest, log)
	return s
}

// Request asks the patient for read access on behalf of the signed-in principal.
// An already pending or granted request is rejected before submission.
func (s *AccessService) Request(ctx context.Context, patientID string) (*Outcome, error) {
	if err := patient.ValidatePatientID(patientID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	unlock := s.lc.locks.Lock(patientID)
	defer unlock()

	current, err := s.lc.contract.GetAccessRequest(ctx, patientID, caller.Principal)
	if err != nil {
		return nil, fmt.Errorf("reading current access request: %w", err)
	}
	if err := access.Check(current, access.StatusPending); err != nil {
		return nil, fmt.Errorf("access to %s is already %s: %w", patientID, access.StatusOf(current), domain.ErrAlreadyExists)
	}

	out, err := s.lc.run(ctx, caller, mutation{
		name:      "request_access",
		action:    domain.ActionRequest,
		event:     events.AccessRequested,
		patientID: patientID,
		subject:   caller.Principal.String(),
		submit: func(ctx context.Context) (*domain.TransactionResult, error) {
			return s.lc.contract.RequestAccess(ctx, patientID)
		},
		applied: func(ctx context.Context) (bool, error) {
			r, err := s.lc.contract.GetAccessRequest(ctx, patientID, caller.Principal)
			if err != nil || r == nil {
				return false, err
			}
			fresh := current == nil || r.RequestedAt > current.RequestedAt
			return r.Status == access.StatusPending && fresh, nil
		},
	})
	if err != nil {
		return out, err
	}

	s.watch.AddPatient(caller.Principal, patientID)
	s.reconcile(out, patientID, caller.Principal, access.StatusPending)
	return out, nil
}

// Grant approves a pending request. Only the patient's owner can, and the contract enforces it.
func (s *AccessService) Grant(ctx context.Context, patientID string, provider domain.Principal) (*Outcome, error) {
	return s.decide(ctx, patientID, provider, access.StatusGranted)
}

// Revoke ends a pending or granted request.
func (s *AccessService) Revoke(ctx context.Context, patientID string, provider domain.Principal) (*Outcome, error) {
	return s.decide(ctx, patientID, provider, access.StatusRevoked)
}

func (s *AccessService) decide(ctx context.Context, patientID string, provider domain.Principal, next access.Status) (*Outcome, error) {
	if err := patient.ValidatePatientID(patientID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if provider.IsZero() {
		return nil, fmt.Errorf("%w: provider principal is required", domain.ErrInvalidInput)
	}
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	unlock := s.lc.locks.Lock(patientID)
	defer unlock()

	current, err := s.lc.contract.GetAccessRequest(ctx, patientID, provider)
	if err != nil {
		return nil, fmt.Errorf("reading current access request: %w", err)
	}
	if err := access.Check(current, next); err != nil {
		return nil, notFoundIfMissing(err, fmt.Sprintf("request from %s cannot become %s", provider, next))
	}

	m := mutation{
		name:      "grant_access",
		action:    domain.ActionGrant,
		event:     events.AccessGranted,
		patientID: patientID,
		subject:   provider.String(),
		submit: func(ctx context.Context) (*domain.TransactionResult, error) {
			return s.lc.contract.GrantAccess(ctx, patientID, provider)
		},
		applied: func(ctx context.Context) (bool, error) {
			r, err := s.lc.contract.GetAccessRequest(ctx, patientID, provider)
			if err != nil {
				return false, err
			}
			return access.StatusOf(r) == next, nil
		},
	}
	if next == access.StatusRevoked {
		m.name = "revoke_access"
		m.action = domain.ActionRevoke
		m.event = events.AccessRevoked
		m.submit = func(ctx context.Context) (*domain.TransactionResult, error) {
			return s.lc.contract.RevokeAccess(ctx, patientID, provider)
		}
	}

	out, err := s.lc.run(ctx, caller, m)
	if err != nil {
		return out, err
	}

	s.watch.AddPatient(caller.Principal, patientID)
	s.watch.AddRequester(patientID, provider)
	s.reconcile(out, patientID, provider, next)
	return out, nil
}

// Status reads the request of requester. A missing request is reported as StatusNone.
func (s *AccessService) Status(ctx context.Context, patientID string, requester domain.Principal) (*access.Request, error) {
	if err := patient.ValidatePatientID(patientID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if requester.IsZero() {
		return nil, fmt.Errorf("%w: requester principal is required", domain.ErrInvalidInput)
	}
	r, err := s.lc.contract.GetAccessRequest(ctx, patientID, requester)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &access.Request{PatientID: patientID, Requester: requester, Status: access.StatusNone}, nil
	}
	return r, nil
}

// Snapshot serves the request from the view cache.
func (s *AccessService) Snapshot(ctx context.Context, patientID string, requester domain.Principal) (Snapshot[*access.Request], error) {
	return s.requests.Get(ctx, requestKey(patientID, requester))
}

// Reset drops cached views, e.g. after the session changes hands.
func (s *AccessService) Reset() {
	s.requests.Reset()
}

// reconcile patches the cached request with the settled status and schedules a refetch.
func (s *AccessService) reconcile(out *Outcome, patientID string, requester domain.Principal, next access.Status) {
	key := requestKey(patientID, requester)
	if out.Applied() {
		s.requests.Patch(key, func(r *access.Request) *access.Request {
			cp := *r
			cp.Status = next
			return &cp
		})
	}
	s.requests.ScheduleRefresh(key)
}

func (s *AccessService) fetchRequest(ctx context.Context, key string) (*access.Request, error) {
	patientID, requester, ok := splitRequestKey(key)
	if !ok {
		return nil, errors.New("malformed access view key")
	}
	return s.Status(ctx, patientID, requester)
}

func requestKey(patientID string, requester domain.Principal) string {
	return patientID + "/" + requester.String()
}

// Principals never contain '/', patient ids may.
func splitRequestKey(key string) (string, domain.Principal, bool) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return "", "", false
	}
	return key[:i], domain.Principal(key[i+1:]), true
}
