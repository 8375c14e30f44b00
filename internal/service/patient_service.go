package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"go.uber.org/zap"
)

type PatientService struct {
	lc    *Lifecycle
	watch *Watchlist
	log   *zap.Logger
	now   func() time.Time
}

func NewPatientService(lc *Lifecycle, watch *Watchlist, log *zap.Logger) *PatientService {
	return &PatientService{lc: lc, watch: watch, log: log, now: time.Now}
}

// Register creates the on-chain header owned by the signed-in principal.
func (s *PatientService) Register(ctx context.Context, cmd *patient.RegisterCommand) (*Outcome, error) {
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	cmd.Normalize()
	if err := validationError(cmd.Problems(s.now())); err != nil {
		return nil, err
	}

	unlock := s.lc.locks.Lock(cmd.PatientID)
	defer unlock()

	out, err := s.lc.run(ctx, caller, mutation{
		name:      "register_patient",
		action:    domain.ActionRegister,
		event:     events.PatientRegistered,
		patientID: cmd.PatientID,
		submit: func(ctx context.Context) (*domain.TransactionResult, error) {
			return s.lc.contract.RegisterPatient(ctx, cmd)
		},
		applied: func(ctx context.Context) (bool, error) {
			h, err := s.lc.contract.GetPatientRecord(ctx, cmd.PatientID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return false, nil
			case err != nil:
				return false, err
			}
			return h.Owner == caller.Principal, nil
		},
	})
	if err != nil {
		return out, err
	}
	if out.Applied() {
		s.watch.AddPatient(caller.Principal, cmd.PatientID)
	}
	return out, nil
}

// Header reads the on-chain record header. The contract decides read entitlement.
func (s *PatientService) Header(ctx context.Context, patientID string) (*patient.Header, error) {
	if err := patient.ValidatePatientID(patientID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	h, err := s.lc.contract.GetPatientRecord(ctx, patientID)
	s.lc.readAudit(ctx, caller, patientID, "header", err)
	if err != nil {
		return nil, err
	}
	return h, nil
}
