package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const dashboardConcurrency = 4

// Dashboard is the role-scoped landing view. Exactly one of Patients and Providers is set.
type Dashboard struct {
	Profile     *domain.Profile `json:"profile"`
	Patients    []PatientPanel  `json:"patients,omitempty"`
	Providers   []ProviderPanel `json:"providers,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// PatientPanel is one owned patient: its records and the providers that asked for access.
type PatientPanel struct {
	PatientID string                      `json:"patient_id"`
	Records   *Snapshot[*RecordSet]       `json:"records,omitempty"`
	Access    []Snapshot[*access.Request] `json:"access,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

// ProviderPanel is one watched patient seen by a provider. Records are loaded only once
// access is granted.
type ProviderPanel struct {
	PatientID string                     `json:"patient_id"`
	Request   *Snapshot[*access.Request] `json:"request,omitempty"`
	Records   *Snapshot[*RecordSet]      `json:"records,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

type DashboardService struct {
	lc      *Lifecycle
	records *RecordService
	access  *AccessService
	watch   *Watchlist
	log     *zap.Logger
}

func NewDashboardService(lc *Lifecycle, records *RecordService, accessSvc *AccessService, watch *Watchlist, log *zap.Logger) *DashboardService {
	return &DashboardService{lc: lc, records: records, access: accessSvc, watch: watch, log: log}
}

// Dashboard builds the view for the signed-in role. extra shows further patient ids and
// remembers those whose panel loads.
func (s *DashboardService) Dashboard(ctx context.Context, extra ...string) (*Dashboard, error) {
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}
	if caller.Role == domain.RoleProvider {
		return s.ProviderDashboard(ctx, extra...)
	}
	return s.PatientDashboard(ctx, extra...)
}

// PatientDashboard is served to patients and to the contract owner.
func (s *DashboardService) PatientDashboard(ctx context.Context, extra ...string) (*Dashboard, error) {
	caller, err := s.requireRole(domain.RolePatient, domain.RoleOwner)
	if err != nil {
		return nil, err
	}

	ids, err := s.watched(caller.Principal, extra)
	if err != nil {
		return nil, err
	}
	panels := make([]PatientPanel, len(ids))
	s.fanOut(ctx, ids, func(ctx context.Context, i int, id string) {
		panels[i] = s.patientPanel(ctx, id)
	})
	for _, p := range panels {
		s.keep(caller.Principal, extra, p.PatientID, p.Error)
	}
	return &Dashboard{Profile: caller, Patients: panels, GeneratedAt: time.Now().UTC()}, nil
}

func (s *DashboardService) ProviderDashboard(ctx context.Context, extra ...string) (*Dashboard, error) {
	caller, err := s.requireRole(domain.RoleProvider)
	if err != nil {
		return nil, err
	}

	ids, err := s.watched(caller.Principal, extra)
	if err != nil {
		return nil, err
	}
	panels := make([]ProviderPanel, len(ids))
	s.fanOut(ctx, ids, func(ctx context.Context, i int, id string) {
		panels[i] = s.providerPanel(ctx, caller.Principal, id)
	})
	for _, p := range panels {
		s.keep(caller.Principal, extra, p.PatientID, p.Error)
	}
	return &Dashboard{Profile: caller, Providers: panels, GeneratedAt: time.Now().UTC()}, nil
}

// Reset forgets every cached view.
func (s *DashboardService) Reset() {
	s.records.Reset()
	s.access.Reset()
}

func (s *DashboardService) patientPanel(ctx context.Context, id string) PatientPanel {
	p := PatientPanel{PatientID: id}
	snap, err := s.records.Snapshot(ctx, id)
	if err != nil {
		p.Error = domain.Kind(err)
		return p
	}
	p.Records = &snap

	for _, requester := range s.watch.Requesters(id) {
		r, err := s.access.Snapshot(ctx, id, requester)
		if err != nil {
			s.log.Warn("access view unavailable",
				zap.String("patient_id", id),
				zap.String("requester", requester.String()),
				zap.Error(err),
			)
			continue
		}
		p.Access = append(p.Access, r)
	}
	return p
}

func (s *DashboardService) providerPanel(ctx context.Context, me domain.Principal, id string) ProviderPanel {
	p := ProviderPanel{PatientID: id}
	req, err := s.access.Snapshot(ctx, id, me)
	if err != nil {
		p.Error = domain.Kind(err)
		return p
	}
	p.Request = &req
	if req.Value.Status != access.StatusGranted {
		return p
	}

	snap, err := s.records.Snapshot(ctx, id)
	if err != nil {
		p.Error = domain.Kind(err)
		return p
	}
	p.Records = &snap
	return p
}

// requireRole gates a view, never a contract call.
func (s *DashboardService) requireRole(roles ...domain.Role) (*domain.Profile, error) {
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(roles, caller.Role) {
		return nil, ErrRoleNotPermitted
	}
	return caller, nil
}

// watched lists the remembered patients followed by the requested extra ids. Extras are
// only remembered once their panel loads, see keep.
func (s *DashboardService) watched(p domain.Principal, extra []string) ([]string, error) {
	if len(extra) > maxWatchedPatients {
		return nil, validationError([]error{fmt.Errorf("at most %d extra patients per dashboard", maxWatchedPatients)})
	}
	var problems []error
	for _, id := range extra {
		if err := patient.ValidatePatientID(id); err != nil {
			problems = append(problems, fmt.Errorf("patient %q: %w", id, err))
		}
	}
	if err := validationError(problems); err != nil {
		return nil, err
	}

	ids := s.watch.Patients(p)
	for _, id := range extra {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *DashboardService) keep(p domain.Principal, extra []string, id, panelErr string) {
	if panelErr == "" && slices.Contains(extra, id) {
		s.watch.AddPatient(p, id)
	}
}

// fanOut loads panels concurrently. Panel errors are reported inside each panel.
func (s *DashboardService) fanOut(ctx context.Context, ids []string, load func(ctx context.Context, i int, id string)) {
	var g errgroup.Group
	g.SetLimit(dashboardConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			load(ctx, i, id)
			return nil
		})
	}
	_ = g.Wait()
	s.log.Debug("dashboard panels loaded", zap.Int("panels", len(ids)))
}
