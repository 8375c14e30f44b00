package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"go.uber.org/zap"
)

// Contract is the typed contract surface the lifecycle is built on.
type Contract interface {
	patient.Repository
	access.Repository
	AwaitSettlement(ctx context.Context, txID string) (*domain.Settlement, error)
}

// Identity is the signed-in wallet session.
type Identity interface {
	Profile() (*domain.Profile, error)
}

// ContentStore moves record bundles and attachments.
type ContentStore interface {
	UploadBytes(ctx context.Context, data []byte) (string, error)
	UploadJSON(ctx context.Context, v any) (string, error)
	RetrieveBytes(ctx context.Context, id string) ([]byte, error)
	RetrieveJSON(ctx context.Context, id string, out any) error
}

// Outcome is the settled result of one state-changing operation. A timed-out settlement
// is an unknown outcome; Confirmed reports that re-reading contract state showed the
// mutation applied anyway.
type Outcome struct {
	Transaction *domain.TransactionResult `json:"transaction"`
	Settlement  *domain.Settlement        `json:"settlement"`
	Confirmed   bool                      `json:"confirmed"`
}

// Applied reports whether the mutation is known to be durable.
func (o *Outcome) Applied() bool {
	return o != nil && (o.Settlement.Succeeded() || o.Confirmed)
}

// Lifecycle holds what every lifecycle service shares.
type Lifecycle struct {
	contract Contract
	identity Identity
	audit    *AuditService
	events   events.Publisher
	locks    *keyedMutex
	metrics  *metrics.Collector
	log      *zap.Logger
}

func NewLifecycle(contract Contract, identity Identity, audit *AuditService, pub events.Publisher, m *metrics.Collector, log *zap.Logger) *Lifecycle {
	if m == nil {
		m = metrics.NewNop()
	}
	if pub == nil {
		pub = &events.Recorder{}
	}
	return &Lifecycle{
		contract: contract,
		identity: identity,
		audit:    audit,
		events:   pub,
		locks:    newKeyedMutex(),
		metrics:  m,
		log:      log,
	}
}

type mutation struct {
	name      string
	action    domain.AuditAction
	event     events.Type
	patientID string
	subject   string
	submit    func(ctx context.Context) (*domain.TransactionResult, error)
	// applied re-reads contract state after a settlement timeout.
	applied func(ctx context.Context) (bool, error)
}

// run submits m, awaits settlement and records the result. Callers hold the patient lock.
// A contract rejection is returned as the error alongside the outcome.
func (l *Lifecycle) run(ctx context.Context, caller *domain.Profile, m mutation) (*Outcome, error) {
	out, err := l.execute(ctx, m)
	l.metrics.LifecycleOpsTotal.WithLabelValues(m.name, domain.Kind(err)).Inc()

	entry := AuditEntry{
		Principal: caller.Principal,
		Role:      caller.Role,
		Action:    m.action,
		PatientID: m.patientID,
		Subject:   m.subject,
		Outcome:   outcomeLabel(out, err),
	}
	if out != nil && out.Transaction != nil {
		entry.TxID = out.Transaction.TxID
	}
	if err != nil {
		entry.Detail = map[string]any{"error": err.Error(), "kind": domain.Kind(err)}
	}
	l.audit.LogAsync(ctx, entry)

	if err != nil {
		l.log.Warn("lifecycle operation failed",
			zap.String("operation", m.name),
			zap.String("patient_id", m.patientID),
			zap.String("kind", domain.Kind(err)),
			zap.Error(err),
		)
		return out, err
	}

	if out.Applied() {
		e := events.New(m.event, m.patientID, caller.Principal, m.subject, out.Settlement)
		if err := l.events.Publish(ctx, e); err != nil {
			// the mutation is on chain; a lost event is logged, not surfaced
			l.log.Error("lifecycle event lost", zap.String("type", string(m.event)), zap.Error(err))
		}
	}

	l.log.Info("lifecycle operation settled",
		zap.String("operation", m.name),
		zap.String("patient_id", m.patientID),
		zap.String("tx_id", out.Transaction.TxID),
		zap.String("settlement", string(out.Settlement.Status)),
		zap.Bool("confirmed", out.Confirmed),
	)
	return out, nil
}

func (l *Lifecycle) execute(ctx context.Context, m mutation) (*Outcome, error) {
	tx, err := m.submit(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Transaction: tx}

	s, err := l.contract.AwaitSettlement(ctx, tx.TxID)
	if err != nil {
		return out, err
	}
	out.Settlement = s

	switch s.Status {
	case domain.SettlementFailed:
		return out, s.Err
	case domain.SettlementTimeout:
		if m.applied == nil {
			return out, nil
		}
		// unknown outcome: consult authoritative state instead of resubmitting
		ok, err := m.applied(ctx)
		if err != nil {
			l.log.Warn("re-query after settlement timeout failed",
				zap.String("operation", m.name),
				zap.String("tx_id", tx.TxID),
				zap.Error(err),
			)
			return out, nil
		}
		out.Confirmed = ok
	}
	return out, nil
}

func (l *Lifecycle) caller() (*domain.Profile, error) {
	return l.identity.Profile()
}

func outcomeLabel(out *Outcome, err error) string {
	switch {
	case err != nil:
		return "failed"
	case out.Applied():
		return "applied"
	}
	return "unknown"
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// readAudit records reads of patient data and denied attempts.
func (l *Lifecycle) readAudit(ctx context.Context, caller *domain.Profile, patientID, subject string, err error) {
	outcome := "ok"
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			outcome = "denied"
		} else {
			return
		}
	}
	l.audit.LogAsync(ctx, AuditEntry{
		Principal: caller.Principal,
		Role:      caller.Role,
		Action:    domain.ActionRead,
		PatientID: patientID,
		Subject:   subject,
		Outcome:   outcome,
	})
}

func notFoundIfMissing(err error, what string) error {
	if errors.Is(err, access.ErrInvalidStatusTransition) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}
