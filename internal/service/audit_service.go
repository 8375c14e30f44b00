package service

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	ForPatient(ctx context.Context, patientID string, limit int) ([]domain.AuditLog, error)
}

type AuditService struct {
	repo    AuditRepository
	metrics *metrics.Collector
	log     *zap.Logger
	entries chan *domain.AuditLog
	done    chan struct{}
}

const auditBufferSize = 10_000

func NewAuditService(repo AuditRepository, m *metrics.Collector, log *zap.Logger) *AuditService {
	if m == nil {
		m = metrics.NewNop()
	}
	svc := &AuditService{
		repo:    repo,
		metrics: m,
		log:     log,
		entries: make(chan *domain.AuditLog, auditBufferSize),
		done:    make(chan struct{}),
	}
	go svc.worker()
	return svc
}

// LogAsync enqueues an audit entry for async persistence.
// If the buffer is full, the entry is dropped and a warning is emitted.
func (s *AuditService) LogAsync(ctx context.Context, entry AuditEntry) {
	detail := "{}"
	if len(entry.Detail) > 0 {
		if b, err := json.Marshal(entry.Detail); err == nil {
			detail = string(b)
		}
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFrom(ctx)
	}

	al := &domain.AuditLog{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		Principal:  entry.Principal.String(),
		Role:       entry.Role,
		Action:     entry.Action,
		PatientID:  entry.PatientID,
		Subject:    entry.Subject,
		TxID:       entry.TxID,
		Outcome:    entry.Outcome,
		RequestID:  entry.RequestID,
		Detail:     detail,
	}

	select {
	case s.entries <- al:
	default:
		s.metrics.AuditBufferDropped.Inc()
		s.log.Warn("audit log buffer full, dropping entry",
			zap.String("action", string(entry.Action)),
			zap.String("patient_id", entry.PatientID),
		)
	}
}

// Trail returns the newest audit entries for a patient.
func (s *AuditService) Trail(ctx context.Context, patientID string, limit int) ([]domain.AuditLog, error) {
	return s.repo.ForPatient(ctx, patientID, limit)
}

func (s *AuditService) Shutdown() {
	close(s.entries)
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.log.Warn("audit service shutdown timed out; some entries may be lost")
	}
}

func (s *AuditService) worker() {
	defer close(s.done)
	for entry := range s.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Create(ctx, entry); err != nil {
			s.log.Error("failed to persist audit log", zap.Error(err))
		} else {
			s.metrics.AuditEntriesTotal.Inc()
		}
		cancel()
	}
}

// MemoryAuditRepository keeps audit entries in process when no database is configured.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []domain.AuditLog
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Create(_ context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryAuditRepository) ForPatient(_ context.Context, patientID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AuditLog
	for _, e := range slices.Backward(r.entries) {
		if e.PatientID != patientID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type requestIDKey struct{}

// WithRequestID tags ctx so audit entries can be correlated with API requests.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
