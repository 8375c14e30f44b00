package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/contentstore"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway/devnet"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// world is one devnet ledger and one content store shared by every actor.
type world struct {
	ledger  *devnet.Ledger
	backend *contentstore.MemoryBackend
	store   *contentstore.Client
	audit   *MemoryAuditRepository
	events  *events.Recorder
}

// actor is one signed-in process: its own session, gateway and services.
type actor struct {
	session   *session.Manager
	gateway   *gateway.Gateway
	lc        *Lifecycle
	auditSvc  *AuditService
	watch     *Watchlist
	patients  *PatientService
	access    *AccessService
	records   *RecordService
	dashboard *DashboardService
}

func contractConfig() config.ContractConfig {
	return config.ContractConfig{
		Address:         devnet.Deployer,
		Name:            "PatientRecord",
		Network:         "devnet",
		NodeURL:         "http://devnet.local",
		RequestTimeout:  5 * time.Second,
		PollAttempts:    5,
		PollInterval:    time.Millisecond,
		BreakerFailures: 3,
	}
}

func newWorld(t *testing.T) *world {
	t.Helper()
	backend := contentstore.NewMemoryBackend()
	store, err := contentstore.New(backend, nil, nil, zap.NewNop())
	require.NoError(t, err)
	return &world{
		ledger:  devnet.NewLedger(contractConfig(), 0, zap.NewNop()),
		backend: backend,
		store:   store,
		audit:   NewMemoryAuditRepository(),
		events:  &events.Recorder{},
	}
}

func (w *world) signIn(t *testing.T, address, name, role string) *actor {
	t.Helper()
	log := zap.NewNop()
	cfg := contractConfig()

	wallet := devnet.NewWallet(w.ledger, session.WalletPayload{Address: address, Name: name, Role: role}, true)
	mgr := session.NewManager(wallet, log)
	require.NoError(t, mgr.Init(context.Background()))

	node := gateway.NewNodeClient(cfg, &http.Client{Transport: w.ledger.Transport()}, nil, log)
	gw := gateway.New(cfg, node, mgr, nil, log)

	auditSvc := NewAuditService(w.audit, nil, log)
	lc := NewLifecycle(gw, mgr, auditSvc, w.events, nil, log)
	watch := NewWatchlist()
	records := NewRecordService(lc, w.store, watch, log)
	accessSvc := NewAccessService(lc, watch, log)

	a := &actor{
		session:   mgr,
		gateway:   gw,
		lc:        lc,
		auditSvc:  auditSvc,
		watch:     watch,
		patients:  NewPatientService(lc, watch, log),
		access:    accessSvc,
		records:   records,
		dashboard: NewDashboardService(lc, records, accessSvc, watch, log),
	}
	t.Cleanup(a.settle)
	return a
}

// settle waits for scheduled view refreshes.
func (a *actor) settle() {
	a.records.records.Wait()
	a.access.requests.Wait()
}

func aliceCommand() *patient.RegisterCommand {
	return &patient.RegisterCommand{
		PatientID:   "alice-123",
		Name:        "Alice",
		DateOfBirth: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		BloodType:   patient.BloodTypeOPos,
	}
}

func registerAlice(t *testing.T, alice *actor) {
	t.Helper()
	out, err := alice.patients.Register(context.Background(), aliceCommand())
	require.NoError(t, err)
	require.True(t, out.Applied(), "register settlement: %+v", out.Settlement)
}
