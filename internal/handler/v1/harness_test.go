package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/contentstore"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway/devnet"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	aliceAddr = devnet.Wallet1
	bobAddr   = devnet.Wallet2
)

// network is the ledger and content store every test server talks to.
type network struct {
	ledger *devnet.Ledger
	store  *contentstore.Client
	audit  *service.MemoryAuditRepository
}

type server struct {
	engine *gin.Engine
	audit  *service.AuditService
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "securehealth", Environment: "test", Version: "test"},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"Content-Type", HeaderClient},
			MaxAge:         time.Hour,
		},
		Contract: config.ContractConfig{
			Address:         devnet.Deployer,
			Name:            "PatientRecord",
			Network:         "devnet",
			NodeURL:         "http://devnet.local",
			RequestTimeout:  5 * time.Second,
			PollAttempts:    5,
			PollInterval:    time.Millisecond,
			BreakerFailures: 3,
		},
	}
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	store, err := contentstore.New(contentstore.NewMemoryBackend(), nil, nil, zap.NewNop())
	require.NoError(t, err)
	return &network{
		ledger: devnet.NewLedger(testConfig().Contract, 0, zap.NewNop()),
		store:  store,
		audit:  service.NewMemoryAuditRepository(),
	}
}

// serve builds a full API for one wallet, signed in unless signedIn is false.
func (n *network) serve(t *testing.T, address, name, role string, signedIn bool) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	cfg := testConfig()

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("test", reg)

	wallet := devnet.NewWallet(n.ledger, session.WalletPayload{Address: address, Name: name, Role: role}, signedIn)
	mgr := session.NewManager(wallet, log)
	require.NoError(t, mgr.Init(context.Background()))

	node := gateway.NewNodeClient(cfg.Contract, &http.Client{Transport: n.ledger.Transport()}, m, log)
	gw := gateway.New(cfg.Contract, node, mgr, m, log)

	auditSvc := service.NewAuditService(n.audit, m, log)
	lc := service.NewLifecycle(gw, mgr, auditSvc, &events.Recorder{}, m, log)
	watch := service.NewWatchlist()
	records := service.NewRecordService(lc, n.store, watch, log)
	accessSvc := service.NewAccessService(lc, watch, log)
	dashboard := service.NewDashboardService(lc, records, accessSvc, watch, log)

	h := NewHandler(Deps{
		Session:   mgr,
		Patients:  service.NewPatientService(lc, watch, log),
		Access:    accessSvc,
		Records:   records,
		Dashboard: dashboard,
		Audit:     auditSvc,
		Txs:       gw,
	}, log)
	health := NewHealth(cfg.App.Version, cfg.Contract.Network, cfg.Contract.Name, "memory", mgr, log)

	s := &server{engine: NewRouter(cfg, h, health, m, reg, log), audit: auditSvc}
	t.Cleanup(func() {
		records.Reset()
		accessSvc.Reset()
	})
	return s
}

func (s *server) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(HeaderClient, "test")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *server) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		return s.do(t, method, path, nil, "")
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return s.do(t, method, path, bytes.NewReader(b), "application/json")
}

// data decodes the envelope of a successful response.
func data[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env APIResponse[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Data
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func registerAlice(t *testing.T, s *server) {
	t.Helper()
	rec := s.doJSON(t, http.MethodPost, "/api/v1/patients", RegisterPatientRequest{
		PatientID:   "alice-123",
		Name:        "Alice",
		DateOfBirth: "1990-01-01",
		BloodType:   "O+",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func jsonUnmarshal(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
