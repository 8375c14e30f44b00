package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway/devnet"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

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

// gatewayFor signs in as account on a shared ledger.
func gatewayFor(t *testing.T, ledger *devnet.Ledger, account string) *Gateway {
	t.Helper()
	cfg := contractConfig()
	mgr := session.NewManager(devnet.NewWallet(ledger, session.WalletPayload{Address: account}, true), zap.NewNop())
	require.NoError(t, mgr.Init(context.Background()))
	node := NewNodeClient(cfg, &http.Client{Transport: ledger.Transport()}, nil, zap.NewNop())
	return New(cfg, node, mgr, nil, zap.NewNop())
}

func newLedger() *devnet.Ledger {
	return devnet.NewLedger(contractConfig(), 0, zap.NewNop())
}

func aliceCommand() *patient.RegisterCommand {
	return &patient.RegisterCommand{
		PatientID:   "alice-123",
		Name:        "Alice",
		DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
		BloodType:   patient.BloodTypeOPos,
	}
}

func settle(t *testing.T, g *Gateway, res *domain.TransactionResult, err error) *domain.Settlement {
	t.Helper()
	require.NoError(t, err)
	s, err := g.AwaitSettlement(context.Background(), res.TxID)
	require.NoError(t, err)
	return s
}

func TestRegisterThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	alice := gatewayFor(t, newLedger(), devnet.Wallet1)

	res, err := alice.RegisterPatient(ctx, aliceCommand())
	s := settle(t, alice, res, err)
	require.True(t, s.Succeeded(), "settlement: %+v", s)
	assert.Equal(t, "(ok true)", s.Result)

	h, err := alice.GetPatientRecord(ctx, "alice-123")
	require.NoError(t, err)
	assert.Equal(t, "alice-123", h.PatientID)
	assert.Equal(t, "Alice", h.Name)
	assert.Equal(t, patient.BloodTypeOPos, h.BloodType)
	assert.True(t, h.DateOfBirth.Equal(aliceCommand().DateOfBirth))
	assert.Equal(t, domain.Principal(devnet.Wallet1), h.Owner)
	assert.True(t, h.IsActive)
	assert.Empty(t, h.RecordHash)

	again, err := alice.GetPatientRecord(ctx, "alice-123")
	require.NoError(t, err)
	assert.Equal(t, h, again)
}

func TestRegisterTwiceFailsAtSettlement(t *testing.T) {
	ctx := context.Background()
	alice := gatewayFor(t, newLedger(), devnet.Wallet1)

	res, err := alice.RegisterPatient(ctx, aliceCommand())
	require.True(t, settle(t, alice, res, err).Succeeded())

	res, err = alice.RegisterPatient(ctx, aliceCommand())
	s := settle(t, alice, res, err)
	assert.Equal(t, domain.SettlementFailed, s.Status)
	assert.ErrorIs(t, s.Err, domain.ErrAlreadyExists)
	assert.Equal(t, "(err u103)", s.Result)
}

func TestRegisterValidatesBeforeSubmitting(t *testing.T) {
	ledger := newLedger()
	alice := gatewayFor(t, ledger, devnet.Wallet1)
	height := ledger.Height()

	cmd := aliceCommand()
	cmd.DateOfBirth = time.Now().Add(time.Hour)
	_, err := alice.RegisterPatient(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	cmd = aliceCommand()
	cmd.BloodType = "C+"
	_, err = alice.RegisterPatient(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, height, ledger.Height())
}

func TestRegisterRejectsDatesBeforeEpoch(t *testing.T) {
	ledger := newLedger()
	alice := gatewayFor(t, ledger, devnet.Wallet1)
	height := ledger.Height()

	cmd := aliceCommand()
	cmd.DateOfBirth = time.Date(1950, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := alice.RegisterPatient(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, height, ledger.Height())
}

func TestRegisterOnEpochRoundTrips(t *testing.T) {
	ctx := context.Background()
	alice := gatewayFor(t, newLedger(), devnet.Wallet1)

	cmd := aliceCommand()
	cmd.DateOfBirth = patient.EarliestDateOfBirth
	res, err := alice.RegisterPatient(ctx, cmd)
	require.True(t, settle(t, alice, res, err).Succeeded())

	h, err := alice.GetPatientRecord(ctx, "alice-123")
	require.NoError(t, err)
	assert.True(t, h.DateOfBirth.Equal(patient.EarliestDateOfBirth))
}

func TestDecodeHeaderRejectsOverflowingDate(t *testing.T) {
	owner, err := clarity.NewPrincipal(devnet.Wallet1)
	require.NoError(t, err)

	_, err = decodeHeader("alice-123", clarity.Tuple{
		"name":          clarity.StringUTF8("Alice"),
		"date-of-birth": clarity.UInt(1 << 63),
		"blood-type":    clarity.StringASCII("O+"),
		"record-hash":   clarity.Buffer(nil),
		"last-updated":  clarity.UInt(1),
		"is-active":     clarity.Bool(true),
		"owner":         owner,
	})
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestGetPatientRecordErrors(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	alice := gatewayFor(t, ledger, devnet.Wallet1)
	bob := gatewayFor(t, ledger, devnet.Wallet2)

	_, err := alice.GetPatientRecord(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := alice.RegisterPatient(ctx, aliceCommand())
	require.True(t, settle(t, alice, res, err).Succeeded())

	_, err = bob.GetPatientRecord(ctx, "alice-123")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = alice.GetPatientRecord(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRecordHashIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	alice := gatewayFor(t, newLedger(), devnet.Wallet1)
	res, err := alice.RegisterPatient(ctx, aliceCommand())
	require.True(t, settle(t, alice, res, err).Succeeded())

	const cid = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	res, err = alice.UpdatePatientRecord(ctx, "alice-123", cid)
	require.True(t, settle(t, alice, res, err).Succeeded())

	h, err := alice.GetPatientRecord(ctx, "alice-123")
	require.NoError(t, err)
	assert.Equal(t, cid, h.RecordHash)
	assert.True(t, h.HasRecords())

	_, err = alice.UpdatePatientRecord(ctx, "alice-123", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateByStrangerIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	alice := gatewayFor(t, ledger, devnet.Wallet1)
	bob := gatewayFor(t, ledger, devnet.Wallet2)
	res, err := alice.RegisterPatient(ctx, aliceCommand())
	require.True(t, settle(t, alice, res, err).Succeeded())

	res, err = bob.UpdatePatientRecord(ctx, "alice-123", "bafy-stolen")
	s := settle(t, bob, res, err)
	assert.ErrorIs(t, s.Err, domain.ErrUnauthorized)

	res, err = bob.UpdatePatientRecord(ctx, "nobody", "bafy")
	s = settle(t, bob, res, err)
	assert.ErrorIs(t, s.Err, domain.ErrNotFound)
}

func TestAccessRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	alice := gatewayFor(t, ledger, devnet.Wallet1)
	bob := gatewayFor(t, ledger, devnet.Wallet2)
	bobAddr := domain.Principal(devnet.Wallet2)

	res, err := alice.RegisterPatient(ctx, aliceCommand())
	require.True(t, settle(t, alice, res, err).Succeeded())

	r, err := alice.GetAccessRequest(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Nil(t, r)

	res, err = bob.RequestAccess(ctx, "alice-123")
	require.True(t, settle(t, bob, res, err).Succeeded())

	res, err = bob.RequestAccess(ctx, "alice-123")
	assert.ErrorIs(t, settle(t, bob, res, err).Err, domain.ErrAlreadyExists)

	r, err = alice.GetAccessRequest(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, access.StatusPending, r.Status)
	assert.Nil(t, r.UpdatedAt)

	res, err = alice.GrantAccess(ctx, "alice-123", bobAddr)
	require.True(t, settle(t, alice, res, err).Succeeded())

	_, err = bob.GetPatientRecord(ctx, "alice-123")
	require.NoError(t, err)

	res, err = alice.RevokeAccess(ctx, "alice-123", bobAddr)
	require.True(t, settle(t, alice, res, err).Succeeded())

	r, err = bob.GetAccessRequest(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusRevoked, r.Status)
	require.NotNil(t, r.UpdatedAt)
	assert.LessOrEqual(t, r.RequestedAt, *r.UpdatedAt)

	_, err = bob.GetPatientRecord(ctx, "alice-123")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	res, err = bob.GrantAccess(ctx, "alice-123", bobAddr)
	assert.ErrorIs(t, settle(t, bob, res, err).Err, domain.ErrUnauthorized)

	_, err = alice.GrantAccess(ctx, "alice-123", "not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGetOwner(t *testing.T) {
	g := gatewayFor(t, newLedger(), devnet.Wallet3)
	owner, err := g.GetOwner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Principal(devnet.Deployer), owner)
}

func TestAwaitSettlementTimesOut(t *testing.T) {
	ledger := newLedger()
	ledger.SetPendingPolls(100)
	alice := gatewayFor(t, ledger, devnet.Wallet1)

	res, err := alice.RegisterPatient(context.Background(), aliceCommand())
	s := settle(t, alice, res, err)
	assert.True(t, s.TimedOut())
	assert.Equal(t, contractConfig().PollAttempts, s.Attempts)
	assert.NoError(t, s.Err)

	// the outcome was unknown, not failed: the registration did apply
	h, err := alice.GetPatientRecord(context.Background(), "alice-123")
	require.NoError(t, err)
	assert.Equal(t, "Alice", h.Name)
}

func TestAwaitSettlementHonoursContext(t *testing.T) {
	ledger := newLedger()
	ledger.SetPendingPolls(100)
	alice := gatewayFor(t, ledger, devnet.Wallet1)
	alice.cfg.PollInterval = 50 * time.Millisecond

	res, err := alice.RegisterPatient(context.Background(), aliceCommand())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = alice.AwaitSettlement(ctx, res.TxID)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestAwaitSettlementRetriesUnindexedAndFlakyNode(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		switch polls {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"tx_id":"0x01","tx_status":"abort_by_response",
				"tx_result":{"hex":"0x080100000000000000000000000000000069","repr":"(err u105)"},
				"contract_call":{"function_name":"request-access"}}`))
		}
	}))
	defer srv.Close()

	cfg := contractConfig()
	cfg.NodeURL = srv.URL
	g := New(cfg, NewNodeClient(cfg, srv.Client(), nil, zap.NewNop()), nil, nil, zap.NewNop())

	s, err := g.AwaitSettlement(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Attempts)
	assert.Equal(t, domain.SettlementFailed, s.Status)

	var ce *domain.ContractError
	require.ErrorAs(t, s.Err, &ce)
	assert.Equal(t, uint64(105), ce.Code)
	assert.Equal(t, "request-access", ce.Function)
}
