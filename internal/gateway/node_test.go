package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMapContractError(t *testing.T) {
	cases := []struct {
		code uint64
		want error
	}{
		{100, domain.ErrUnauthorized},
		{101, domain.ErrNotFound},
		{102, domain.ErrInvalidInput},
		{103, domain.ErrAlreadyExists},
		{104, domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, MapContractError("grant-access", tc.code), tc.want)
	}

	var ce *domain.ContractError
	require.ErrorAs(t, MapContractError("grant-access", 777), &ce)
	assert.Equal(t, uint64(777), ce.Code)
	assert.Equal(t, "contract_error", domain.Kind(ce))
}

func TestResultErrorFallsBackToRepr(t *testing.T) {
	assert.ErrorIs(t, resultError("request-access", "", "(err u103)"), domain.ErrAlreadyExists)
	assert.ErrorIs(t, resultError("request-access", "0xnothex", "(err u101)"), domain.ErrNotFound)
	assert.ErrorIs(t, resultError("request-access", "", "(err none)"), domain.ErrDecode)
}

func TestUnwrapResponse(t *testing.T) {
	v, err := unwrapResponse(FnGetOwner, clarity.Ok(clarity.UInt(1)))
	require.NoError(t, err)
	assert.Equal(t, clarity.UInt(1), v)

	_, err = unwrapResponse(FnGetPatientRecord, clarity.Err(clarity.UInt(101)))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = unwrapResponse(FnGetPatientRecord, clarity.Err(clarity.StringASCII("boom")))
	assert.ErrorIs(t, err, domain.ErrDecode)

	v, err = unwrapResponse(FnGetAccessRequest, clarity.None())
	require.NoError(t, err)
	assert.Equal(t, clarity.None(), v)
}

func TestCallReadOnlyMapsAnalysisFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"okay":false,"cause":"Unchecked(TypeValueError(UInt, Int(1)))"}`))
	}))
	defer srv.Close()

	cfg := contractConfig()
	cfg.NodeURL = srv.URL
	n := NewNodeClient(cfg, srv.Client(), nil, zap.NewNop())

	_, err := n.CallReadOnly(context.Background(), "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM", FnGetOwner, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNodeBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := contractConfig()
	cfg.NodeURL = srv.URL
	n := NewNodeClient(cfg, srv.Client(), nil, zap.NewNop())

	for range cfg.BreakerFailures {
		_, err := n.TxStatus(context.Background(), "0x01")
		assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	}
	_, err := n.TxStatus(context.Background(), "0x01")
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	assert.Equal(t, int32(cfg.BreakerFailures), hits.Load(), "open breaker must not reach the node")
}

func TestTxStatusNotIndexed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := contractConfig()
	cfg.NodeURL = srv.URL
	_, err := NewNodeClient(cfg, srv.Client(), nil, zap.NewNop()).TxStatus(context.Background(), "0x01")
	assert.True(t, errors.Is(err, errTxNotIndexed))
}
