package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const deployer = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"

type fakeWallet struct {
	payload   *WalletPayload
	submitted []TransactionSpec
	signedOut bool
}

func (f *fakeWallet) Resume(context.Context) (*WalletPayload, error)  { return f.payload, nil }
func (f *fakeWallet) Connect(context.Context) (*WalletPayload, error) { return f.payload, nil }
func (f *fakeWallet) SignOut(context.Context) error {
	f.signedOut = true
	return nil
}
func (f *fakeWallet) SignAndSubmit(_ context.Context, _ domain.Principal, spec TransactionSpec) (string, error) {
	f.submitted = append(f.submitted, spec)
	return "abc", nil
}

func TestManagerLifecycle(t *testing.T) {
	w := &fakeWallet{}
	m := NewManager(w, zap.NewNop())

	require.NoError(t, m.Init(context.Background()))
	assert.False(t, m.IsSignedIn())
	_, err := m.CurrentPrincipal()
	assert.ErrorIs(t, err, domain.ErrNotSignedIn)

	_, err = m.SignAndSubmit(context.Background(), TransactionSpec{Function: "request-access"})
	assert.ErrorIs(t, err, domain.ErrNotSignedIn)
	assert.Empty(t, w.submitted)

	w.payload = &WalletPayload{Address: deployer, Name: " Alice ", Role: "provider"}
	p, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Principal(deployer), p.Principal)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, domain.RoleProvider, p.Role)
	assert.False(t, p.RoleDefaulted)

	res, err := m.SignAndSubmit(context.Background(), TransactionSpec{Function: "request-access"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.TxID)
	assert.Equal(t, domain.Principal(deployer), res.Sender)

	require.NoError(t, m.SignOut(context.Background()))
	assert.False(t, m.IsSignedIn())
	assert.True(t, w.signedOut)
}

func TestParseProfileDefaultsRole(t *testing.T) {
	now := time.Now()
	p, err := ParseProfile(&WalletPayload{Address: deployer}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, p.Role)
	assert.True(t, p.RoleDefaulted)

	p, err = ParseProfile(&WalletPayload{Address: deployer, Role: "admin"}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, p.Role)
	assert.True(t, p.RoleDefaulted)

	_, err = ParseProfile(&WalletPayload{Address: "bob"}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestParsePrincipalCanonicalizes(t *testing.T) {
	p, err := ParsePrincipal("  " + strings.ToLower(deployer) + " ")
	require.NoError(t, err)
	assert.Equal(t, domain.Principal(deployer), p)
}

func signerConfig(url string) config.SignerConfig {
	return config.SignerConfig{
		URL:      url,
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "securehealth",
		Audience: "securehealth-signer",
		TokenTTL: time.Minute,
		Timeout:  5 * time.Second,
	}
}

func TestSignerWalletSignsWithBoundToken(t *testing.T) {
	var verifier *auth.JWTManager
	var got SignRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/session":
			if _, err := verifier.Validate(token, auth.ScopeSession); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(WalletPayload{Address: deployer, Role: "patient"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions":
			body, _ := io.ReadAll(r.Body)
			claims, err := verifier.ValidateFor(token, PayloadDigest(body))
			if err != nil || claims.Subject != deployer {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.Unmarshal(body, &got)
			_ = json.NewEncoder(w).Encode(map[string]string{"txid": "0xfeed"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := signerConfig(srv.URL)
	verifier = auth.NewJWTManager(cfg)
	wallet := NewSignerWallet(cfg, auth.NewJWTManager(cfg), srv.Client(), zap.NewNop())

	m := NewManager(wallet, zap.NewNop())
	require.NoError(t, m.Init(context.Background()))
	require.True(t, m.IsSignedIn())

	res, err := m.SignAndSubmit(context.Background(), TransactionSpec{
		ContractAddress: deployer,
		ContractName:    "PatientRecord",
		Function:        "request-access",
		Args:            []clarity.Value{clarity.StringUTF8("alice-123")},
		Network:         "testnet",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", res.TxID)
	assert.Equal(t, "request-access", got.FunctionName)
	assert.Equal(t, []string{"0x0e00000009616c6963652d313233"}, got.FunctionArgs)
	assert.Equal(t, deployer, got.Sender)
}

func TestSignerWalletMapsStatusCodes(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("rejected by user"))
	}))
	defer srv.Close()

	cfg := signerConfig(srv.URL)
	wallet := NewSignerWallet(cfg, auth.NewJWTManager(cfg), srv.Client(), zap.NewNop())
	spec := TransactionSpec{Function: "grant-access"}

	_, err := wallet.SignAndSubmit(context.Background(), deployer, spec)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	status = http.StatusBadGateway
	_, err = wallet.SignAndSubmit(context.Background(), deployer, spec)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)

	status = http.StatusNoContent
	payload, err := wallet.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestHexArgsRejectsUnencodableArgument(t *testing.T) {
	_, err := TransactionSpec{Function: "register-patient", Args: []clarity.Value{clarity.StringASCII("ÅB")}}.HexArgs()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
