package auth

import (
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(ttl time.Duration) *JWTManager {
	return NewJWTManager(config.SignerConfig{
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "securehealth",
		Audience: "securehealth-signer",
		TokenTTL: ttl,
	})
}

func TestIssueAndValidate(t *testing.T) {
	m := testManager(time.Minute)

	token, exp, err := m.Issue("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM", ScopeSign, "abc123")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := m.ValidateFor(token, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM", claims.Subject)
	assert.Equal(t, ScopeSign, claims.Scope)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejectsWrongScopeAndPayload(t *testing.T) {
	m := testManager(time.Minute)

	token, _, err := m.Issue("", ScopeSession, "")
	require.NoError(t, err)

	_, err = m.Validate(token, ScopeSign)
	assert.ErrorIs(t, err, ErrTokenScopeMismatch)

	signTok, _, err := m.Issue("", ScopeSign, "digest-a")
	require.NoError(t, err)
	_, err = m.ValidateFor(signTok, "digest-b")
	assert.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestValidateRejectsForeignSecretAndExpiry(t *testing.T) {
	m := testManager(time.Minute)
	other := NewJWTManager(config.SignerConfig{
		Secret: "another-secret-another-secret-xx", Issuer: "securehealth",
		Audience: "securehealth-signer", TokenTTL: time.Minute,
	})

	token, _, err := other.Issue("", ScopeSession, "")
	require.NoError(t, err)
	_, err = m.Validate(token, ScopeSession)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired := testManager(-time.Minute)
	token, _, err = expired.Issue("", ScopeSession, "")
	require.NoError(t, err)
	_, err = m.Validate(token, ScopeSession)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
