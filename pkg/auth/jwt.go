package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope limits what a signer token authorizes.
type Scope string

const (
	ScopeSession Scope = "session" // read or start a wallet session
	ScopeSign    Scope = "sign"    // sign and broadcast one transaction
)

var (
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrTokenScopeMismatch = errors.New("wrong token scope")
	ErrPayloadMismatch    = errors.New("token does not cover this payload")
)

type signerClaims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
	// PayloadSHA256 binds a sign token to exactly one request body.
	PayloadSHA256 string `json:"payload_sha256,omitempty"`
}

// Claims is the verified content of a signer token.
type Claims struct {
	ID            string
	Subject       string
	Scope         Scope
	PayloadSHA256 string
	ExpiresAt     time.Time
}

// JWTManager mints the short-lived HS256 tokens presented to the wallet-signing
// service and verifies them on the receiving side.
type JWTManager struct {
	cfg config.SignerConfig
}

func NewJWTManager(cfg config.SignerConfig) *JWTManager {
	return &JWTManager{cfg: cfg}
}

func (m *JWTManager) Issue(subject string, scope Scope, payloadSHA256 string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.cfg.TokenTTL)

	claims := signerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.cfg.Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			// skew tolerance for clock drift between us and the signer
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Scope:         scope,
		PayloadSHA256: payloadSHA256,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) Validate(tokenString string, expected Scope) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&signerClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(m.cfg.Secret), nil
		},
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*signerClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Scope != expected {
		return nil, ErrTokenScopeMismatch
	}

	out := &Claims{
		ID:            claims.ID,
		Subject:       claims.Subject,
		Scope:         claims.Scope,
		PayloadSHA256: claims.PayloadSHA256,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// ValidateFor additionally checks that a sign token was minted for payloadSHA256.
func (m *JWTManager) ValidateFor(tokenString, payloadSHA256 string) (*Claims, error) {
	claims, err := m.Validate(tokenString, ScopeSign)
	if err != nil {
		return nil, err
	}
	if claims.PayloadSHA256 != payloadSHA256 {
		return nil, ErrPayloadMismatch
	}
	return claims, nil
}
