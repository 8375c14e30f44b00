// Package session is the process-wide identity context: who is signed in and how
// their transactions get signed. The wallet itself lives outside this process.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"go.uber.org/zap"
)

// TransactionSpec is a contract call to be signed by the wallet.
type TransactionSpec struct {
	ContractAddress string
	ContractName    string
	Function        string
	Args            []clarity.Value
	Network         string
}

// HexArgs serializes the arguments the way the node and signer expect them.
func (s TransactionSpec) HexArgs() ([]string, error) {
	out := make([]string, 0, len(s.Args))
	for i, a := range s.Args {
		h, err := clarity.EncodeHex(a)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d of %s: %v", domain.ErrInvalidInput, i, s.Function, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// WalletPayload is the untyped profile a wallet hands back after sign-in.
type WalletPayload struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Wallet is the consumed session provider.
type Wallet interface {
	// Resume completes a pending sign-in or returns the active one; (nil, nil) when signed out.
	Resume(ctx context.Context) (*WalletPayload, error)
	// Connect starts an interactive sign-in and blocks until it completes.
	Connect(ctx context.Context) (*WalletPayload, error)
	SignAndSubmit(ctx context.Context, sender domain.Principal, spec TransactionSpec) (txID string, err error)
	SignOut(ctx context.Context) error
}

// Manager holds the signed-in profile. It is safe for concurrent use.
type Manager struct {
	wallet Wallet
	log    *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	profile *domain.Profile
}

func NewManager(wallet Wallet, log *zap.Logger) *Manager {
	return &Manager{wallet: wallet, log: log, now: time.Now}
}

// Init loads a pending or active session. Being signed out is not an error.
func (m *Manager) Init(ctx context.Context) error {
	payload, err := m.wallet.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resuming wallet session: %w", err)
	}
	if payload == nil {
		m.log.Info("no wallet session to resume")
		return nil
	}
	_, err = m.adopt(payload)
	return err
}

func (m *Manager) Connect(ctx context.Context) (*domain.Profile, error) {
	payload, err := m.wallet.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting wallet: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("connecting wallet: %w", domain.ErrNotSignedIn)
	}
	return m.adopt(payload)
}

func (m *Manager) adopt(payload *WalletPayload) (*domain.Profile, error) {
	p, err := ParseProfile(payload, m.now())
	if err != nil {
		return nil, err
	}
	if p.RoleDefaulted {
		m.log.Warn("wallet profile carries no usable role, showing patient views",
			zap.String("principal", p.Principal.String()),
			zap.String("raw_role", payload.Role),
		)
	}

	m.mu.Lock()
	m.profile = p
	m.mu.Unlock()

	m.log.Info("wallet session active",
		zap.String("principal", p.Principal.String()),
		zap.String("role", string(p.Role)),
	)
	cp := *p
	return &cp, nil
}

// SignOut clears local state even when the wallet fails to end its side.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.profile = nil
	m.mu.Unlock()

	if err := m.wallet.SignOut(ctx); err != nil {
		return fmt.Errorf("signing out of wallet: %w", err)
	}
	return nil
}

func (m *Manager) IsSignedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile != nil
}

func (m *Manager) CurrentPrincipal() (domain.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return "", domain.ErrNotSignedIn
	}
	return m.profile.Principal, nil
}

// Profile returns a copy of the signed-in profile.
func (m *Manager) Profile() (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return nil, domain.ErrNotSignedIn
	}
	cp := *m.profile
	return &cp, nil
}

func (m *Manager) SignAndSubmit(ctx context.Context, spec TransactionSpec) (*domain.TransactionResult, error) {
	sender, err := m.CurrentPrincipal()
	if err != nil {
		return nil, err
	}
	txID, err := m.wallet.SignAndSubmit(ctx, sender, spec)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	return &domain.TransactionResult{
		TxID:        txID,
		Function:    spec.Function,
		Sender:      sender,
		SubmittedAt: m.now(),
	}, nil
}

// ParsePrincipal validates a standard Stacks address.
func ParsePrincipal(s string) (domain.Principal, error) {
	s = strings.TrimSpace(s)
	version, hash, err := clarity.DecodeAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: principal %q: %v", domain.ErrInvalidInput, s, err)
	}
	return domain.Principal(clarity.EncodeAddress(version, hash)), nil
}

// ParseProfile turns a wallet payload into the typed profile. A missing or unknown
// role falls back to patient for display; it never authorizes anything.
func ParseProfile(payload *WalletPayload, now time.Time) (*domain.Profile, error) {
	if payload == nil {
		return nil, domain.ErrNotSignedIn
	}
	principal, err := ParsePrincipal(payload.Address)
	if err != nil {
		return nil, err
	}

	p := &domain.Profile{
		Principal:  principal,
		Name:       strings.TrimSpace(payload.Name),
		Email:      strings.ToLower(strings.TrimSpace(payload.Email)),
		Role:       domain.Role(strings.ToLower(strings.TrimSpace(payload.Role))),
		SignedInAt: now,
	}
	if !p.Role.IsValid() {
		p.Role = domain.RolePatient
		p.RoleDefaulted = true
	}
	return p, nil
}
