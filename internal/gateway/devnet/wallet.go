package devnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
)

// Wallet is a session.Wallet that signs for one fixed account and submits straight to a Ledger.
type Wallet struct {
	ledger  *Ledger
	payload session.WalletPayload

	mu       sync.Mutex
	signedIn bool
}

var _ session.Wallet = (*Wallet)(nil)

func NewWallet(ledger *Ledger, payload session.WalletPayload, signedIn bool) *Wallet {
	return &Wallet{ledger: ledger, payload: payload, signedIn: signedIn}
}

func (w *Wallet) Resume(ctx context.Context) (*session.WalletPayload, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.signedIn {
		return nil, nil
	}
	p := w.payload
	return &p, nil
}

func (w *Wallet) Connect(ctx context.Context) (*session.WalletPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrTimeout, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signedIn = true
	p := w.payload
	return &p, nil
}

func (w *Wallet) SignOut(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signedIn = false
	return nil
}

func (w *Wallet) SignAndSubmit(ctx context.Context, sender domain.Principal, spec session.TransactionSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: submit %s: %v", domain.ErrTimeout, spec.Function, err)
	}
	w.mu.Lock()
	signedIn := w.signedIn
	w.mu.Unlock()
	if !signedIn {
		return "", domain.ErrNotSignedIn
	}
	if sender.String() != w.payload.Address {
		return "", fmt.Errorf("%w: wallet cannot sign for %s", domain.ErrUnauthorized, sender)
	}

	args, err := spec.HexArgs()
	if err != nil {
		return "", err
	}
	return w.ledger.Submit(sender, spec.ContractAddress, spec.ContractName, spec.Function, args)
}
