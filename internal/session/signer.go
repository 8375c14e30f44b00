package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/auth"
	"go.uber.org/zap"
)

// SignerWallet talks to an external wallet-signing service over HTTP.
//
//	GET    /v1/session          200 payload | 204 signed out
//	POST   /v1/session/connect  200 payload once the user approves
//	DELETE /v1/session
//	POST   /v1/transactions     {"txid": "..."}
type SignerWallet struct {
	baseURL string
	http    *http.Client
	tokens  *auth.JWTManager
	log     *zap.Logger
}

func NewSignerWallet(cfg config.SignerConfig, tokens *auth.JWTManager, httpClient *http.Client, log *zap.Logger) *SignerWallet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &SignerWallet{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     log,
	}
}

// SignRequest is the body of POST /v1/transactions.
type SignRequest struct {
	Sender          string   `json:"sender"`
	ContractAddress string   `json:"contractAddress"`
	ContractName    string   `json:"contractName"`
	FunctionName    string   `json:"functionName"`
	FunctionArgs    []string `json:"functionArgs"`
	Network         string   `json:"network"`
}

type signResponse struct {
	TxID  string `json:"txid"`
	Error string `json:"error,omitempty"`
}

func (w *SignerWallet) Resume(ctx context.Context) (*WalletPayload, error) {
	return w.session(ctx, http.MethodGet, "/v1/session")
}

func (w *SignerWallet) Connect(ctx context.Context) (*WalletPayload, error) {
	return w.session(ctx, http.MethodPost, "/v1/session/connect")
}

func (w *SignerWallet) SignOut(ctx context.Context) error {
	resp, err := w.do(ctx, http.MethodDelete, "/v1/session", nil, auth.ScopeSession, "", "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return statusError(resp)
	}
	return nil
}

func (w *SignerWallet) SignAndSubmit(ctx context.Context, sender domain.Principal, spec TransactionSpec) (string, error) {
	args, err := spec.HexArgs()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(SignRequest{
		Sender:          sender.String(),
		ContractAddress: spec.ContractAddress,
		ContractName:    spec.ContractName,
		FunctionName:    spec.Function,
		FunctionArgs:    args,
		Network:         spec.Network,
	})
	if err != nil {
		return "", fmt.Errorf("encoding sign request: %w", err)
	}

	resp, err := w.do(ctx, http.MethodPost, "/v1/transactions", body, auth.ScopeSign, sender.String(), digest(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", statusError(resp)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: signer response: %v", domain.ErrDecode, err)
	}
	if out.TxID == "" {
		return "", fmt.Errorf("%w: signer returned no txid: %s", domain.ErrNetworkFailure, out.Error)
	}

	w.log.Debug("transaction signed and broadcast",
		zap.String("function", spec.Function),
		zap.String("tx_id", out.TxID),
	)
	return out.TxID, nil
}

func (w *SignerWallet) session(ctx context.Context, method, path string) (*WalletPayload, error) {
	resp, err := w.do(ctx, method, path, nil, auth.ScopeSession, "", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, statusError(resp)
	}

	var payload WalletPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: wallet payload: %v", domain.ErrDecode, err)
	}
	return &payload, nil
}

func (w *SignerWallet) do(ctx context.Context, method, path string, body []byte, scope auth.Scope, subject, payloadDigest string) (*http.Response, error) {
	token, _, err := w.tokens.Issue(subject, scope, payloadDigest)
	if err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("building signer request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: signer %s %s: %v", domain.ErrTimeout, method, path, err)
		}
		return nil, fmt.Errorf("%w: signer %s %s: %v", domain.ErrNetworkFailure, method, path, err)
	}
	return resp, nil
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// PayloadDigest is the value a sign token is bound to, for the signer side to verify.
func PayloadDigest(body []byte) string { return digest(body) }

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(msg))
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// the user rejected the request in the wallet, or our token was refused
		return fmt.Errorf("%w: signer: %s", domain.ErrUnauthorized, text)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: signer: %s", domain.ErrNotSignedIn, text)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: signer: %s", domain.ErrInvalidInput, text)
	}
	return fmt.Errorf("%w: signer status %d: %s", domain.ErrNetworkFailure, resp.StatusCode, text)
}
