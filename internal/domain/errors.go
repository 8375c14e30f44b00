package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the gateway, the content store and the lifecycle layer.
// Callers match them with errors.Is; wrapped context is added with fmt.Errorf("%w").
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNetworkFailure   = errors.New("network failure")
	ErrStoreUnavailable = errors.New("content store unavailable")
	ErrDecode           = errors.New("decode error")
	ErrTimeout          = errors.New("timeout")
	ErrNotSignedIn      = errors.New("no wallet session")
)

// ContractError carries a contract error code that has no mapping in the taxonomy.
type ContractError struct {
	Function string
	Code     uint64
}

func (e *ContractError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("contract error u%d", e.Code)
	}
	return fmt.Sprintf("contract error u%d in %s", e.Code, e.Function)
}

// Kind returns the taxonomy name of err, for logs, metrics and API payloads.
func Kind(err error) string {
	var ce *ContractError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNetworkFailure):
		return "network_failure"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotSignedIn):
		return "not_signed_in"
	case errors.As(err, &ce):
		return "contract_error"
	}
	return "internal"
}
