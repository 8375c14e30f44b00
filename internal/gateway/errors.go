package gateway

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
)

// PatientRecord contract error codes.
const (
	ErrCodeNotAuthorized   uint64 = 100
	ErrCodePatientNotFound uint64 = 101
	ErrCodeInvalidInput    uint64 = 102
	ErrCodeAlreadyExists   uint64 = 103
	ErrCodeAccessDenied    uint64 = 104
)

// MapContractError translates an (err uN) code into the error taxonomy.
func MapContractError(function string, code uint64) error {
	switch code {
	case ErrCodeNotAuthorized:
		return fmt.Errorf("%s: %w (u%d)", function, domain.ErrUnauthorized, code)
	case ErrCodePatientNotFound:
		return fmt.Errorf("%s: %w (u%d)", function, domain.ErrNotFound, code)
	case ErrCodeInvalidInput:
		return fmt.Errorf("%s: %w (u%d)", function, domain.ErrInvalidInput, code)
	case ErrCodeAlreadyExists:
		return fmt.Errorf("%s: %w (u%d)", function, domain.ErrAlreadyExists, code)
	case ErrCodeAccessDenied:
		return fmt.Errorf("%s: access denied: %w (u%d)", function, domain.ErrUnauthorized, code)
	}
	return &domain.ContractError{Function: function, Code: code}
}

// unwrapResponse returns the ok payload of a response value, or the mapped error for (err ...).
// Non-response values are returned unchanged.
func unwrapResponse(function string, v clarity.Value) (clarity.Value, error) {
	switch r := v.(type) {
	case clarity.ResponseOk:
		return r.Value, nil
	case clarity.ResponseErr:
		return nil, responseErr(function, r)
	}
	return v, nil
}

func responseErr(function string, r clarity.ResponseErr) error {
	switch code := r.Value.(type) {
	case clarity.UInt:
		return MapContractError(function, uint64(code))
	case clarity.Int:
		if code >= 0 {
			return MapContractError(function, uint64(code))
		}
	}
	return fmt.Errorf("%w: %s returned err of type %s", domain.ErrDecode, function, r.Value.Type())
}

var reprErrCode = regexp.MustCompile(`^\(err u(\d+)\)$`)

// resultError derives the rejection from a settled tx result, preferring the hex form.
func resultError(function, hexResult, repr string) error {
	if hexResult != "" {
		if v, err := clarity.DecodeHex(hexResult); err == nil {
			if r, ok := v.(clarity.ResponseErr); ok {
				return responseErr(function, r)
			}
		}
	}
	if m := reprErrCode.FindStringSubmatch(repr); m != nil {
		if code, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			return MapContractError(function, code)
		}
	}
	return fmt.Errorf("%w: %s aborted with %q", domain.ErrDecode, function, repr)
}
