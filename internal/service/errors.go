package service

import (
	"errors"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
)

// ValidationError lists every problem found in a command. It matches domain.ErrInvalidInput.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidInput }

func validationError(problems []error) error {
	if len(problems) == 0 {
		return nil
	}
	fields := make([]string, 0, len(problems))
	for _, p := range problems {
		fields = append(fields, p.Error())
	}
	return &ValidationError{Fields: fields}
}

// ErrRoleNotPermitted guards role-scoped dashboard views. It never gates a contract call.
var ErrRoleNotPermitted = errors.New("view not available for this role")

type AuditEntry struct {
	Principal domain.Principal
	Role      domain.Role
	Action    domain.AuditAction
	PatientID string
	Subject   string
	TxID      string
	Outcome   string
	RequestID string
	Detail    map[string]any
}
