package patient

import "errors"

var (
	ErrPatientIDRequired  = errors.New("patient id is required")
	ErrPatientIDTooLong   = errors.New("patient id exceeds 64 characters")
	ErrNameRequired       = errors.New("name is required")
	ErrInvalidBloodType   = errors.New("invalid blood type")
	ErrInvalidDateOfBirth = errors.New("date of birth must be in the past and not before 1970-01-01")
)
