package patient

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
)

const MaxPatientIDLength = 64

// EarliestDateOfBirth is the Unix epoch: the contract stores dates of birth as uint
// milliseconds, so earlier dates cannot be encoded.
var EarliestDateOfBirth = time.Unix(0, 0).UTC()

type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

var BloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg, BloodTypeBPos, BloodTypeBNeg,
	BloodTypeABPos, BloodTypeABNeg, BloodTypeOPos, BloodTypeONeg,
}

func (b BloodType) IsValid() bool {
	return slices.Contains(BloodTypes, b)
}

// Header is the on-chain patient record. RecordHash is the content id of the
// current record bundle and the only authoritative pointer to it.
type Header struct {
	PatientID   string           `json:"patient_id"`
	RecordHash  string           `json:"record_hash,omitempty"`
	Name        string           `json:"name"`
	DateOfBirth time.Time        `json:"date_of_birth"`
	BloodType   BloodType        `json:"blood_type"`
	LastUpdated uint64           `json:"last_updated"` // block height
	IsActive    bool             `json:"is_active"`
	Owner       domain.Principal `json:"owner"`
}

func (h *Header) HasRecords() bool {
	return h != nil && h.RecordHash != ""
}

type RegisterCommand struct {
	PatientID   string    `json:"patient_id"`
	Name        string    `json:"name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	BloodType   BloodType `json:"blood_type"`
}

// Normalize trims the free-text fields in place.
func (c *RegisterCommand) Normalize() {
	c.PatientID = strings.TrimSpace(c.PatientID)
	c.Name = strings.TrimSpace(c.Name)
	c.BloodType = BloodType(strings.ToUpper(strings.TrimSpace(string(c.BloodType))))
}

// Problems lists every field-level violation; an empty result means the command is valid at now.
func (c *RegisterCommand) Problems(now time.Time) []error {
	var errs []error
	if err := ValidatePatientID(c.PatientID); err != nil {
		errs = append(errs, err)
	}
	if c.Name == "" {
		errs = append(errs, ErrNameRequired)
	}
	if !ValidDateOfBirth(c.DateOfBirth, now) {
		errs = append(errs, ErrInvalidDateOfBirth)
	}
	if !c.BloodType.IsValid() {
		errs = append(errs, ErrInvalidBloodType)
	}
	return errs
}

func ValidatePatientID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrPatientIDRequired
	}
	if utf8.RuneCountInString(id) > MaxPatientIDLength {
		return ErrPatientIDTooLong
	}
	return nil
}

// ValidDateOfBirth requires a date strictly before now and not before EarliestDateOfBirth.
func ValidDateOfBirth(dob, now time.Time) bool {
	if dob.IsZero() || !dob.Before(now) {
		return false
	}
	return !dob.Before(EarliestDateOfBirth)
}

// Repository is the contract-backed patient registry.
type Repository interface {
	// GetPatientRecord returns domain.ErrNotFound for unknown ids and domain.ErrUnauthorized
	// when the caller lacks read entitlement.
	GetPatientRecord(ctx context.Context, patientID string) (*Header, error)

	RegisterPatient(ctx context.Context, cmd *RegisterCommand) (*domain.TransactionResult, error)

	// UpdatePatientRecord points the header at a new record bundle. Owner only.
	UpdatePatientRecord(ctx context.Context, patientID, recordHash string) (*domain.TransactionResult, error)
}
