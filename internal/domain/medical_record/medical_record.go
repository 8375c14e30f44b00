package medical_record

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

const (
	MaxAttachments     = 5
	MaxAttachmentBytes = 10 << 20
)

type RecordType string

const (
	TypeGeneralCheckup RecordType = "General Checkup"
	TypeLaboratoryTest RecordType = "Laboratory Test"
	TypePrescription   RecordType = "Prescription"
	TypeSurgery        RecordType = "Surgery"
	TypeVaccination    RecordType = "Vaccination"
	TypeImaging        RecordType = "Imaging"
	TypeConsultation   RecordType = "Consultation"
	TypeEmergency      RecordType = "Emergency"
)

var RecordTypes = []RecordType{
	TypeGeneralCheckup, TypeLaboratoryTest, TypePrescription, TypeSurgery,
	TypeVaccination, TypeImaging, TypeConsultation, TypeEmergency,
}

func (t RecordType) IsValid() bool {
	return slices.Contains(RecordTypes, t)
}

// Attachment references a blob in the content store. SHA256 is the digest of the plaintext.
type Attachment struct {
	Name       string    `json:"name" yaml:"name"`
	Type       string    `json:"type" yaml:"type"`
	ContentID  string    `json:"contentId" yaml:"content_id"`
	Size       int64     `json:"size" yaml:"size"`
	SHA256     string    `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	UploadedAt time.Time `json:"uploadedAt" yaml:"uploaded_at"`
}

// Entry is one item of a patient's off-chain history.
type Entry struct {
	ID              string           `json:"id" yaml:"id"`
	RecordType      RecordType       `json:"recordType" yaml:"record_type"`
	Timestamp       time.Time        `json:"timestamp" yaml:"timestamp"`
	ProviderAddress domain.Principal `json:"providerAddress" yaml:"provider_address"`
	ProviderName    string           `json:"providerName" yaml:"provider_name"`
	Description     string           `json:"description" yaml:"description"`
	Attachments     []Attachment     `json:"attachments" yaml:"attachments"`
}

// File is an attachment before upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type PublishCommand struct {
	PatientID    string
	RecordType   RecordType
	Description  string
	ProviderName string
	Files        []File
}

func (c *PublishCommand) Problems() []error {
	var errs []error
	if !c.RecordType.IsValid() {
		errs = append(errs, ErrInvalidRecordType)
	}
	if strings.TrimSpace(c.Description) == "" {
		errs = append(errs, ErrDescriptionRequired)
	}
	if len(c.Files) > MaxAttachments {
		errs = append(errs, ErrTooManyAttachments)
	}
	for _, f := range c.Files {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, ErrAttachmentNameNeeded)
		}
		if len(f.Data) > MaxAttachmentBytes {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, ErrAttachmentTooLarge))
		}
	}
	return errs
}

// Query filters a fetched record set. Zero values match everything.
type Query struct {
	Type   RecordType
	Search string
}

// Filter returns the matching entries newest first. The input is not modified.
func Filter(entries []Entry, q Query) []Entry {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if q.Type != "" && e.RecordType != q.Type {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(e.Description), needle) &&
			!strings.Contains(strings.ToLower(e.ProviderName), needle) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

//go:embed bundle_schema.json
var bundleSchema []byte

var bundleSchemaLoader = gojsonschema.NewBytesLoader(bundleSchema)

// ValidateBundle checks the document that will be uploaded as the patient's record set.
func ValidateBundle(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	doc, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	result, err := gojsonschema.Validate(bundleSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidBundle, strings.Join(msgs, "; "))
	}
	return nil
}

// DecodeBundle parses a stored record set. A legacy document holding one entry object
// is returned as a one-entry list; null decodes to an empty list.
func DecodeBundle(raw []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return nil, fmt.Errorf("%w: empty record document", domain.ErrDecode)
	case bytes.Equal(trimmed, []byte("null")):
		return []Entry{}, nil
	case trimmed[0] == '{':
		var e Entry
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		return normalize([]Entry{e}), nil
	}

	var entries []Entry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return normalize(entries), nil
}

func normalize(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	for i := range entries {
		if entries[i].Attachments == nil {
			entries[i].Attachments = []Attachment{}
		}
	}
	return entries
}
