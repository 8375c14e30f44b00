package medical_record

import (
	"strings"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(id string, typ RecordType, at time.Time) Entry {
	return Entry{
		ID:              id,
		RecordType:      typ,
		Timestamp:       at,
		ProviderAddress: "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG",
		ProviderName:    "Dr. Bob",
		Description:     "annual " + strings.ToLower(string(typ)),
		Attachments:     []Attachment{},
	}
}

func TestDecodeBundleAcceptsListAndLegacyObject(t *testing.T) {
	list, err := DecodeBundle([]byte(`[{"id":"a","recordType":"Imaging","description":"x"}]`))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, TypeImaging, list[0].RecordType)
	assert.NotNil(t, list[0].Attachments)

	legacy, err := DecodeBundle([]byte(`{"id":"b","recordType":"Surgery","description":"y"}`))
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.Equal(t, "b", legacy[0].ID)

	empty, err := DecodeBundle([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestDecodeBundleRejectsNonJSON(t *testing.T) {
	_, err := DecodeBundle([]byte("not json"))
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = DecodeBundle(nil)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestValidateBundle(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := sampleEntry("1", TypeVaccination, now)
	e.Attachments = []Attachment{{
		Name: "card.pdf", Type: "application/pdf", ContentID: "bafy1", Size: 42, UploadedAt: now,
	}}
	assert.NoError(t, ValidateBundle([]Entry{e}))
	assert.NoError(t, ValidateBundle(nil))

	bad := sampleEntry("2", "Dental", now)
	assert.ErrorIs(t, ValidateBundle([]Entry{bad}), ErrInvalidBundle)

	noDesc := sampleEntry("3", TypeImaging, now)
	noDesc.Description = ""
	assert.ErrorIs(t, ValidateBundle([]Entry{noDesc}), ErrInvalidBundle)
}

func TestPublishCommandProblems(t *testing.T) {
	ok := &PublishCommand{RecordType: TypeImaging, Description: "MRI", Files: []File{{Name: "scan.png", Data: []byte{1}}}}
	assert.Empty(t, ok.Problems())

	files := make([]File, MaxAttachments+1)
	for i := range files {
		files[i] = File{Name: "f", Data: []byte{1}}
	}
	tooMany := &PublishCommand{RecordType: TypeImaging, Description: "MRI", Files: files}
	assert.Contains(t, tooMany.Problems(), ErrTooManyAttachments)

	big := &PublishCommand{RecordType: TypeImaging, Description: "MRI", Files: []File{{Name: "big", Data: make([]byte, MaxAttachmentBytes+1)}}}
	problems := big.Problems()
	require.Len(t, problems, 1)
	assert.ErrorIs(t, problems[0], ErrAttachmentTooLarge)

	bad := &PublishCommand{RecordType: "Dental"}
	assert.ElementsMatch(t, []error{ErrInvalidRecordType, ErrDescriptionRequired}, bad.Problems())
}

func TestFilterByTypeAndSearchNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		sampleEntry("old", TypeImaging, base),
		sampleEntry("new", TypeImaging, base.Add(48*time.Hour)),
		sampleEntry("lab", TypeLaboratoryTest, base.Add(24*time.Hour)),
	}

	all := Filter(entries, Query{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "lab", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	imaging := Filter(entries, Query{Type: TypeImaging})
	require.Len(t, imaging, 2)
	assert.Equal(t, "new", imaging[0].ID)

	search := Filter(entries, Query{Search: "LABORATORY"})
	require.Len(t, search, 1)
	assert.Equal(t, "lab", search[0].ID)

	byProvider := Filter(entries, Query{Search: "dr. bob"})
	assert.Len(t, byProvider, 3)

	assert.Equal(t, "old", entries[0].ID, "input order is preserved")
}
