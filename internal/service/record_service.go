package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	mr "github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/medical_record"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	recordViewTTL = 30 * time.Second
	// uploadConcurrency bounds parallel attachment uploads per publication.
	uploadConcurrency = 4
)

// RecordSet is a patient's header together with the decoded record bundle it points at.
// Entries is empty, never nil, when the patient has no records yet.
type RecordSet struct {
	Header  *patient.Header `json:"header"`
	Entries []mr.Entry      `json:"entries"`
}

type PublishResult struct {
	Entry      mr.Entry `json:"entry"`
	RecordHash string   `json:"record_hash"`
	Outcome    *Outcome `json:"outcome"`
}

// AttachmentBlob is a downloaded attachment with its bundle metadata.
type AttachmentBlob struct {
	Attachment mr.Attachment
	Data       []byte
}

type RecordService struct {
	lc      *Lifecycle
	store   ContentStore
	watch   *Watchlist
	records *ViewCache[*RecordSet]
	log     *zap.Logger
	now     func() time.Time
}

func NewRecordService(lc *Lifecycle, store ContentStore, watch *Watchlist, log *zap.Logger) *RecordService {
	s := &RecordService{lc: lc, store: store, watch: watch, log: log, now: time.Now}
	s.records = NewViewCache("records", recordViewTTL, s.load, log)
	return s
}

// Publish appends one entry to the patient's history and points the header at the new bundle.
// Attachments are uploaded first; any upload failure aborts before the header changes.
func (s *RecordService) Publish(ctx context.Context, cmd *mr.PublishCommand) (*PublishResult, error) {
	cmd.PatientID = strings.TrimSpace(cmd.PatientID)
	problems := cmd.Problems()
	if err := patient.ValidatePatientID(cmd.PatientID); err != nil {
		problems = append([]error{err}, problems...)
	}
	if err := validationError(problems); err != nil {
		return nil, err
	}
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	unlock := s.lc.locks.Lock(cmd.PatientID)
	defer unlock()

	current, err := s.load(ctx, cmd.PatientID)
	if err != nil {
		return nil, fmt.Errorf("fetching current records: %w", err)
	}

	attachments, err := s.uploadAttachments(ctx, cmd.Files)
	if err != nil {
		return nil, fmt.Errorf("uploading attachments: %w", err)
	}

	providerName := strings.TrimSpace(cmd.ProviderName)
	if providerName == "" {
		providerName = caller.DisplayName()
	}
	entry := mr.Entry{
		ID:              uuid.NewString(),
		RecordType:      cmd.RecordType,
		Timestamp:       s.now().UTC(),
		ProviderAddress: caller.Principal,
		ProviderName:    providerName,
		Description:     strings.TrimSpace(cmd.Description),
		Attachments:     attachments,
	}

	bundle := append(slices.Clone(current.Entries), entry)
	if err := mr.ValidateBundle(bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	hash, err := s.store.UploadJSON(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("uploading record bundle: %w", err)
	}

	out, err := s.lc.run(ctx, caller, mutation{
		name:      "publish_record",
		action:    domain.ActionPublish,
		event:     events.RecordPublished,
		patientID: cmd.PatientID,
		subject:   hash,
		submit: func(ctx context.Context) (*domain.TransactionResult, error) {
			return s.lc.contract.UpdatePatientRecord(ctx, cmd.PatientID, hash)
		},
		applied: func(ctx context.Context) (bool, error) {
			h, err := s.lc.contract.GetPatientRecord(ctx, cmd.PatientID)
			if err != nil {
				return false, err
			}
			return h.RecordHash == hash, nil
		},
	})
	if err != nil {
		return nil, err
	}

	if out.Applied() {
		s.watch.AddPatient(caller.Principal, cmd.PatientID)
		s.records.Patch(cmd.PatientID, func(rs *RecordSet) *RecordSet {
			h := *rs.Header
			h.RecordHash = hash
			return &RecordSet{Header: &h, Entries: bundle}
		})
	}
	s.records.ScheduleRefresh(cmd.PatientID)

	s.log.Info("medical record published",
		zap.String("patient_id", cmd.PatientID),
		zap.String("entry_id", entry.ID),
		zap.String("record_hash", hash),
		zap.Int("attachments", len(attachments)),
	)
	return &PublishResult{Entry: entry, RecordHash: hash, Outcome: out}, nil
}

// uploadAttachments stores every file concurrently. The first failure cancels the rest;
// blobs that already landed stay orphaned in the store.
func (s *RecordService) uploadAttachments(ctx context.Context, files []mr.File) ([]mr.Attachment, error) {
	out := make([]mr.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			id, err := s.store.UploadBytes(gctx, f.Data)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			contentType := f.ContentType
			if contentType == "" {
				contentType = http.DetectContentType(f.Data)
			}
			sum := sha256.Sum256(f.Data)
			out[i] = mr.Attachment{
				Name:       strings.TrimSpace(f.Name),
				Type:       contentType,
				ContentID:  id,
				Size:       int64(len(f.Data)),
				SHA256:     hex.EncodeToString(sum[:]),
				UploadedAt: s.now().UTC(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch reads the header once and dereferences its record hash once. A patient without
// records yields an empty set; a store or decode failure is returned as an error.
func (s *RecordService) Fetch(ctx context.Context, patientID string, q mr.Query) (*RecordSet, error) {
	if err := patient.ValidatePatientID(patientID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	set, err := s.load(ctx, patientID)
	s.lc.readAudit(ctx, caller, patientID, "records", err)
	if err != nil {
		return nil, err
	}
	return &RecordSet{Header: set.Header, Entries: mr.Filter(set.Entries, q)}, nil
}

// Attachment downloads a blob listed in the patient's current bundle and checks its digest.
func (s *RecordService) Attachment(ctx context.Context, patientID, contentID string) (*AttachmentBlob, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, fmt.Errorf("%w: content id is required", domain.ErrInvalidInput)
	}
	if err := patient.ValidatePatientID(patientID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	caller, err := s.lc.caller()
	if err != nil {
		return nil, err
	}

	set, err := s.load(ctx, patientID)
	s.lc.readAudit(ctx, caller, patientID, contentID, err)
	if err != nil {
		return nil, err
	}

	att, ok := findAttachment(set.Entries, contentID)
	if !ok {
		return nil, fmt.Errorf("attachment %s of %s: %w", contentID, patientID, domain.ErrNotFound)
	}
	data, err := s.store.RetrieveBytes(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if att.SHA256 != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != att.SHA256 {
			return nil, fmt.Errorf("%w: attachment %s digest mismatch", domain.ErrDecode, contentID)
		}
	}
	return &AttachmentBlob{Attachment: att, Data: data}, nil
}

// Snapshot serves the record set from the view cache.
func (s *RecordService) Snapshot(ctx context.Context, patientID string) (Snapshot[*RecordSet], error) {
	return s.records.Get(ctx, patientID)
}

func (s *RecordService) Reset() {
	s.records.Reset()
}

func (s *RecordService) load(ctx context.Context, patientID string) (*RecordSet, error) {
	h, err := s.lc.contract.GetPatientRecord(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !h.HasRecords() {
		return &RecordSet{Header: h, Entries: []mr.Entry{}}, nil
	}

	raw, err := s.store.RetrieveBytes(ctx, h.RecordHash)
	if err != nil {
		return nil, fmt.Errorf("record bundle %s: %w", h.RecordHash, err)
	}
	entries, err := mr.DecodeBundle(raw)
	if err != nil {
		return nil, fmt.Errorf("record bundle %s: %w", h.RecordHash, err)
	}
	return &RecordSet{Header: h, Entries: entries}, nil
}

func findAttachment(entries []mr.Entry, contentID string) (mr.Attachment, bool) {
	for _, e := range entries {
		for _, a := range e.Attachments {
			if a.ContentID == contentID {
				return a, true
			}
		}
	}
	return mr.Attachment{}, false
}

// IsEmpty distinguishes a patient without records from a failed fetch, which returns an error instead.
func (rs *RecordSet) IsEmpty() bool {
	return rs == nil || len(rs.Entries) == 0
}
