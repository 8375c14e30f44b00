// Package gateway exposes the PatientRecord contract as typed Go operations.
package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"go.uber.org/zap"
)

// Contract function names.
const (
	FnGetPatientRecord    = "get-patient-record"
	FnRegisterPatient     = "register-patient"
	FnUpdatePatientRecord = "update-patient-record"
	FnRequestAccess       = "request-access"
	FnGrantAccess         = "grant-access"
	FnRevokeAccess        = "revoke-access"
	FnGetAccessRequest    = "get-access-request"
	FnGetOwner            = "get-owner"
)

// MaxRecordHashBytes bounds the record-hash buffer argument.
const MaxRecordHashBytes = 128

// Signer is the slice of the session the gateway needs.
type Signer interface {
	CurrentPrincipal() (domain.Principal, error)
	SignAndSubmit(ctx context.Context, spec session.TransactionSpec) (*domain.TransactionResult, error)
}

type Gateway struct {
	cfg     config.ContractConfig
	node    *NodeClient
	signer  Signer
	metrics *metrics.Collector
	log     *zap.Logger
	now     func() time.Time
}

func New(cfg config.ContractConfig, node *NodeClient, signer Signer, m *metrics.Collector, log *zap.Logger) *Gateway {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		node:    node,
		signer:  signer,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

var (
	_ patient.Repository = (*Gateway)(nil)
	_ access.Repository  = (*Gateway)(nil)
)

func (g *Gateway) GetPatientRecord(ctx context.Context, patientID string) (*patient.Header, error) {
	idArg, err := patientIDArg(patientID)
	if err != nil {
		return nil, err
	}
	v, err := g.readOnly(ctx, FnGetPatientRecord, idArg)
	if err != nil {
		return nil, err
	}

	// Either (ok tuple) or (some tuple); none means unknown.
	if o, ok := v.(clarity.Optional); ok {
		if o.IsNone() {
			return nil, fmt.Errorf("%s %q: %w", FnGetPatientRecord, patientID, domain.ErrNotFound)
		}
		v = o.Value
	}
	tuple, ok := v.(clarity.Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %s, want tuple", domain.ErrDecode, FnGetPatientRecord, v.Type())
	}
	h, err := decodeHeader(patientID, tuple)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, FnGetPatientRecord, err)
	}
	return h, nil
}

// GetAccessRequest returns (nil, nil) when no request exists.
func (g *Gateway) GetAccessRequest(ctx context.Context, patientID string, requester domain.Principal) (*access.Request, error) {
	idArg, err := patientIDArg(patientID)
	if err != nil {
		return nil, err
	}
	reqArg, err := principalArg(requester)
	if err != nil {
		return nil, err
	}
	v, err := g.readOnly(ctx, FnGetAccessRequest, idArg, reqArg)
	if err != nil {
		return nil, err
	}

	o, ok := v.(clarity.Optional)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %s, want optional", domain.ErrDecode, FnGetAccessRequest, v.Type())
	}
	if o.IsNone() {
		return nil, nil
	}
	tuple, ok := o.Value.(clarity.Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned (some %s), want tuple", domain.ErrDecode, FnGetAccessRequest, o.Value.Type())
	}
	r, err := decodeAccessRequest(patientID, requester, tuple)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, FnGetAccessRequest, err)
	}
	return r, nil
}

func (g *Gateway) GetOwner(ctx context.Context) (domain.Principal, error) {
	v, err := g.readOnly(ctx, FnGetOwner)
	if err != nil {
		return "", err
	}
	switch p := v.(type) {
	case clarity.StandardPrincipal:
		return domain.Principal(p.String()), nil
	case clarity.ContractPrincipal:
		return domain.Principal(p.String()), nil
	}
	return "", fmt.Errorf("%w: %s returned %s, want principal", domain.ErrDecode, FnGetOwner, v.Type())
}

func (g *Gateway) RegisterPatient(ctx context.Context, cmd *patient.RegisterCommand) (*domain.TransactionResult, error) {
	if problems := cmd.Problems(g.now()); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, FnRegisterPatient, problems)
	}
	blood, err := clarity.NewStringASCII(string(cmd.BloodType))
	if err != nil {
		return nil, fmt.Errorf("%w: blood type: %v", domain.ErrInvalidInput, err)
	}
	// Problems rejects dates before the epoch, so the millisecond count is non-negative.
	return g.submit(ctx, FnRegisterPatient,
		clarity.StringUTF8(cmd.PatientID),
		clarity.StringUTF8(cmd.Name),
		clarity.UInt(uint64(cmd.DateOfBirth.UnixMilli())),
		blood,
	)
}

// UpdatePatientRecord sends the content id as the UTF-8 bytes of a buffer. Content ids are
// opaque and case-sensitive, so they are never hex-decoded.
func (g *Gateway) UpdatePatientRecord(ctx context.Context, patientID, recordHash string) (*domain.TransactionResult, error) {
	idArg, err := patientIDArg(patientID)
	if err != nil {
		return nil, err
	}
	if recordHash == "" || len(recordHash) > MaxRecordHashBytes {
		return nil, fmt.Errorf("%w: record hash must be 1-%d bytes", domain.ErrInvalidInput, MaxRecordHashBytes)
	}
	return g.submit(ctx, FnUpdatePatientRecord, idArg, clarity.Buffer(recordHash))
}

func (g *Gateway) RequestAccess(ctx context.Context, patientID string) (*domain.TransactionResult, error) {
	idArg, err := patientIDArg(patientID)
	if err != nil {
		return nil, err
	}
	return g.submit(ctx, FnRequestAccess, idArg)
}

func (g *Gateway) GrantAccess(ctx context.Context, patientID string, provider domain.Principal) (*domain.TransactionResult, error) {
	return g.providerTx(ctx, FnGrantAccess, patientID, provider)
}

func (g *Gateway) RevokeAccess(ctx context.Context, patientID string, provider domain.Principal) (*domain.TransactionResult, error) {
	return g.providerTx(ctx, FnRevokeAccess, patientID, provider)
}

func (g *Gateway) providerTx(ctx context.Context, function, patientID string, provider domain.Principal) (*domain.TransactionResult, error) {
	idArg, err := patientIDArg(patientID)
	if err != nil {
		return nil, err
	}
	provArg, err := principalArg(provider)
	if err != nil {
		return nil, err
	}
	return g.submit(ctx, function, idArg, provArg)
}

func (g *Gateway) readOnly(ctx context.Context, function string, args ...clarity.Value) (clarity.Value, error) {
	start := time.Now()
	v, err := g.readOnlyRaw(ctx, function, args)
	g.metrics.ObserveContractCall(function, domain.Kind(err), start)
	if err != nil {
		g.log.Debug("read-only call failed", zap.String("function", function), zap.Error(err))
	}
	return v, err
}

func (g *Gateway) readOnlyRaw(ctx context.Context, function string, args []clarity.Value) (clarity.Value, error) {
	sender, err := g.signer.CurrentPrincipal()
	if err != nil {
		return nil, err
	}
	hexArgs, err := session.TransactionSpec{Function: function, Args: args}.HexArgs()
	if err != nil {
		return nil, err
	}
	v, err := g.node.CallReadOnly(ctx, sender, function, hexArgs)
	if err != nil {
		return nil, err
	}
	return unwrapResponse(function, v)
}

func (g *Gateway) submit(ctx context.Context, function string, args ...clarity.Value) (*domain.TransactionResult, error) {
	start := time.Now()
	spec := session.TransactionSpec{
		ContractAddress: g.cfg.Address,
		ContractName:    g.cfg.Name,
		Function:        function,
		Args:            args,
		Network:         g.cfg.Network,
	}
	// Encode up front so an argument that does not fit its declared type never leaves the process.
	if _, err := spec.HexArgs(); err != nil {
		g.metrics.ObserveContractCall(function, domain.Kind(err), start)
		return nil, err
	}

	res, err := g.signer.SignAndSubmit(ctx, spec)
	g.metrics.ObserveContractCall(function, domain.Kind(err), start)
	if err != nil {
		g.log.Warn("transaction submission failed", zap.String("function", function), zap.Error(err))
		return nil, err
	}

	g.log.Info("transaction submitted",
		zap.String("function", function),
		zap.String("tx_id", res.TxID),
		zap.String("sender", res.Sender.String()),
	)
	return res, nil
}

func patientIDArg(id string) (clarity.Value, error) {
	if err := patient.ValidatePatientID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return clarity.StringUTF8(id), nil
}

func principalArg(p domain.Principal) (clarity.Value, error) {
	v, err := clarity.NewPrincipal(p.String())
	if err != nil {
		return nil, fmt.Errorf("%w: principal %q: %v", domain.ErrInvalidInput, p, err)
	}
	return v, nil
}

func decodeHeader(patientID string, t clarity.Tuple) (*patient.Header, error) {
	name, err := t.String("name")
	if err != nil {
		return nil, err
	}
	dob, err := t.UInt("date-of-birth")
	if err != nil {
		return nil, err
	}
	if dob > math.MaxInt64 {
		return nil, fmt.Errorf("%w: date-of-birth %d out of range", domain.ErrDecode, dob)
	}
	blood, err := t.String("blood-type")
	if err != nil {
		return nil, err
	}
	hashBytes, err := t.Buffer("record-hash")
	if err != nil {
		return nil, err
	}
	lastUpdated, err := t.UInt("last-updated")
	if err != nil {
		return nil, err
	}
	active, err := t.Bool("is-active")
	if err != nil {
		return nil, err
	}
	owner, err := t.Principal("owner")
	if err != nil {
		return nil, err
	}

	return &patient.Header{
		PatientID:   patientID,
		RecordHash:  recordHashString(hashBytes),
		Name:        name,
		DateOfBirth: time.UnixMilli(int64(dob)).UTC(),
		BloodType:   patient.BloodType(blood),
		LastUpdated: lastUpdated,
		IsActive:    active,
		Owner:       domain.Principal(owner),
	}, nil
}

// recordHashString reads the buffer as the content id it was written from. Buffers that are
// not UTF-8 were written as raw digests and are rendered as hex.
func recordHashString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

func decodeAccessRequest(patientID string, requester domain.Principal, t clarity.Tuple) (*access.Request, error) {
	raw, err := t.String("status")
	if err != nil {
		return nil, err
	}
	status, err := access.ParseStatus(raw)
	if err != nil {
		return nil, fmt.Errorf("status %q: %w", raw, err)
	}
	requestedAt, err := t.UInt("requested-at")
	if err != nil {
		return nil, err
	}

	r := &access.Request{
		PatientID:   patientID,
		Requester:   requester,
		Status:      status,
		RequestedAt: requestedAt,
	}
	if _, present := t["updated-at"]; present {
		updated, ok, err := t.OptionalUInt("updated-at")
		if err != nil {
			return nil, err
		}
		if ok {
			r.UpdatedAt = &updated
		}
	}
	return r, nil
}
