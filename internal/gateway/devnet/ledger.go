// Package devnet runs the PatientRecord contract rules in memory behind the same node API
// the gateway talks to in production. It backs `serve --devnet` and the lifecycle tests.
package devnet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"go.uber.org/zap"
)

// Contract error codes, as the deployed contract defines them.
const (
	errNotAuthorized = 100
	errNotFound      = 101
	errInvalidInput  = 102
	errAlreadyExists = 103
)

type patientRow struct {
	name        string
	dateOfBirth uint64
	bloodType   string
	recordHash  []byte
	lastUpdated uint64
	owner       domain.Principal
}

type requestKey struct {
	patientID string
	requester domain.Principal
}

type requestRow struct {
	status      access.Status
	requestedAt uint64
	updatedAt   *uint64
}

type txRow struct {
	id        string
	function  string
	sender    domain.Principal
	result    clarity.Value
	pollsLeft int
}

// Ledger is a single-contract chain. Transactions execute at submission and then report
// pending for a configurable number of status polls.
type Ledger struct {
	mu sync.Mutex

	deployer     domain.Principal
	contractName string
	pendingPolls int
	height       uint64

	patients map[string]*patientRow
	requests map[requestKey]*requestRow
	txs      map[string]*txRow

	now func() time.Time
	log *zap.Logger
}

func NewLedger(contract config.ContractConfig, pendingPolls int, log *zap.Logger) *Ledger {
	if pendingPolls < 0 {
		pendingPolls = 0
	}
	return &Ledger{
		deployer:     domain.Principal(contract.Address),
		contractName: contract.Name,
		pendingPolls: pendingPolls,
		height:       1,
		patients:     make(map[string]*patientRow),
		requests:     make(map[requestKey]*requestRow),
		txs:          make(map[string]*txRow),
		now:          time.Now,
		log:          log,
	}
}

// SetPendingPolls changes how many status polls future transactions stay pending for.
func (l *Ledger) SetPendingPolls(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingPolls = max(n, 0)
}

func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Submit executes a contract call from sender and returns its transaction id.
// Calls the node would refuse at broadcast (wrong contract, undecodable or mistyped
// arguments) fail with ErrInvalidInput and leave no transaction behind.
func (l *Ledger) Submit(sender domain.Principal, contractAddress, contractName, function string, hexArgs []string) (string, error) {
	if contractAddress != l.deployer.String() || contractName != l.contractName {
		return "", fmt.Errorf("%w: unknown contract %s.%s", domain.ErrInvalidInput, contractAddress, contractName)
	}
	args, err := decodeArgs(hexArgs)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.height++
	result, err := l.execute(sender, function, args)
	if err != nil {
		l.height--
		return "", err
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", l.height, sender, function, strings.Join(hexArgs, ","))))
	id := hex.EncodeToString(sum[:])
	l.txs["0x"+id] = &txRow{
		id:        "0x" + id,
		function:  function,
		sender:    sender,
		result:    result,
		pollsLeft: l.pendingPolls,
	}

	l.log.Debug("devnet transaction executed",
		zap.String("tx_id", "0x"+id),
		zap.String("function", function),
		zap.String("sender", sender.String()),
		zap.String("result", clarity.Repr(result)),
		zap.Uint64("height", l.height),
	)
	return id, nil
}

// poll returns the transaction and whether it is still pending. The bool result is false
// when the id is unknown.
func (l *Ledger) poll(txID string) (txRow, bool, bool) {
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[txID]
	if !ok {
		return txRow{}, false, false
	}
	if tx.pollsLeft > 0 {
		tx.pollsLeft--
		return *tx, true, true
	}
	return *tx, false, true
}

// ReadOnly evaluates a read-only function as sender.
func (l *Ledger) ReadOnly(sender domain.Principal, function string, args []clarity.Value) (clarity.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch function {
	case "get-patient-record":
		id, err := argUTF8(args, 0, 1)
		if err != nil {
			return nil, err
		}
		return l.getPatientRecord(sender, id), nil
	case "get-access-request":
		if len(args) != 2 {
			return nil, arity(function, 2, len(args))
		}
		id, err := argUTF8(args, 0, 2)
		if err != nil {
			return nil, err
		}
		requester, err := argPrincipal(args, 1)
		if err != nil {
			return nil, err
		}
		return l.getAccessRequest(id, requester), nil
	case "get-owner":
		if len(args) != 0 {
			return nil, arity(function, 0, len(args))
		}
		owner, err := clarity.NewPrincipal(l.deployer.String())
		if err != nil {
			return nil, fmt.Errorf("%w: deployer: %v", domain.ErrInvalidInput, err)
		}
		return clarity.Ok(owner), nil
	}
	return nil, fmt.Errorf("%w: Unchecked(UndefinedFunction(%q))", domain.ErrInvalidInput, function)
}

func (l *Ledger) execute(sender domain.Principal, function string, args []clarity.Value) (clarity.Value, error) {
	switch function {
	case "register-patient":
		return l.registerPatient(sender, args)
	case "update-patient-record":
		return l.updatePatientRecord(sender, args)
	case "request-access":
		id, err := argUTF8(args, 0, 1)
		if err != nil {
			return nil, err
		}
		return l.requestAccess(sender, id), nil
	case "grant-access", "revoke-access":
		if len(args) != 2 {
			return nil, arity(function, 2, len(args))
		}
		id, err := argUTF8(args, 0, 2)
		if err != nil {
			return nil, err
		}
		provider, err := argPrincipal(args, 1)
		if err != nil {
			return nil, err
		}
		if function == "grant-access" {
			return l.decide(sender, id, provider, access.StatusGranted), nil
		}
		return l.decide(sender, id, provider, access.StatusRevoked), nil
	}
	return nil, fmt.Errorf("%w: no public function %q", domain.ErrInvalidInput, function)
}

func (l *Ledger) registerPatient(sender domain.Principal, args []clarity.Value) (clarity.Value, error) {
	if len(args) != 4 {
		return nil, arity("register-patient", 4, len(args))
	}
	id, err := argUTF8(args, 0, 4)
	if err != nil {
		return nil, err
	}
	name, ok := args[1].(clarity.StringUTF8)
	if !ok {
		return nil, mistyped(1, clarity.TypeStringUTF8, args[1])
	}
	dob, ok := args[2].(clarity.UInt)
	if !ok {
		return nil, mistyped(2, clarity.TypeUInt, args[2])
	}
	blood, ok := args[3].(clarity.StringASCII)
	if !ok {
		return nil, mistyped(3, clarity.TypeStringASCII, args[3])
	}

	if _, taken := l.patients[id]; taken {
		return errCode(errAlreadyExists), nil
	}
	switch {
	case id == "", utf8.RuneCountInString(id) > patient.MaxPatientIDLength:
		return errCode(errInvalidInput), nil
	case strings.TrimSpace(string(name)) == "":
		return errCode(errInvalidInput), nil
	case uint64(dob) >= uint64(l.now().UnixMilli()):
		return errCode(errInvalidInput), nil
	case !patient.BloodType(blood).IsValid():
		return errCode(errInvalidInput), nil
	}

	l.patients[id] = &patientRow{
		name:        string(name),
		dateOfBirth: uint64(dob),
		bloodType:   string(blood),
		lastUpdated: l.height,
		owner:       sender,
	}
	return clarity.Ok(clarity.Bool(true)), nil
}

func (l *Ledger) updatePatientRecord(sender domain.Principal, args []clarity.Value) (clarity.Value, error) {
	if len(args) != 2 {
		return nil, arity("update-patient-record", 2, len(args))
	}
	id, err := argUTF8(args, 0, 2)
	if err != nil {
		return nil, err
	}
	hash, ok := args[1].(clarity.Buffer)
	if !ok {
		return nil, mistyped(1, clarity.TypeBuffer, args[1])
	}

	p, found := l.patients[id]
	switch {
	case !found:
		return errCode(errNotFound), nil
	case p.owner != sender:
		return errCode(errNotAuthorized), nil
	case len(hash) == 0:
		return errCode(errInvalidInput), nil
	}
	p.recordHash = append([]byte(nil), hash...)
	p.lastUpdated = l.height
	return clarity.Ok(clarity.Bool(true)), nil
}

func (l *Ledger) requestAccess(sender domain.Principal, id string) clarity.Value {
	if _, found := l.patients[id]; !found {
		return errCode(errNotFound)
	}
	key := requestKey{patientID: id, requester: sender}
	if r, ok := l.requests[key]; ok && r.status.IsActive() {
		return errCode(errAlreadyExists)
	}
	// a revoked request is replaced, never reopened
	l.requests[key] = &requestRow{status: access.StatusPending, requestedAt: l.height}
	return clarity.Ok(clarity.Bool(true))
}

func (l *Ledger) decide(sender domain.Principal, id string, provider domain.Principal, next access.Status) clarity.Value {
	p, found := l.patients[id]
	if !found {
		return errCode(errNotFound)
	}
	if p.owner != sender {
		return errCode(errNotAuthorized)
	}
	r, ok := l.requests[requestKey{patientID: id, requester: provider}]
	if !ok || !r.status.CanTransitionTo(next) {
		return errCode(errNotFound)
	}
	at := l.height
	r.status = next
	r.updatedAt = &at
	return clarity.Ok(clarity.Bool(true))
}

func (l *Ledger) getPatientRecord(sender domain.Principal, id string) clarity.Value {
	p, found := l.patients[id]
	if !found {
		return errCode(errNotFound)
	}
	if !l.canRead(sender, id, p) {
		return errCode(errNotAuthorized)
	}
	owner, err := clarity.NewPrincipal(p.owner.String())
	if err != nil {
		return errCode(errInvalidInput)
	}
	return clarity.Ok(clarity.Tuple{
		"name":          clarity.StringUTF8(p.name),
		"date-of-birth": clarity.UInt(p.dateOfBirth),
		"blood-type":    clarity.StringASCII(p.bloodType),
		"record-hash":   clarity.Buffer(p.recordHash),
		"last-updated":  clarity.UInt(p.lastUpdated),
		"is-active":     clarity.Bool(true),
		"owner":         owner,
	})
}

func (l *Ledger) canRead(sender domain.Principal, id string, p *patientRow) bool {
	if sender == p.owner || sender == l.deployer {
		return true
	}
	r, ok := l.requests[requestKey{patientID: id, requester: sender}]
	return ok && r.status == access.StatusGranted
}

func (l *Ledger) getAccessRequest(id string, requester domain.Principal) clarity.Value {
	r, ok := l.requests[requestKey{patientID: id, requester: requester}]
	if !ok {
		return clarity.None()
	}
	updated := clarity.None()
	if r.updatedAt != nil {
		updated = clarity.Some(clarity.UInt(*r.updatedAt))
	}
	return clarity.Some(clarity.Tuple{
		"status":       clarity.StringASCII(r.status),
		"requested-at": clarity.UInt(r.requestedAt),
		"updated-at":   updated,
	})
}

func errCode(code uint64) clarity.Value {
	return clarity.Err(clarity.UInt(code))
}

func decodeArgs(hexArgs []string) ([]clarity.Value, error) {
	args := make([]clarity.Value, 0, len(hexArgs))
	for i, h := range hexArgs {
		v, err := clarity.DecodeHex(h)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", domain.ErrInvalidInput, i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func arity(function string, want, got int) error {
	return fmt.Errorf("%w: Unchecked(IncorrectArgumentCount(%d, %d)) in %s", domain.ErrInvalidInput, want, got, function)
}

func mistyped(i int, want clarity.Type, got clarity.Value) error {
	return fmt.Errorf("%w: Unchecked(TypeValueError(%s, argument %d is %s))", domain.ErrInvalidInput, want, i, got.Type())
}

func argUTF8(args []clarity.Value, i, n int) (string, error) {
	if len(args) != n {
		return "", fmt.Errorf("%w: Unchecked(IncorrectArgumentCount(%d, %d))", domain.ErrInvalidInput, n, len(args))
	}
	s, ok := args[i].(clarity.StringUTF8)
	if !ok {
		return "", mistyped(i, clarity.TypeStringUTF8, args[i])
	}
	return string(s), nil
}

func argPrincipal(args []clarity.Value, i int) (domain.Principal, error) {
	switch p := args[i].(type) {
	case clarity.StandardPrincipal:
		return domain.Principal(p.String()), nil
	case clarity.ContractPrincipal:
		return domain.Principal(p.String()), nil
	}
	return "", mistyped(i, clarity.TypeStandardPrincipal, args[i])
}
