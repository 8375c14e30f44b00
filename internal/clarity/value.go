// Package clarity implements the SIP-005 wire format for Clarity values and the
// c32check address encoding used by Stacks principals.
package clarity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Type byte

const (
	TypeInt               Type = 0x00
	TypeUInt              Type = 0x01
	TypeBuffer            Type = 0x02
	TypeTrue              Type = 0x03
	TypeFalse             Type = 0x04
	TypeStandardPrincipal Type = 0x05
	TypeContractPrincipal Type = 0x06
	TypeResponseOk        Type = 0x07
	TypeResponseErr       Type = 0x08
	TypeNone              Type = 0x09
	TypeSome              Type = 0x0a
	TypeList              Type = 0x0b
	TypeTuple             Type = 0x0c
	TypeStringASCII       Type = 0x0d
	TypeStringUTF8        Type = 0x0e
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeUInt:
		return "uint"
	case TypeBuffer:
		return "buff"
	case TypeTrue, TypeFalse:
		return "bool"
	case TypeStandardPrincipal, TypeContractPrincipal:
		return "principal"
	case TypeResponseOk, TypeResponseErr:
		return "response"
	case TypeNone, TypeSome:
		return "optional"
	case TypeList:
		return "list"
	case TypeTuple:
		return "tuple"
	case TypeStringASCII:
		return "string-ascii"
	case TypeStringUTF8:
		return "string-utf8"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// ErrTypeMismatch reports a value whose Clarity type differs from the expected one.
var ErrTypeMismatch = errors.New("clarity type mismatch")

// Value is any Clarity value.
type Value interface {
	Type() Type
}

type (
	Int         int64
	UInt        uint64
	Buffer      []byte
	Bool        bool
	StringASCII string
	StringUTF8  string
	List        []Value
)

type StandardPrincipal struct {
	Version byte
	Hash160 [20]byte
}

type ContractPrincipal struct {
	StandardPrincipal
	Name string
}

type ResponseOk struct{ Value Value }

type ResponseErr struct{ Value Value }

// Optional is (some Value) when Value is non-nil and none otherwise.
type Optional struct{ Value Value }

type Tuple map[string]Value

func (Int) Type() Type               { return TypeInt }
func (UInt) Type() Type              { return TypeUInt }
func (Buffer) Type() Type            { return TypeBuffer }
func (StringASCII) Type() Type       { return TypeStringASCII }
func (StringUTF8) Type() Type        { return TypeStringUTF8 }
func (List) Type() Type              { return TypeList }
func (StandardPrincipal) Type() Type { return TypeStandardPrincipal }
func (ContractPrincipal) Type() Type { return TypeContractPrincipal }
func (ResponseOk) Type() Type        { return TypeResponseOk }
func (ResponseErr) Type() Type       { return TypeResponseErr }
func (Tuple) Type() Type             { return TypeTuple }

func (b Bool) Type() Type {
	if b {
		return TypeTrue
	}
	return TypeFalse
}

func (o Optional) Type() Type {
	if o.Value == nil {
		return TypeNone
	}
	return TypeSome
}

func None() Optional            { return Optional{} }
func Some(v Value) Optional     { return Optional{Value: v} }
func Ok(v Value) ResponseOk     { return ResponseOk{Value: v} }
func Err(v Value) ResponseErr   { return ResponseErr{Value: v} }
func (o Optional) IsNone() bool { return o.Value == nil }

// Address renders the principal in its c32check form.
func (p StandardPrincipal) Address() string {
	return EncodeAddress(p.Version, p.Hash160[:])
}

func (p StandardPrincipal) String() string {
	return p.Address()
}

func (p ContractPrincipal) String() string {
	return p.Address() + "." + p.Name
}

// NewStringASCII rejects characters outside printable ASCII plus tab, CR and LF.
func NewStringASCII(s string) (StringASCII, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return "", fmt.Errorf("string-ascii: byte 0x%02x at offset %d is not printable ascii", c, i)
		}
	}
	return StringASCII(s), nil
}

// NewPrincipal parses "ADDRESS" or "ADDRESS.contract-name".
func NewPrincipal(s string) (Value, error) {
	addr, name, isContract := strings.Cut(strings.TrimSpace(s), ".")
	version, hash, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	sp := StandardPrincipal{Version: version}
	copy(sp.Hash160[:], hash)
	if !isContract {
		return sp, nil
	}
	if name == "" || len(name) > 128 {
		return nil, fmt.Errorf("principal %q: contract name must be 1-128 characters", s)
	}
	return ContractPrincipal{StandardPrincipal: sp, Name: name}, nil
}

func sortedKeys(t Tuple) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mismatch(key string, want Type, got Value) error {
	if got == nil {
		return fmt.Errorf("%w: %s: missing, want %s", ErrTypeMismatch, key, want)
	}
	return fmt.Errorf("%w: %s: got %s, want %s", ErrTypeMismatch, key, got.Type(), want)
}

func (t Tuple) UInt(key string) (uint64, error) {
	v, ok := t[key].(UInt)
	if !ok {
		return 0, mismatch(key, TypeUInt, t[key])
	}
	return uint64(v), nil
}

func (t Tuple) Bool(key string) (bool, error) {
	v, ok := t[key].(Bool)
	if !ok {
		return false, mismatch(key, TypeTrue, t[key])
	}
	return bool(v), nil
}

func (t Tuple) Buffer(key string) ([]byte, error) {
	v, ok := t[key].(Buffer)
	if !ok {
		return nil, mismatch(key, TypeBuffer, t[key])
	}
	return []byte(v), nil
}

// String accepts both string-ascii and string-utf8 members.
func (t Tuple) String(key string) (string, error) {
	switch v := t[key].(type) {
	case StringASCII:
		return string(v), nil
	case StringUTF8:
		return string(v), nil
	}
	return "", mismatch(key, TypeStringUTF8, t[key])
}

func (t Tuple) Principal(key string) (string, error) {
	switch v := t[key].(type) {
	case StandardPrincipal:
		return v.String(), nil
	case ContractPrincipal:
		return v.String(), nil
	}
	return "", mismatch(key, TypeStandardPrincipal, t[key])
}

// OptionalUInt returns (0, false, nil) for none.
func (t Tuple) OptionalUInt(key string) (uint64, bool, error) {
	o, ok := t[key].(Optional)
	if !ok {
		return 0, false, mismatch(key, TypeSome, t[key])
	}
	if o.IsNone() {
		return 0, false, nil
	}
	v, ok := o.Value.(UInt)
	if !ok {
		return 0, false, mismatch(key, TypeUInt, o.Value)
	}
	return uint64(v), true, nil
}
