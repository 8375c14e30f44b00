package clarity

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxDepth       = 32
	maxTupleKeyLen = 128
)

var ErrMalformed = errors.New("malformed clarity value")

// Serialize encodes v in the SIP-005 consensus format.
func Serialize(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHex serializes v and renders it as 0x-prefixed hex, the form the node API expects.
func EncodeHex(v Value) (string, error) {
	b, err := Serialize(v)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

// DecodeHex accepts hex with or without the 0x prefix.
func DecodeHex(s string) (Value, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Deserialize(raw)
}

func Deserialize(b []byte) (Value, error) {
	d := decoder{buf: b}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.off != len(d.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf)-d.off)
	}
	return v, nil
}

func writeU32(buf *bytes.Buffer, n int) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	buf.Write(b[:])
}

func encode(buf *bytes.Buffer, v Value, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrMalformed)
	}
	buf.WriteByte(byte(v.Type()))

	switch x := v.(type) {
	case Int:
		var b [16]byte
		if x < 0 {
			for i := 0; i < 8; i++ {
				b[i] = 0xff
			}
		}
		binary.BigEndian.PutUint64(b[8:], uint64(x))
		buf.Write(b[:])
	case UInt:
		var b [16]byte
		binary.BigEndian.PutUint64(b[8:], uint64(x))
		buf.Write(b[:])
	case Buffer:
		writeU32(buf, len(x))
		buf.Write(x)
	case Bool:
	case StandardPrincipal:
		buf.WriteByte(x.Version)
		buf.Write(x.Hash160[:])
	case ContractPrincipal:
		buf.WriteByte(x.Version)
		buf.Write(x.Hash160[:])
		if len(x.Name) == 0 || len(x.Name) > 128 {
			return fmt.Errorf("%w: contract name length %d", ErrMalformed, len(x.Name))
		}
		buf.WriteByte(byte(len(x.Name)))
		buf.WriteString(x.Name)
	case ResponseOk:
		return encode(buf, x.Value, depth+1)
	case ResponseErr:
		return encode(buf, x.Value, depth+1)
	case Optional:
		if x.Value != nil {
			return encode(buf, x.Value, depth+1)
		}
	case List:
		writeU32(buf, len(x))
		for _, item := range x {
			if err := encode(buf, item, depth+1); err != nil {
				return err
			}
		}
	case Tuple:
		writeU32(buf, len(x))
		for _, k := range sortedKeys(x) {
			if len(k) == 0 || len(k) > maxTupleKeyLen {
				return fmt.Errorf("%w: tuple key %q", ErrMalformed, k)
			}
			buf.WriteByte(byte(len(k)))
			buf.WriteString(k)
			if err := encode(buf, x[k], depth+1); err != nil {
				return err
			}
		}
	case StringASCII:
		if _, err := NewStringASCII(string(x)); err != nil {
			return err
		}
		writeU32(buf, len(x))
		buf.WriteString(string(x))
	case StringUTF8:
		if !utf8.ValidString(string(x)) {
			return fmt.Errorf("%w: string-utf8 is not valid utf-8", ErrMalformed)
		}
		writeU32(buf, len(x))
		buf.WriteString(string(x))
	default:
		return fmt.Errorf("%w: unsupported value %T", ErrMalformed, v)
	}
	return nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, d.off, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) u32() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	if int(n) > len(d.buf) {
		return 0, fmt.Errorf("%w: length %d exceeds input", ErrMalformed, n)
	}
	return int(n), nil
}

func (d *decoder) principal() (StandardPrincipal, error) {
	b, err := d.take(21)
	if err != nil {
		return StandardPrincipal{}, err
	}
	p := StandardPrincipal{Version: b[0]}
	copy(p.Hash160[:], b[1:])
	return p, nil
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	tb, err := d.take(1)
	if err != nil {
		return nil, err
	}

	switch t := Type(tb[0]); t {
	case TypeInt, TypeUInt:
		b, err := d.take(16)
		if err != nil {
			return nil, err
		}
		hi := binary.BigEndian.Uint64(b[:8])
		lo := binary.BigEndian.Uint64(b[8:])
		if t == TypeUInt {
			if hi != 0 {
				return nil, fmt.Errorf("%w: uint exceeds 64 bits", ErrMalformed)
			}
			return UInt(lo), nil
		}
		// Only sign-extended 64-bit values are representable.
		if (hi == 0 && int64(lo) >= 0) || (hi == ^uint64(0) && int64(lo) < 0) {
			return Int(int64(lo)), nil
		}
		return nil, fmt.Errorf("%w: int exceeds 64 bits", ErrMalformed)
	case TypeBuffer:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return Buffer(append([]byte(nil), b...)), nil
	case TypeTrue:
		return Bool(true), nil
	case TypeFalse:
		return Bool(false), nil
	case TypeStandardPrincipal:
		return d.principal()
	case TypeContractPrincipal:
		p, err := d.principal()
		if err != nil {
			return nil, err
		}
		lb, err := d.take(1)
		if err != nil {
			return nil, err
		}
		name, err := d.take(int(lb[0]))
		if err != nil {
			return nil, err
		}
		return ContractPrincipal{StandardPrincipal: p, Name: string(name)}, nil
	case TypeResponseOk, TypeResponseErr, TypeSome:
		inner, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		switch t {
		case TypeResponseOk:
			return ResponseOk{Value: inner}, nil
		case TypeResponseErr:
			return ResponseErr{Value: inner}, nil
		}
		return Optional{Value: inner}, nil
	case TypeNone:
		return Optional{}, nil
	case TypeList:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		list := make(List, 0, n)
		for i := 0; i < n; i++ {
			item, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case TypeTuple:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		tuple := make(Tuple, n)
		for i := 0; i < n; i++ {
			lb, err := d.take(1)
			if err != nil {
				return nil, err
			}
			key, err := d.take(int(lb[0]))
			if err != nil {
				return nil, err
			}
			item, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			tuple[string(key)] = item
		}
		return tuple, nil
	case TypeStringASCII, TypeStringUTF8:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		if t == TypeStringASCII {
			return StringASCII(b), nil
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: string-utf8 is not valid utf-8", ErrMalformed)
		}
		return StringUTF8(b), nil
	default:
		return nil, fmt.Errorf("%w: unknown type prefix 0x%02x", ErrMalformed, tb[0])
	}
}
