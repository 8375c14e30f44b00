package clarity

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// Repr renders v in Clarity literal syntax, the form nodes use for tx_result.repr.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v)
	return b.String()
}

func writeRepr(b *strings.Builder, v Value) {
	switch x := v.(type) {
	case nil:
		b.WriteString("none")
	case Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case UInt:
		b.WriteByte('u')
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case Bool:
		b.WriteString(strconv.FormatBool(bool(x)))
	case Buffer:
		b.WriteString("0x")
		b.WriteString(hex.EncodeToString(x))
	case StringASCII:
		b.WriteString(strconv.Quote(string(x)))
	case StringUTF8:
		b.WriteByte('u')
		b.WriteString(strconv.Quote(string(x)))
	case StandardPrincipal:
		b.WriteByte('\'')
		b.WriteString(x.String())
	case ContractPrincipal:
		b.WriteByte('\'')
		b.WriteString(x.String())
	case ResponseOk:
		wrap(b, "ok", x.Value)
	case ResponseErr:
		wrap(b, "err", x.Value)
	case Optional:
		if x.IsNone() {
			b.WriteString("none")
			return
		}
		wrap(b, "some", x.Value)
	case List:
		b.WriteString("(list")
		for _, item := range x {
			b.WriteByte(' ')
			writeRepr(b, item)
		}
		b.WriteByte(')')
	case Tuple:
		b.WriteString("(tuple")
		for _, k := range sortedKeys(x) {
			b.WriteString(" (")
			b.WriteString(k)
			b.WriteByte(' ')
			writeRepr(b, x[k])
			b.WriteByte(')')
		}
		b.WriteByte(')')
	}
}

func wrap(b *strings.Builder, tag string, inner Value) {
	b.WriteByte('(')
	b.WriteString(tag)
	b.WriteByte(' ')
	writeRepr(b, inner)
	b.WriteByte(')')
}
