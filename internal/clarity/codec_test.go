package clarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHexKnownValues(t *testing.T) {
	cases := []struct {
		name string
		in   Value
		want string
	}{
		{"uint", UInt(1), "0x0100000000000000000000000000000001"},
		{"negative int", Int(-1), "0x00ffffffffffffffffffffffffffffffff"},
		{"true", Bool(true), "0x03"},
		{"none", None(), "0x09"},
		{"ok uint", Ok(UInt(7)), "0x070100000000000000000000000000000007"},
		{"err uint", Err(UInt(101)), "0x080100000000000000000000000000000065"},
		{"utf8", StringUTF8("hi"), "0x0e000000026869"},
		{"ascii", StringASCII("O+"), "0x0d000000024f2b"},
		{"buff", Buffer{0xde, 0xad}, "0x0200000002dead"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeHex(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTupleKeysAreSorted(t *testing.T) {
	got, err := EncodeHex(Tuple{"b": Bool(false), "a": Bool(true)})
	require.NoError(t, err)
	// count=2, "a" true, "b" false
	assert.Equal(t, "0x0c00000002"+"0161"+"03"+"0162"+"04", got)
}

func TestRoundTripNestedValue(t *testing.T) {
	p, err := NewPrincipal("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM")
	require.NoError(t, err)

	in := Ok(Some(Tuple{
		"owner":         p,
		"name":          StringUTF8("Jane Doe"),
		"date-of-birth": UInt(631152000000),
		"blood-type":    StringASCII("AB-"),
		"record-hash":   Buffer("bafybeigdyrzt"),
		"providers":     List{p, p},
		"last-updated":  Optional{},
	}))

	raw, err := EncodeHex(in)
	require.NoError(t, err)
	out, err := DecodeHex(raw)
	require.NoError(t, err)
	assert.Equal(t, Value(in), out)
}

func TestContractPrincipalRoundTrip(t *testing.T) {
	p, err := NewPrincipal("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.patient-record")
	require.NoError(t, err)
	cp, ok := p.(ContractPrincipal)
	require.True(t, ok)
	assert.Equal(t, "patient-record", cp.Name)

	raw, err := Serialize(cp)
	require.NoError(t, err)
	out, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.patient-record", out.(ContractPrincipal).String())
}

func TestDeserializeRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"unknown prefix": "0x42",
		"short uint":     "0x01000000",
		"trailing bytes": "0x0304",
		"bad length":     "0x02ffffffff",
		"bad hex":        "0xzz",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeHex(in)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestStringASCIIRejectsNonASCII(t *testing.T) {
	_, err := NewStringASCII("héllo")
	assert.Error(t, err)

	_, err = Serialize(StringASCII("\x01"))
	assert.Error(t, err)
}

func TestTupleGetters(t *testing.T) {
	tuple := Tuple{
		"count":   UInt(3),
		"granted": Bool(true),
		"label":   StringASCII("x"),
		"at":      Some(UInt(9)),
		"never":   None(),
	}

	n, err := tuple.UInt("count")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	b, err := tuple.Bool("granted")
	require.NoError(t, err)
	assert.True(t, b)

	s, err := tuple.String("label")
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	at, ok, err := tuple.OptionalUInt("at")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), at)

	_, ok, err = tuple.OptionalUInt("never")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tuple.UInt("label")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = tuple.Buffer("missing")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
