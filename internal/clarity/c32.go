package clarity

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Address versions.
const (
	VersionMainnetSingleSig byte = 22 // SP
	VersionMainnetMultiSig  byte = 20 // SM
	VersionTestnetSingleSig byte = 26 // ST
	VersionTestnetMultiSig  byte = 21 // SN
)

var ErrInvalidAddress = errors.New("invalid stacks address")

var c32Base = big.NewInt(32)

// c32Encode is a base32 big-number conversion that keeps one '0' per leading zero byte.
func c32Encode(data []byte) string {
	n := new(big.Int).SetBytes(data)
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, c32Base, mod)
		out = append(out, c32Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, '0')
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func c32Normalize(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "O", "0")
	s = strings.ReplaceAll(s, "L", "1")
	return strings.ReplaceAll(s, "I", "1")
}

func c32Decode(s string) ([]byte, error) {
	s = c32Normalize(s)
	n := new(big.Int)
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(c32Alphabet, s[i])
		if idx < 0 {
			return nil, fmt.Errorf("%w: character %q is not c32", ErrInvalidAddress, s[i])
		}
		n.Mul(n, c32Base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	zeros := 0
	for zeros < len(s) && s[zeros] == '0' {
		zeros++
	}
	return append(make([]byte, zeros), n.Bytes()...), nil
}

func checksum(version byte, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{version})
	h.Write(data)
	first := h.Sum(nil)
	second := sha256.Sum256(first)
	return second[:4]
}

// EncodeAddress renders a version and 20-byte hash160 as an S-prefixed c32check address.
func EncodeAddress(version byte, hash160 []byte) string {
	payload := append(append([]byte(nil), hash160...), checksum(version, hash160)...)
	return "S" + string(c32Alphabet[version&0x1f]) + c32Encode(payload)
}

// DecodeAddress parses a c32check address and verifies its checksum.
func DecodeAddress(addr string) (byte, []byte, error) {
	addr = strings.TrimSpace(addr)
	if len(addr) < 5 || (addr[0] != 'S' && addr[0] != 's') {
		return 0, nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	norm := c32Normalize(addr[1:])
	version := strings.IndexByte(c32Alphabet, norm[0])
	if version < 0 {
		return 0, nil, fmt.Errorf("%w: bad version character in %q", ErrInvalidAddress, addr)
	}

	payload, err := c32Decode(norm[1:])
	if err != nil {
		return 0, nil, err
	}
	const want = 20 + 4
	if len(payload) > want {
		return 0, nil, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, addr, len(payload))
	}
	if len(payload) < want {
		payload = append(make([]byte, want-len(payload)), payload...)
	}

	hash, sum := payload[:20], payload[20:]
	expected := checksum(byte(version), hash)
	for i := range sum {
		if sum[i] != expected[i] {
			return 0, nil, fmt.Errorf("%w: checksum mismatch for %q", ErrInvalidAddress, addr)
		}
	}
	return byte(version), hash, nil
}

// IsTestnet reports whether the address version belongs to testnet/devnet.
func IsTestnet(version byte) bool {
	return version == VersionTestnetSingleSig || version == VersionTestnetMultiSig
}
