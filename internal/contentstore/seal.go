package contentstore

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed blobs are magic || nonce || ciphertext.
var sealMagic = []byte("SHX1")

const maxSealedBytes = MaxBlobBytes + 4 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var errShortCiphertext = errors.New("ciphertext too short")

type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("store encryption key: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := make([]byte, 0, len(sealMagic)+len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, sealMagic), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	body := sealed[len(sealMagic):]
	if len(body) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, errShortCiphertext
	}
	nonce, ct := body[:s.aead.NonceSize()], body[s.aead.NonceSize():]
	return s.aead.Open(nil, nonce, ct, sealMagic)
}

func isSealed(b []byte) bool {
	return bytes.HasPrefix(b, sealMagic)
}
