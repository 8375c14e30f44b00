package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
)

// MemoryBackend keeps blobs in process, keyed by their SHA-256.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	// failAdds counts pending injected Add failures.
	failAdds int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Add(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: reading blob: %v", domain.ErrStoreUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdds > 0 {
		m.failAdds--
		return "", fmt.Errorf("%w: injected failure", domain.ErrStoreUnavailable)
	}
	id := contentID(data)
	m.blobs[id] = data
	return id, nil
}

func (m *MemoryBackend) Cat(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// FailNextAdds injects store outages for the next n uploads.
func (m *MemoryBackend) FailNextAdds(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAdds = n
}

func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func contentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
