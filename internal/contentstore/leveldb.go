package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/syndtr/goleveldb/leveldb"
)

const blobPrefix = "blob:"

// LevelDBBackend is a local content-addressed store for offline use.
type LevelDBBackend struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBBackend{db: db}, nil
}

func (l *LevelDBBackend) Name() string { return "leveldb" }

func (l *LevelDBBackend) Add(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: reading blob: %v", domain.ErrStoreUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	id := contentID(data)
	if err := l.db.Put([]byte(blobPrefix+id), data, nil); err != nil {
		return "", fmt.Errorf("%w: leveldb put: %v", domain.ErrStoreUnavailable, err)
	}
	return id, nil
}

func (l *LevelDBBackend) Cat(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	data, err := l.db.Get([]byte(blobPrefix+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: leveldb get: %v", domain.ErrStoreUnavailable, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (l *LevelDBBackend) Close() error {
	return l.db.Close()
}
