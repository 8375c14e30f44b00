// Package contentstore moves opaque blobs and JSON documents in and out of a
// content-addressed store. Identifiers are whatever the backend hands back.
package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxBlobBytes caps a single stored object.
const MaxBlobBytes = 32 << 20

// Backend is a content-addressed store. Cat returns domain.ErrNotFound for unknown ids
// and domain.ErrStoreUnavailable when the store cannot be reached.
type Backend interface {
	Name() string
	Add(ctx context.Context, r io.Reader) (string, error)
	Cat(ctx context.Context, id string) (io.ReadCloser, error)
}

// Client performs no retries; retry policy belongs to the caller.
type Client struct {
	backend Backend
	sealer  *sealer
	metrics *metrics.Collector
	tracer  trace.Tracer
	log     *zap.Logger
}

// New wraps backend. A non-nil key enables envelope encryption of every blob.
func New(backend Backend, key []byte, m *metrics.Collector, log *zap.Logger) (*Client, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	c := &Client{
		backend: backend,
		metrics: m,
		tracer:  tracer.Tracer("contentstore"),
		log:     log,
	}
	if key != nil {
		s, err := newSealer(key)
		if err != nil {
			return nil, err
		}
		c.sealer = s
	}
	return c, nil
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, m *metrics.Collector, log *zap.Logger) (*Client, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Backend {
	case "ipfs":
		backend = NewIPFSBackend(cfg.IPFS, nil)
	case "s3":
		backend, err = NewS3Backend(ctx, cfg.S3)
	case "leveldb":
		backend, err = OpenLevelDB(cfg.LevelDB.Path)
	case "memory":
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Backend, err)
	}

	log.Info("content store ready",
		zap.String("backend", backend.Name()),
		zap.Bool("encrypted", key != nil),
	)
	return New(backend, key, m, log)
}

func (c *Client) Backend() string { return c.backend.Name() }

// Close releases the backend if it holds resources.
func (c *Client) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) UploadBytes(ctx context.Context, data []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "contentstore.upload",
		trace.WithAttributes(attribute.String("store.backend", c.backend.Name()), attribute.Int("store.bytes", len(data))))
	defer span.End()

	start := time.Now()
	id, err := c.upload(ctx, data)
	c.metrics.ObserveStoreOp(c.backend.Name(), "upload", domain.Kind(err), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
		c.log.Warn("content upload failed", zap.String("backend", c.backend.Name()), zap.Error(err))
		return "", err
	}
	c.metrics.StoreBytesTotal.WithLabelValues(c.backend.Name(), "out").Add(float64(len(data)))
	span.SetAttributes(attribute.String("store.content_id", id))
	return id, nil
}

func (c *Client) upload(ctx context.Context, data []byte) (string, error) {
	if len(data) > MaxBlobBytes {
		return "", fmt.Errorf("%w: blob of %d bytes exceeds %d", domain.ErrInvalidInput, len(data), MaxBlobBytes)
	}
	payload := data
	if c.sealer != nil {
		sealed, err := c.sealer.seal(data)
		if err != nil {
			return "", err
		}
		payload = sealed
	}
	return c.backend.Add(ctx, bytes.NewReader(payload))
}

func (c *Client) UploadJSON(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encoding document: %v", domain.ErrInvalidInput, err)
	}
	return c.UploadBytes(ctx, data)
}

func (c *Client) RetrieveBytes(ctx context.Context, id string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "contentstore.retrieve",
		trace.WithAttributes(attribute.String("store.backend", c.backend.Name()), attribute.String("store.content_id", id)))
	defer span.End()

	start := time.Now()
	data, err := c.retrieve(ctx, id)
	c.metrics.ObserveStoreOp(c.backend.Name(), "retrieve", domain.Kind(err), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
		if !errors.Is(err, domain.ErrNotFound) {
			c.log.Warn("content retrieval failed",
				zap.String("backend", c.backend.Name()),
				zap.String("content_id", id),
				zap.Error(err),
			)
		}
		return nil, err
	}
	c.metrics.StoreBytesTotal.WithLabelValues(c.backend.Name(), "in").Add(float64(len(data)))
	return data, nil
}

func (c *Client) retrieve(ctx context.Context, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty content id", domain.ErrInvalidInput)
	}
	rc, err := c.backend.Cat(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxSealedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrStoreUnavailable, id, err)
	}
	if len(raw) > maxSealedBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrDecode, id, MaxBlobBytes)
	}
	return c.open(id, raw)
}

// open strips the encryption envelope. Unsealed blobs pass through so content written
// before a key was configured stays readable.
func (c *Client) open(id string, raw []byte) ([]byte, error) {
	if !isSealed(raw) {
		return raw, nil
	}
	if c.sealer == nil {
		return nil, fmt.Errorf("%w: %s is encrypted and no key is configured", domain.ErrDecode, id)
	}
	plain, err := c.sealer.open(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, id, err)
	}
	return plain, nil
}

func (c *Client) RetrieveJSON(ctx context.Context, id string, out any) error {
	data, err := c.RetrieveBytes(ctx, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s is not a JSON document: %v", domain.ErrDecode, id, err)
	}
	return nil
}
