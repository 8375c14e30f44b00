// Package events publishes settled lifecycle changes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Type string

const (
	PatientRegistered Type = "patient.registered"
	RecordPublished   Type = "record.published"
	AccessRequested   Type = "access.requested"
	AccessGranted     Type = "access.granted"
	AccessRevoked     Type = "access.revoked"
)

// Event describes one mutation and how it settled.
type Event struct {
	ID         string                  `json:"id"`
	Type       Type                    `json:"type"`
	PatientID  string                  `json:"patient_id"`
	Actor      domain.Principal        `json:"actor"`
	Subject    string                  `json:"subject,omitempty"`
	TxID       string                  `json:"tx_id"`
	Settlement domain.SettlementStatus `json:"settlement"`
	OccurredAt time.Time               `json:"occurred_at"`
}

func New(t Type, patientID string, actor domain.Principal, subject string, s *domain.Settlement) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       t,
		PatientID:  patientID,
		Actor:      actor,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
	}
	if s != nil {
		e.TxID = s.TxID
		e.Settlement = s.Status
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	eventBufferSize   = 1_000
	eventWriteTimeout = 10 * time.Second
)

// ErrBufferFull is returned by Publish when the broker falls behind and the event is dropped.
var ErrBufferFull = errors.New("event buffer full")

// KafkaPublisher keys messages by patient id so one patient's events stay ordered. Publish
// only enqueues; a single worker writes to the broker.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Collector
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}
}

func NewKafkaPublisher(cfg config.EventsConfig, m *metrics.Collector, log *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: eventWriteTimeout,
	}
	return newKafkaPublisher(w, cfg.Topic, eventBufferSize, m, log)
}

func newKafkaPublisher(w messageWriter, topic string, buffer int, m *metrics.Collector, log *zap.Logger) *KafkaPublisher {
	if m == nil {
		m = metrics.NewNop()
	}
	p := &KafkaPublisher{
		writer:  w,
		topic:   topic,
		metrics: m,
		log:     log,
		queue:   make(chan kafka.Message, buffer),
		done:    make(chan struct{}),
	}
	go p.worker()
	return p
}

// Publish enqueues e. When the buffer is full the event is dropped and ErrBufferFull returned.
func (p *KafkaPublisher) Publish(_ context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.PatientID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publishing %s: publisher closed", e.Type)
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		p.metrics.EventsPublished.WithLabelValues("dropped").Inc()
		p.log.Warn("event buffer full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("patient_id", e.PatientID),
		)
		return fmt.Errorf("publishing %s: %w", e.Type, ErrBufferFull)
	}
}

func (p *KafkaPublisher) worker() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.metrics.EventsPublished.WithLabelValues("error").Inc()
			p.log.Error("publishing lifecycle event",
				zap.String("topic", p.topic),
				zap.String("key", string(msg.Key)),
				zap.Error(err),
			)
			continue
		}
		p.metrics.EventsPublished.WithLabelValues("ok").Inc()
	}
}

// Close drains queued events for up to ten seconds and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		p.log.Warn("event publisher shutdown timed out; queued events may be lost")
	}
	return p.writer.Close()
}

// Recorder keeps events in memory. Used when no broker is configured.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
