// Package audit records typing activity for operational traceability: which
// sample was resolved against which schema, and how it classified. Events are
// an operations trail, not result storage; resolution output is only returned
// to the caller.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded resolution.
type Event struct {
	ID             uuid.UUID `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Database       string    `json:"database"`
	SeqDefDB       string    `json:"seqdef_db"`
	SchemeID       int       `json:"scheme_id"`
	SampleID       string    `json:"sample_id"`
	Classification string    `json:"classification"`
	SequenceType   string    `json:"sequence_type,omitempty"`
	Duration       float64   `json:"duration_seconds"`
}

// Sink receives events. Implementations must tolerate concurrent appends.
type Sink interface {
	Append(ctx context.Context, event Event) error
	Close() error
}

// Publisher stamps defaults and forwards to a sink. With an async buffer it
// never blocks the resolution path; full buffers drop events rather than
// stall typing requests.
type Publisher struct {
	sink   Sink
	log    *slog.Logger
	inbox  chan Event
	done   chan struct{}
	closed sync.Once
}

// Option configures the publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches Emit to a buffered channel drained by a background
// worker.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// NewPublisher builds a publisher over a sink. Synchronous unless an async
// buffer is configured.
func NewPublisher(sink Sink, log *slog.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{sink: sink, log: log, done: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		go p.drain()
	}
	return p
}

// Emit records an event, stamping ID and timestamp when unset.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.inbox == nil {
		return p.sink.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.log.Warn("audit buffer full, event dropped", "sample_id", event.SampleID)
		return nil
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.inbox {
		if err := p.sink.Append(context.Background(), event); err != nil {
			p.log.Warn("audit append failed", "error", err)
		}
	}
}

// Close drains any buffered events and closes the sink.
func (p *Publisher) Close() error {
	p.closed.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
	return p.sink.Close()
}

// MemorySink keeps events in memory; the default sink when no broker is
// configured, and the test double.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *MemorySink) Close() error {
	return nil
}
