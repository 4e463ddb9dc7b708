package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nest-markets/nestd/internal/domain"
)

// EventSink receives every committed protocol event.
type EventSink interface {
	PublishEvent(ctx context.Context, rec domain.EventRecord) error
}

// MemorySink buffers events in memory, for tests and bare devnet runs.
type MemorySink struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// PublishEvent implements EventSink.
func (s *MemorySink) PublishEvent(_ context.Context, rec domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything published so far.
func (s *MemorySink) Records() []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ByType filters published records by event type.
func (s *MemorySink) ByType(t domain.EventType) []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventRecord
	for _, rec := range s.records {
		if rec.Event == t {
			out = append(out, rec)
		}
	}
	return out
}

// BusSink appends event records to a durable stream on the signal bus. The
// indexer consumes the stream on the other side.
type BusSink struct {
	bus    domain.SignalBus
	stream string
}

// NewBusSink creates a sink that writes to the named stream.
func NewBusSink(bus domain.SignalBus, stream string) *BusSink {
	return &BusSink{bus: bus, stream: stream}
}

// PublishEvent implements EventSink.
func (s *BusSink) PublishEvent(ctx context.Context, rec domain.EventRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("chain: marshal event record: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		return fmt.Errorf("chain: append event to %s: %w", s.stream, err)
	}
	return nil
}
