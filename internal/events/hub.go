package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sceneflow/internal/logging"
)

// Sink receives every published event, e.g. for archival.
type Sink interface {
	Append(Event)
}

// Hub stores recent events in a bounded ring and wakes waiters when new
// events arrive. It is the attachment point for server-sent-event bridges and
// the CLI's event tail.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	sinks    []Sink
	logger   *slog.Logger
}

// NewHub constructs a bounded in-memory event fan-out buffer.
func NewHub(capacity int, logger *slog.Logger) *Hub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &Hub{capacity: capacity, logger: logging.NewComponentLogger(logger, "events")}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink wires an additional sink that receives every published event.
func (h *Hub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish appends an event to the ring. Sink panics are contained and logged;
// publishing never fails the caller.
func (h *Hub) Publish(_ context.Context, evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	sinks := append([]Sink(nil), h.sinks...)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		h.appendToSink(sink, evt)
	}
}

func (h *Hub) appendToSink(sink Sink, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("event sink panicked",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "event_sink_panic"),
				logging.String(logging.FieldErrorHint, "detach or fix the sink"),
			)
		}
	}()
	sink.Append(evt)
}

// Fetch returns events with sequence greater than since, oldest first. When
// wait is true, Fetch blocks until at least one event is available or the
// context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		batch, next := h.snapshotLocked(since, limit)
		if len(batch) > 0 || !wait {
			return batch, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]Event, uint64) {
	next := since
	var batch []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		batch = append(batch, evt)
		next = evt.Sequence
		if len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		if n := len(h.buffer); n > 0 {
			next = h.buffer[n-1].Sequence
		}
	}
	return batch, next
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
