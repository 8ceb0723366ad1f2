package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrQueueFull = errors.New("in-memory queue is full")

type inMemoryEvent struct {
	queue   string
	payload []byte
}

func (e *inMemoryEvent) Type() string {
	return e.queue
}

func (e *inMemoryEvent) Payload() []byte {
	return e.payload
}

func (e *inMemoryEvent) Ack() error {
	return nil
}

func (e *inMemoryEvent) Reject() error {
	return nil
}

// InMemoryQueue is a Publisher and Receiver backed by a buffered channel.
// Publishing never blocks; it fails with ErrQueueFull instead.
type InMemoryQueue struct {
	mu     sync.RWMutex
	events chan Event
	closed bool
}

var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Receiver  = (*InMemoryQueue)(nil)
)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		events: make(chan Event, 100),
	}
}

func (q *InMemoryQueue) PublishPredictionEvent(ctx context.Context, event PredictionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return errors.New("in-memory queue is closed")
	}

	select {
	case q.events <- &inMemoryEvent{queue: PredictionQueue, payload: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InMemoryQueue) Events() <-chan Event {
	return q.events
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
}
