// Package inmem is an in-process queue.Queue for tests and local
// development. No persistence; each stream buffers up to 1024 messages and
// Publish returns queue.ErrFull once that buffer is full.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/taskreactor/orchestrator/internal/queue"
)

// Queue implements queue.Queue with an in-process channel per stream.
type Queue struct {
	mu      sync.Mutex
	streams map[string]chan queue.Message
	seq     atomic.Int64
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{streams: make(map[string]chan queue.Message)}
}

func (q *Queue) streamFor(name string) chan queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.streams[name]
	if !ok {
		ch = make(chan queue.Message, 1024)
		q.streams[name] = ch
	}
	return ch
}

// Publish implements queue.Queue.
func (q *Queue) Publish(ctx context.Context, streamName string, payload []byte) (string, error) {
	id := fmt.Sprintf("%d", q.seq.Add(1))
	ch := q.streamFor(streamName)
	select {
	case ch <- queue.Message{ID: id, Payload: payload}:
		return id, nil
	default:
		return "", queue.ErrFull
	}
}

// Subscribe implements queue.Queue. consumerGroup is accepted for interface
// parity with the durable backend but unused: every in-process subscriber
// reads the same channel, fine for single-process tests.
func (q *Queue) Subscribe(ctx context.Context, streamName, consumerGroup string) (<-chan queue.Message, func(context.Context, queue.Message) error, error) {
	ch := q.streamFor(streamName)
	ack := func(context.Context, queue.Message) error { return nil }
	return ch, ack, nil
}

// Close implements queue.Queue.
func (q *Queue) Close(context.Context) error { return nil }
