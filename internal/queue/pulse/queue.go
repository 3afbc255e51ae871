// Package pulse implements queue.Queue on top of goa.design/pulse streams,
// grounded directly on the teacher's features/stream/pulse client wrapper:
// callers build a Redis client, pass it to New, and get back a narrow
// interface that only exposes what the intake queue needs.
package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/taskreactor/orchestrator/internal/queue"
)

// Options configures the Pulse-backed queue.
type Options struct {
	Redis        *redis.Client
	StreamMaxLen int
}

// Queue implements queue.Queue on Pulse streams.
type Queue struct {
	redis   *redis.Client
	maxLen  int
	streams map[string]*streaming.Stream
}

// New constructs a Queue backed by the provided Redis connection.
func New(opts Options) (*Queue, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &Queue{redis: opts.Redis, maxLen: opts.StreamMaxLen, streams: make(map[string]*streaming.Stream)}, nil
}

func (q *Queue) stream(name string) (*streaming.Stream, error) {
	if s, ok := q.streams[name]; ok {
		return s, nil
	}
	var opts []streamopts.Stream
	if q.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(q.maxLen))
	}
	s, err := streaming.NewStream(name, q.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: create stream %q: %w", name, err)
	}
	q.streams[name] = s
	return s, nil
}

// Publish implements queue.Queue.
func (q *Queue) Publish(ctx context.Context, streamName string, payload []byte) (string, error) {
	s, err := q.stream(streamName)
	if err != nil {
		return "", err
	}
	id, err := s.Add(ctx, "intake", payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add to stream %q: %w", streamName, err)
	}
	return id, nil
}

// Subscribe implements queue.Queue, adapting a Pulse sink's
// <-chan *streaming.Event into <-chan queue.Message.
func (q *Queue) Subscribe(ctx context.Context, streamName, consumerGroup string) (<-chan queue.Message, func(context.Context, queue.Message) error, error) {
	s, err := q.stream(streamName)
	if err != nil {
		return nil, nil, err
	}
	sink, err := s.NewSink(ctx, consumerGroup)
	if err != nil {
		return nil, nil, fmt.Errorf("pulse: create sink %q: %w", consumerGroup, err)
	}

	out := make(chan queue.Message)
	events := make(map[string]*streaming.Event)
	go func() {
		defer close(out)
		for ev := range sink.Subscribe() {
			events[ev.ID] = ev
			out <- queue.Message{ID: ev.ID, Payload: ev.Payload}
		}
	}()

	ack := func(ctx context.Context, m queue.Message) error {
		ev, ok := events[m.ID]
		if !ok {
			return fmt.Errorf("pulse: unknown message id %q", m.ID)
		}
		delete(events, m.ID)
		return sink.Ack(ctx, ev)
	}
	return out, ack, nil
}

// Close implements queue.Queue. The Redis connection is owned by the
// caller; Close itself does nothing and always returns nil.
func (q *Queue) Close(ctx context.Context) error {
	return nil
}
