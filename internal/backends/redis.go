package backends

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultEventStream = "alarm-events"

// eventFieldType is the stream entry field carrying the event type; every
// other field becomes a match-able event field.
const eventFieldType = "type"

// redisStreams is the client subset the backend needs. *redis.Client
// satisfies it; tests substitute a stub.
type redisStreams interface {
	XRange(ctx context.Context, stream, start, stop string) *redis.XMessageSliceCmd
}

// RedisEventBackend reads discrete events from a Redis stream. Collectors
// append entries with XADD; stream entry IDs are millisecond timestamps,
// which makes time-windowed reads a plain XRANGE.
type RedisEventBackend struct {
	name    string
	client  redisStreams
	stream  string
	timeout time.Duration
}

// RedisOption configures the backend.
type RedisOption func(*RedisEventBackend)

// WithEventStream overrides the default stream key.
func WithEventStream(stream string) RedisOption {
	return func(b *RedisEventBackend) {
		if stream != "" {
			b.stream = stream
		}
	}
}

// WithRedisTimeout overrides the mandatory per-call timeout.
func WithRedisTimeout(timeout time.Duration) RedisOption {
	return func(b *RedisEventBackend) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// NewRedisEventBackend constructs a backend for the given server address.
func NewRedisEventBackend(name, address string, opts ...RedisOption) (*RedisEventBackend, error) {
	if name == "" {
		return nil, errors.New("redis backend: empty name")
	}
	if address == "" {
		return nil, errors.New("redis backend: empty address")
	}
	backend := &RedisEventBackend{
		name:    name,
		client:  redis.NewClient(&redis.Options{Addr: address}),
		stream:  defaultEventStream,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend, nil
}

// QueryEvents implements EventQuerier over [Start, End).
func (b *RedisEventBackend) QueryEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("redis backend: not initialized")
	}
	if q.Start.IsZero() || q.End.IsZero() || !q.End.After(q.Start) {
		return nil, errors.New("redis backend: invalid window")
	}
	ctx, cancel := callTimeout(ctx, b.timeout)
	defer cancel()

	start := strconv.FormatInt(q.Start.UnixMilli(), 10)
	// XRANGE bounds are inclusive; subtract one ms to keep End exclusive.
	stop := strconv.FormatInt(q.End.UnixMilli()-1, 10)
	messages, err := b.client.XRange(ctx, b.stream, start, stop).Result()
	if err != nil {
		return nil, unavailable(b.name, err)
	}

	events := make([]Event, 0, len(messages))
	for _, msg := range messages {
		event := Event{
			At:     streamIDTime(msg.ID),
			Fields: make(map[string]string, len(msg.Values)),
		}
		for key, value := range msg.Values {
			text := fmt.Sprint(value)
			if key == eventFieldType {
				event.Type = text
				continue
			}
			event.Fields[key] = text
		}
		if event.Type == "" {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// streamIDTime extracts the millisecond timestamp from a stream entry ID
// of the form "<ms>-<seq>".
func streamIDTime(id string) time.Time {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	ms, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
