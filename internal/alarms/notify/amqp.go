package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/streadway/amqp"
)

// Publisher is the channel subset the sink needs. *amqp.Channel satisfies
// it; tests substitute a stub.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes payloads to a message queue; the action target is the
// routing key.
type AMQPSink struct {
	publisher Publisher
	exchange  string
}

// AMQPOption configures the sink.
type AMQPOption func(*AMQPSink)

// WithExchange overrides the default (empty, direct-to-queue) exchange.
func WithExchange(exchange string) AMQPOption {
	return func(s *AMQPSink) {
		s.exchange = exchange
	}
}

// NewAMQPSink constructs a sink over an open channel.
func NewAMQPSink(publisher Publisher, opts ...AMQPOption) (*AMQPSink, error) {
	if publisher == nil {
		return nil, errors.New("amqp sink: nil publisher")
	}
	sink := &AMQPSink{publisher: publisher}
	for _, opt := range opts {
		opt(sink)
	}
	return sink, nil
}

// Send implements Sink. The message id carries the stable notification id
// for receiver-side dedupe.
func (s *AMQPSink) Send(ctx context.Context, target string, payload Payload) error {
	if s == nil || s.publisher == nil {
		return errors.New("amqp sink: not initialized")
	}
	if target == "" {
		return errors.New("amqp sink: empty routing key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.publisher.Publish(s.exchange, target, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   payload.NotificationID,
		Timestamp:   payload.Timestamp,
		Body:        body,
	})
}
