// Package notify delivers alarm actions to external sinks. Dispatch is
// asynchronous: evaluation enqueues and moves on; worker goroutines retry
// delivery with exponential backoff and give up after a bounded number of
// attempts. Delivery failures never feed back into alarm state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	alarmapp "cloud-alarming/internal/alarms/application"
	"cloud-alarming/internal/observability/metrics"
)

// Payload is the JSON document delivered to a sink. NotificationID is
// stable per alarm change, so receivers can de-duplicate redelivery; the
// engine promises bounded retry, not at-most-once.
type Payload struct {
	NotificationID string    `json:"notification_id"`
	AlarmID        string    `json:"alarm_id"`
	PreviousState  string    `json:"previous_state"`
	NewState       string    `json:"new_state"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
	Severity       string    `json:"severity"`
}

// Sink delivers one payload to one target. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, target string, payload Payload) error
}

type task struct {
	action  string
	payload Payload
}

// Notifier fans notifications out to sinks keyed by action scheme
// ("webhook:<url>", "amqp:<routing-key>").
type Notifier struct {
	sinks          map[string]Sink
	logger         *zap.Logger
	queue          chan task
	workers        int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures the notifier.
type Option func(*Notifier)

// WithSink registers a sink for an action scheme.
func WithSink(scheme string, sink Sink) Option {
	return func(n *Notifier) {
		if scheme != "" && sink != nil {
			n.sinks[scheme] = sink
		}
	}
}

// WithQueueSize overrides the dispatch queue capacity.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan task, size)
		}
	}
}

// WithWorkers overrides the delivery worker count.
func WithWorkers(workers int) Option {
	return func(n *Notifier) {
		if workers > 0 {
			n.workers = workers
		}
	}
}

// WithMaxAttempts bounds delivery attempts per action.
func WithMaxAttempts(attempts int) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.maxAttempts = attempts
		}
	}
}

// WithBackoff overrides the initial and maximum retry intervals.
func WithBackoff(initial, maximum time.Duration) Option {
	return func(n *Notifier) {
		if initial > 0 {
			n.initialBackoff = initial
		}
		if maximum > 0 {
			n.maxBackoff = maximum
		}
	}
}

// NewNotifier constructs a notifier; Start launches its workers.
func NewNotifier(logger *zap.Logger, opts ...Option) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		sinks:          make(map[string]Sink),
		logger:         logger,
		queue:          make(chan task, 256),
		workers:        4,
		maxAttempts:    3,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		baseCtx:        ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	if len(n.sinks) == 0 {
		cancel()
		return nil, errors.New("notifier: no sinks registered")
	}
	return n, nil
}

// Start launches the delivery workers.
func (n *Notifier) Start() {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
}

// Enqueue implements application.Dispatcher. It never blocks: when the
// queue is full the notification is dropped and counted.
func (n *Notifier) Enqueue(notification alarmapp.Notification) {
	if n == nil {
		return
	}
	payload := Payload{
		NotificationID: notification.ID,
		AlarmID:        notification.AlarmID,
		PreviousState:  string(notification.PreviousState),
		NewState:       string(notification.NewState),
		Reason:         notification.Reason,
		Timestamp:      notification.At.UTC(),
		Severity:       notification.Severity,
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for _, action := range notification.Actions {
		select {
		case n.queue <- task{action: action, payload: payload}:
		default:
			metrics.IncNotificationDropped()
			n.logger.Warn("notification dropped on full queue",
				zap.String("alarm_id", notification.AlarmID),
				zap.String("action", action))
		}
	}
}

// Close stops accepting notifications, drains in-flight deliveries until
// the context's deadline and abandons the rest.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		return fmt.Errorf("notifier: drain abandoned: %w", ctx.Err())
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for t := range n.queue {
		n.deliver(t)
	}
}

func (n *Notifier) deliver(t task) {
	scheme, target, err := parseAction(t.action)
	if err != nil {
		metrics.IncNotification(metrics.ResultFailure)
		n.logger.Error("undeliverable action",
			zap.String("alarm_id", t.payload.AlarmID),
			zap.String("action", t.action),
			zap.Error(err))
		return
	}
	sink, ok := n.sinks[scheme]
	if !ok {
		metrics.IncNotification(metrics.ResultFailure)
		n.logger.Error("no sink for action scheme",
			zap.String("alarm_id", t.payload.AlarmID),
			zap.String("scheme", scheme))
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.initialBackoff
	policy.MaxInterval = n.maxBackoff
	policy.MaxElapsedTime = 0
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		return sink.Send(n.baseCtx, target, t.payload)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(n.maxAttempts-1)), n.baseCtx))
	if err != nil {
		metrics.IncNotification(metrics.ResultFailure)
		n.logger.Error("notification failed",
			zap.String("alarm_id", t.payload.AlarmID),
			zap.String("notification_id", t.payload.NotificationID),
			zap.String("action", t.action),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}
	metrics.IncNotification(metrics.ResultSuccess)
}

// parseAction splits an action descriptor into scheme and target. Bare
// http(s) URLs are shorthand for the webhook scheme.
func parseAction(action string) (scheme, target string, err error) {
	if strings.HasPrefix(action, "http://") || strings.HasPrefix(action, "https://") {
		return "webhook", action, nil
	}
	idx := strings.Index(action, ":")
	if idx <= 0 || idx == len(action)-1 {
		return "", "", fmt.Errorf("notifier: malformed action %q", action)
	}
	return action[:idx], action[idx+1:], nil
}
