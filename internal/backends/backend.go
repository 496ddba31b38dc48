// Package backends provides uniform metric and event query capabilities over
// heterogeneous external stores. Backends are registered by name at
// configuration time and resolved by rules that reference them.
package backends

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnavailable marks a backend that could not be reached or timed out.
// It is distinct from an empty result: evaluators map it to
// insufficient-data and retry next cycle.
var ErrUnavailable = errors.New("backends: backend unavailable")

// ErrUnknownBackend is returned when a rule references an unregistered
// backend name.
var ErrUnknownBackend = errors.New("backends: unknown backend")

// Point is one sample of a time series.
type Point struct {
	At    time.Time
	Value float64
}

// Event is one discrete observation from an event store.
type Event struct {
	Type   string
	At     time.Time
	Fields map[string]string
}

// SeriesQuery selects samples of one metric within [Start, End).
type SeriesQuery struct {
	Metric  string
	Filters map[string]string
	Start   time.Time
	End     time.Time
	// Step hints the sample resolution for backends that aggregate on
	// query (Prometheus). Raw-sample backends ignore it.
	Step time.Duration
}

// EventQuery selects events observed within [Start, End).
type EventQuery struct {
	Start time.Time
	End   time.Time
}

// SeriesQuerier is the time-series query capability. Implementations must
// return points ordered by timestamp ascending and report reachability
// failures by wrapping ErrUnavailable.
type SeriesQuerier interface {
	QuerySeries(ctx context.Context, q SeriesQuery) ([]Point, error)
}

// EventQuerier is the discrete-event query capability.
type EventQuerier interface {
	QueryEvents(ctx context.Context, q EventQuery) ([]Event, error)
}

// Registry resolves backend names to capabilities. It is populated once at
// startup and read-only afterwards; the mutex only guards late test setup.
type Registry struct {
	mu     sync.RWMutex
	series map[string]SeriesQuerier
	events map[string]EventQuerier
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		series: make(map[string]SeriesQuerier),
		events: make(map[string]EventQuerier),
	}
}

// RegisterSeries adds a named time-series backend.
func (r *Registry) RegisterSeries(name string, backend SeriesQuerier) error {
	if name == "" {
		return errors.New("backends: empty backend name")
	}
	if backend == nil {
		return errors.New("backends: nil backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.series[name]; ok {
		return fmt.Errorf("backends: duplicate series backend %q", name)
	}
	r.series[name] = backend
	return nil
}

// RegisterEvents adds a named event backend.
func (r *Registry) RegisterEvents(name string, backend EventQuerier) error {
	if name == "" {
		return errors.New("backends: empty backend name")
	}
	if backend == nil {
		return errors.New("backends: nil backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[name]; ok {
		return fmt.Errorf("backends: duplicate event backend %q", name)
	}
	r.events[name] = backend
	return nil
}

// Series resolves a time-series backend by name.
func (r *Registry) Series(name string) (SeriesQuerier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.series[name]
	if !ok {
		return nil, fmt.Errorf("%w: series backend %q", ErrUnknownBackend, name)
	}
	return backend, nil
}

// Events resolves an event backend by name.
func (r *Registry) Events(name string) (EventQuerier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.events[name]
	if !ok {
		return nil, fmt.Errorf("%w: event backend %q", ErrUnknownBackend, name)
	}
	return backend, nil
}

// SeriesNames lists registered time-series backends, sorted.
func (r *Registry) SeriesNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unavailable wraps an I/O error as ErrUnavailable, keeping the cause.
func unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, backend, err)
}

// callTimeout returns a derived context carrying the mandatory per-call
// timeout. A zero timeout falls back to a conservative default.
func callTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
