package backends

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

const defaultPromStep = 15 * time.Second

// promAPI is the subset of the Prometheus v1 API the backend needs.
// *promv1.httpAPI satisfies it; tests substitute a stub.
type promAPI interface {
	QueryRange(ctx context.Context, query string, r promv1.Range, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// PrometheusBackend queries a Prometheus server over its HTTP API.
type PrometheusBackend struct {
	name    string
	api     promAPI
	timeout time.Duration
}

// PrometheusOption configures the backend.
type PrometheusOption func(*PrometheusBackend)

// WithPrometheusTimeout overrides the mandatory per-call timeout.
func WithPrometheusTimeout(timeout time.Duration) PrometheusOption {
	return func(b *PrometheusBackend) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// NewPrometheusBackend constructs a backend for the given server address.
func NewPrometheusBackend(name, address string, opts ...PrometheusOption) (*PrometheusBackend, error) {
	if name == "" {
		return nil, errors.New("prometheus backend: empty name")
	}
	if address == "" {
		return nil, errors.New("prometheus backend: empty address")
	}
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("prometheus backend: %w", err)
	}
	backend := &PrometheusBackend{
		name:    name,
		api:     promv1.NewAPI(client),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend, nil
}

// QuerySeries implements SeriesQuerier via a range query.
func (b *PrometheusBackend) QuerySeries(ctx context.Context, q SeriesQuery) ([]Point, error) {
	if b == nil || b.api == nil {
		return nil, errors.New("prometheus backend: not initialized")
	}
	if q.Metric == "" {
		return nil, errors.New("prometheus backend: empty metric")
	}
	step := q.Step
	if step <= 0 {
		step = defaultPromStep
	}
	ctx, cancel := callTimeout(ctx, b.timeout)
	defer cancel()

	value, _, err := b.api.QueryRange(ctx, selector(q.Metric, q.Filters), promv1.Range{
		Start: q.Start,
		End:   q.End,
		Step:  step,
	})
	if err != nil {
		return nil, unavailable(b.name, err)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("prometheus backend: unexpected result type %s", value.Type())
	}
	var points []Point
	for _, stream := range matrix {
		for _, sample := range stream.Values {
			points = append(points, Point{
				At:    sample.Timestamp.Time(),
				Value: float64(sample.Value),
			})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
	return points, nil
}

// selector renders a PromQL instant selector with sorted label matchers.
func selector(metric string, filters map[string]string) string {
	if len(filters) == 0 {
		return metric
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	matchers := make([]string, 0, len(keys))
	for _, key := range keys {
		matchers = append(matchers, fmt.Sprintf("%s=%q", key, filters[key]))
	}
	return metric + "{" + strings.Join(matchers, ",") + "}"
}
