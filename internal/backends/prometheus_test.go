package backends

import (
	"context"
	"errors"
	"testing"
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

type stubPromAPI struct {
	value model.Value
	err   error
	query string
	rng   promv1.Range
}

func (s *stubPromAPI) QueryRange(_ context.Context, query string, r promv1.Range, _ ...promv1.Option) (model.Value, promv1.Warnings, error) {
	s.query = query
	s.rng = r
	return s.value, nil, s.err
}

func TestPrometheusQuerySeries(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	api := &stubPromAPI{value: model.Matrix{
		&model.SampleStream{Values: []model.SamplePair{
			{Timestamp: model.TimeFromUnixNano(base.UnixNano()), Value: 42},
			{Timestamp: model.TimeFromUnixNano(base.Add(15 * time.Second).UnixNano()), Value: 43},
		}},
	}}
	backend := &PrometheusBackend{name: "prom", api: api, timeout: time.Second}

	points, err := backend.QuerySeries(context.Background(), SeriesQuery{
		Metric:  "node_cpu_util",
		Filters: map[string]string{"instance": "vm-1", "job": "node"},
		Start:   base,
		End:     base.Add(time.Minute),
		Step:    15 * time.Second,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(points) != 2 || points[0].Value != 42 || points[1].Value != 43 {
		t.Fatalf("unexpected points: %v", points)
	}
	if !points[0].At.Before(points[1].At) {
		t.Fatal("points not ordered by time")
	}
	if api.query != `node_cpu_util{instance="vm-1",job="node"}` {
		t.Fatalf("selector: %q", api.query)
	}
	if api.rng.Step != 15*time.Second {
		t.Fatalf("step: %v", api.rng.Step)
	}
}

func TestPrometheusErrorIsUnavailable(t *testing.T) {
	api := &stubPromAPI{err: errors.New("connection refused")}
	backend := &PrometheusBackend{name: "prom", api: api, timeout: time.Second}

	_, err := backend.QuerySeries(context.Background(), SeriesQuery{
		Metric: "up",
		Start:  time.Now().Add(-time.Minute),
		End:    time.Now(),
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestPrometheusRejectsNonMatrixResult(t *testing.T) {
	api := &stubPromAPI{value: model.Vector{}}
	backend := &PrometheusBackend{name: "prom", api: api, timeout: time.Second}

	_, err := backend.QuerySeries(context.Background(), SeriesQuery{
		Metric: "up",
		Start:  time.Now().Add(-time.Minute),
		End:    time.Now(),
	})
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want a non-unavailable failure", err)
	}
}

func TestSelector(t *testing.T) {
	if got := selector("up", nil); got != "up" {
		t.Fatalf("bare metric: %q", got)
	}
	got := selector("up", map[string]string{"b": "2", "a": "1"})
	if got != `up{a="1",b="2"}` {
		t.Fatalf("matchers not sorted: %q", got)
	}
}
