package backends

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSeries struct{}

func (stubSeries) QuerySeries(context.Context, SeriesQuery) ([]Point, error) { return nil, nil }

type stubEvents struct{}

func (stubEvents) QueryEvents(context.Context, EventQuery) ([]Event, error) { return nil, nil }

func TestRegistryResolvesByName(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterSeries("prom", stubSeries{}); err != nil {
		t.Fatalf("register series: %v", err)
	}
	if err := r.RegisterEvents("bus", stubEvents{}); err != nil {
		t.Fatalf("register events: %v", err)
	}
	if _, err := r.Series("prom"); err != nil {
		t.Fatalf("series lookup: %v", err)
	}
	if _, err := r.Events("bus"); err != nil {
		t.Fatalf("events lookup: %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterSeries("prom", stubSeries{}); err != nil {
		t.Fatalf("register series: %v", err)
	}
	if err := r.RegisterSeries("prom", stubSeries{}); err == nil {
		t.Fatal("expected duplicate rejection")
	}
	// Series and event namespaces are independent.
	if err := r.RegisterEvents("prom", stubEvents{}); err != nil {
		t.Fatalf("register events: %v", err)
	}
}

func TestRegistryUnknownName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Series("nope"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("series: got %v, want ErrUnknownBackend", err)
	}
	if _, err := r.Events("nope"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("events: got %v, want ErrUnknownBackend", err)
	}
}

func TestRegistryRejectsEmptyNameAndNilBackend(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterSeries("", stubSeries{}); err == nil {
		t.Fatal("expected rejection of empty name")
	}
	if err := r.RegisterSeries("prom", nil); err == nil {
		t.Fatal("expected rejection of nil backend")
	}
}

func TestSeriesNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.RegisterSeries(name, stubSeries{}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	names := r.SeriesNames()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names: got %v, want %v", names, want)
		}
	}
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := unavailable("prom", cause)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestCallTimeoutDefaultsWhenZero(t *testing.T) {
	ctx, cancel := callTimeout(context.Background(), 0)
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if time.Until(deadline) <= 0 {
		t.Fatal("deadline already passed")
	}
}
