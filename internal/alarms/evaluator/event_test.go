package evaluator

import (
	"context"
	"testing"
	"time"

	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/backends"
)

type fakeEvents struct {
	events []backends.Event
	err    error
	query  backends.EventQuery
}

func (f *fakeEvents) QueryEvents(_ context.Context, q backends.EventQuery) ([]backends.Event, error) {
	f.query = q
	return f.events, f.err
}

func newEventEvaluator(t *testing.T, events backends.EventQuerier) *Evaluator {
	t.Helper()
	registry := backends.NewRegistry()
	if err := registry.RegisterEvents("bus", events); err != nil {
		t.Fatalf("register events: %v", err)
	}
	eval, err := New(registry, "", "bus")
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return eval
}

func TestEventMatchProposesAlarm(t *testing.T) {
	source := &fakeEvents{events: []backends.Event{
		{Type: "compute.instance.delete", At: evalNow.Add(-10 * time.Second)},
		{Type: "compute.instance.error", At: evalNow.Add(-5 * time.Second), Fields: map[string]string{"state": "error"}},
	}}
	eval := newEventEvaluator(t, source)

	rule := alarms.EventRule{
		Pattern:    "compute.instance.*",
		Conditions: []alarms.FieldCondition{{Field: "state", Op: alarms.FieldEquals, Value: "error"}},
	}
	verdict, err := eval.evaluateEvent(context.Background(), rule, evalNow.Add(-time.Minute), evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.None || verdict.State != alarms.StateAlarm {
		t.Fatalf("got %+v, want alarm verdict", verdict)
	}
	if source.query.Start != evalNow.Add(-time.Minute) || source.query.End != evalNow {
		t.Fatalf("unexpected query span: %v - %v", source.query.Start, source.query.End)
	}
}

func TestEventNoMatchYieldsNoVerdict(t *testing.T) {
	source := &fakeEvents{events: []backends.Event{
		{Type: "storage.volume.create", At: evalNow.Add(-time.Second)},
	}}
	eval := newEventEvaluator(t, source)

	verdict, err := eval.evaluateEvent(context.Background(), alarms.EventRule{Pattern: "compute.instance.*"}, evalNow.Add(-time.Minute), evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !verdict.None {
		t.Fatalf("got %+v, want no verdict", verdict)
	}
}

func TestEventBackendUnavailableProposesInsufficientData(t *testing.T) {
	eval := newEventEvaluator(t, &fakeEvents{err: backends.ErrUnavailable})

	verdict, err := eval.evaluateEvent(context.Background(), alarms.EventRule{Pattern: "*"}, evalNow.Add(-time.Minute), evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.State != alarms.StateInsufficientData {
		t.Fatalf("got %q, want insufficient-data", verdict.State)
	}
}

func TestEventZeroSinceDefaultsToOneMinuteWindow(t *testing.T) {
	source := &fakeEvents{}
	eval := newEventEvaluator(t, source)

	if _, err := eval.evaluateEvent(context.Background(), alarms.EventRule{Pattern: "*"}, time.Time{}, evalNow); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if source.query.Start != evalNow.Add(-time.Minute) {
		t.Fatalf("unexpected default window start: %v", source.query.Start)
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		event   string
		want    bool
	}{
		{"*", "anything", true},
		{"compute.instance.*", "compute.instance.error", true},
		{"compute.instance.*", "storage.volume.error", false},
		{"*.error", "compute.instance.error", true},
		{"*.error", "compute.instance.delete", false},
		{"compute.instance.error", "compute.instance.error", true},
		{"compute.instance.error", "compute.instance", false},
	}
	for _, tc := range cases {
		if got := matchPattern(tc.pattern, tc.event); got != tc.want {
			t.Fatalf("matchPattern(%q, %q): got %v, want %v", tc.pattern, tc.event, got, tc.want)
		}
	}
}

func TestMatchConditions(t *testing.T) {
	fields := map[string]string{"state": "error", "tenant": "t-1"}
	eq := []alarms.FieldCondition{{Field: "state", Op: alarms.FieldEquals, Value: "error"}}
	if !matchConditions(eq, fields) {
		t.Fatal("expected eq condition to match")
	}
	exists := []alarms.FieldCondition{{Field: "tenant", Op: alarms.FieldExists}}
	if !matchConditions(exists, fields) {
		t.Fatal("expected exists condition to match")
	}
	missing := []alarms.FieldCondition{{Field: "region", Op: alarms.FieldExists}}
	if matchConditions(missing, fields) {
		t.Fatal("expected missing field to fail")
	}
	unknown := []alarms.FieldCondition{{Field: "state", Op: "regex", Value: ".*"}}
	if matchConditions(unknown, fields) {
		t.Fatal("expected unknown op to fail closed")
	}
}
