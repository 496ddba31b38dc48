package evaluator

import (
	"context"
	"testing"

	alarms "cloud-alarming/internal/alarms/domain"
)

func TestCombineOr(t *testing.T) {
	cases := []struct {
		name   string
		states []alarms.State
		policy PartialPolicy
		want   alarms.State
	}{
		{"one alarming child wins", []alarms.State{alarms.StateOK, alarms.StateAlarm}, PartialStrict, alarms.StateAlarm},
		{"alarm wins over insufficient", []alarms.State{alarms.StateInsufficientData, alarms.StateAlarm}, PartialStrict, alarms.StateAlarm},
		{"unanimous ok", []alarms.State{alarms.StateOK, alarms.StateOK}, PartialStrict, alarms.StateOK},
		{"mixed ok and insufficient strict", []alarms.State{alarms.StateOK, alarms.StateInsufficientData}, PartialStrict, alarms.StateInsufficientData},
		{"mixed ok and insufficient decisive", []alarms.State{alarms.StateOK, alarms.StateInsufficientData}, PartialDecisive, alarms.StateOK},
		{"all insufficient", []alarms.State{alarms.StateInsufficientData}, PartialDecisive, alarms.StateInsufficientData},
		{"empty child set", nil, PartialStrict, alarms.StateInsufficientData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Combine(alarms.OperatorOr, tc.states, tc.policy); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCombineAnd(t *testing.T) {
	cases := []struct {
		name   string
		states []alarms.State
		policy PartialPolicy
		want   alarms.State
	}{
		{"unanimous alarm", []alarms.State{alarms.StateAlarm, alarms.StateAlarm}, PartialStrict, alarms.StateAlarm},
		{"one ok child blocks", []alarms.State{alarms.StateAlarm, alarms.StateOK}, PartialStrict, alarms.StateInsufficientData},
		{"unanimous ok", []alarms.State{alarms.StateOK, alarms.StateOK}, PartialStrict, alarms.StateOK},
		{"mixed with insufficient strict", []alarms.State{alarms.StateAlarm, alarms.StateInsufficientData}, PartialStrict, alarms.StateInsufficientData},
		{"mixed with insufficient decisive alarm", []alarms.State{alarms.StateAlarm, alarms.StateInsufficientData}, PartialDecisive, alarms.StateAlarm},
		{"mixed with insufficient decisive ok", []alarms.State{alarms.StateOK, alarms.StateInsufficientData}, PartialDecisive, alarms.StateOK},
		{"decisive disagreement", []alarms.State{alarms.StateAlarm, alarms.StateOK, alarms.StateInsufficientData}, PartialDecisive, alarms.StateInsufficientData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Combine(alarms.OperatorAnd, tc.states, tc.policy); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEvaluateCombinationUnknownChildCountsAsInsufficient(t *testing.T) {
	eval := newTestEvaluator(t, &fakeSeries{})
	alarm := alarms.Alarm{
		ID: "combo",
		Rule: alarms.Rule{
			Type: alarms.RuleTypeCombination,
			Combination: &alarms.CombinationRule{
				Operator: alarms.OperatorAnd,
				ChildIDs: []string{"known", "missing"},
			},
		},
	}
	childState := func(id string) (alarms.State, bool) {
		if id == "known" {
			return alarms.StateAlarm, true
		}
		return "", false
	}
	verdict, err := eval.Evaluate(context.Background(), alarm, Input{Now: evalNow, ChildState: childState})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.State != alarms.StateInsufficientData {
		t.Fatalf("got %q, want insufficient-data", verdict.State)
	}
}

func TestEvaluateCombinationNeedsChildStateSource(t *testing.T) {
	eval := newTestEvaluator(t, &fakeSeries{})
	alarm := alarms.Alarm{
		ID: "combo",
		Rule: alarms.Rule{
			Type:        alarms.RuleTypeCombination,
			Combination: &alarms.CombinationRule{Operator: alarms.OperatorOr, ChildIDs: []string{"a"}},
		},
	}
	if _, err := eval.Evaluate(context.Background(), alarm, Input{Now: evalNow}); err == nil {
		t.Fatal("expected error without a child state source")
	}
}
