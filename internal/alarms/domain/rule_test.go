package alarms

import (
	"testing"
	"time"
)

func validThreshold() ThresholdRule {
	return ThresholdRule{
		Metric:            "cpu.util",
		Statistic:         StatisticAvg,
		Comparison:        CompareGreater,
		Threshold:         90,
		EvaluationPeriods: 3,
		Granularity:       time.Minute,
	}
}

func TestThresholdRuleValidate(t *testing.T) {
	if err := validThreshold().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	rule := validThreshold()
	rule.EvaluationPeriods = 0
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for zero evaluation periods")
	}

	rule = validThreshold()
	rule.Granularity = 0
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for zero granularity")
	}

	rule = validThreshold()
	rule.Statistic = "median"
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for unknown statistic")
	}

	rule = validThreshold()
	rule.Comparison = ">"
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for unknown comparison")
	}
}

func TestCombinationRuleValidate(t *testing.T) {
	rule := CombinationRule{Operator: OperatorAnd, ChildIDs: []string{"a", "b"}}
	if err := rule.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	if err := (CombinationRule{Operator: OperatorOr}).Validate(); err == nil {
		t.Fatal("expected error for empty child set")
	}
	if err := (CombinationRule{Operator: "xor", ChildIDs: []string{"a"}}).Validate(); err == nil {
		t.Fatal("expected error for unknown operator")
	}
	dup := CombinationRule{Operator: OperatorAnd, ChildIDs: []string{"a", "a"}}
	if err := dup.Validate(); err == nil {
		t.Fatal("expected error for duplicate child")
	}
}

func TestRuleValidateTagAgreement(t *testing.T) {
	rule := Rule{Type: RuleTypeThreshold}
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for missing threshold variant")
	}
	rule = Rule{Type: "anomaly"}
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for unknown rule type")
	}
	event := Rule{Type: RuleTypeEvent, Event: &EventRule{Pattern: "compute.instance.*"}}
	if err := event.Validate(); err != nil {
		t.Fatalf("valid event rule rejected: %v", err)
	}
}

func TestComparisonHolds(t *testing.T) {
	cases := []struct {
		op        Comparison
		value     float64
		threshold float64
		want      bool
	}{
		{CompareGreater, 91, 90, true},
		{CompareGreater, 90, 90, false},
		{CompareGreaterOrEqual, 90, 90, true},
		{CompareLess, 89, 90, true},
		{CompareLessOrEqual, 90, 90, true},
		{CompareEqual, 90, 90, true},
		{CompareNotEqual, 89, 90, true},
		{CompareNotEqual, 90, 90, false},
	}
	for _, tc := range cases {
		if got := tc.op.Holds(tc.value, tc.threshold); got != tc.want {
			t.Fatalf("%v %s %v: got %v, want %v", tc.value, tc.op, tc.threshold, got, tc.want)
		}
	}
}

func TestActionsFor(t *testing.T) {
	alarm := Alarm{
		OKActions:    []string{"webhook:https://example.com/ok"},
		AlarmActions: []string{"amqp:alerts"},
	}
	if got := alarm.ActionsFor(StateAlarm); len(got) != 1 || got[0] != "amqp:alerts" {
		t.Fatalf("unexpected alarm actions: %v", got)
	}
	if got := alarm.ActionsFor(StateInsufficientData); got != nil {
		t.Fatalf("expected nil actions, got %v", got)
	}
}
