package alarms

import (
	"errors"
	"fmt"
	"time"
)

// RuleType tags the closed rule variant.
type RuleType string

const (
	RuleTypeThreshold   RuleType = "threshold"
	RuleTypeCombination RuleType = "combination"
	RuleTypeEvent       RuleType = "event"
)

// Statistic is the aggregation applied to samples within one window.
type Statistic string

const (
	StatisticAvg   Statistic = "avg"
	StatisticMin   Statistic = "min"
	StatisticMax   Statistic = "max"
	StatisticSum   Statistic = "sum"
	StatisticCount Statistic = "count"
)

// Valid returns true when the statistic is supported.
func (s Statistic) Valid() bool {
	switch s {
	case StatisticAvg, StatisticMin, StatisticMax, StatisticSum, StatisticCount:
		return true
	default:
		return false
	}
}

// Comparison is the operator between a window statistic and the threshold.
type Comparison string

const (
	CompareEqual          Comparison = "eq"
	CompareNotEqual       Comparison = "ne"
	CompareLess           Comparison = "lt"
	CompareLessOrEqual    Comparison = "le"
	CompareGreater        Comparison = "gt"
	CompareGreaterOrEqual Comparison = "ge"
)

// Valid returns true when the operator is supported.
func (c Comparison) Valid() bool {
	switch c {
	case CompareEqual, CompareNotEqual, CompareLess, CompareLessOrEqual, CompareGreater, CompareGreaterOrEqual:
		return true
	default:
		return false
	}
}

// Holds reports whether `value <op> threshold` is true.
func (c Comparison) Holds(value, threshold float64) bool {
	switch c {
	case CompareEqual:
		return value == threshold
	case CompareNotEqual:
		return value != threshold
	case CompareLess:
		return value < threshold
	case CompareLessOrEqual:
		return value <= threshold
	case CompareGreater:
		return value > threshold
	case CompareGreaterOrEqual:
		return value >= threshold
	default:
		return false
	}
}

// MissingPolicy decides how a window with too few samples is treated.
type MissingPolicy string

const (
	// MissingPropagate reports insufficient-data when any window lacks samples.
	MissingPropagate MissingPolicy = "missing"
	// MissingBreaching counts a short window as a breaching window.
	MissingBreaching MissingPolicy = "breaching"
	// MissingNotBreaching counts a short window as a non-breaching window.
	MissingNotBreaching MissingPolicy = "not-breaching"
)

// Valid returns true when the policy is supported.
func (p MissingPolicy) Valid() bool {
	switch p {
	case MissingPropagate, MissingBreaching, MissingNotBreaching:
		return true
	default:
		return false
	}
}

// BoolOperator combines child alarm states.
type BoolOperator string

const (
	OperatorAnd BoolOperator = "and"
	OperatorOr  BoolOperator = "or"
)

// ThresholdRule evaluates a windowed statistic against a threshold.
type ThresholdRule struct {
	Backend           string
	Metric            string
	Statistic         Statistic
	Comparison        Comparison
	Threshold         float64
	EvaluationPeriods int
	Granularity       time.Duration
	MinSamples        int
	MissingPolicy     MissingPolicy
	Filters           map[string]string
}

// Validate checks threshold rule invariants.
func (r ThresholdRule) Validate() error {
	if r.Metric == "" {
		return errors.New("threshold rule: empty metric")
	}
	if !r.Statistic.Valid() {
		return fmt.Errorf("threshold rule: invalid statistic %q", r.Statistic)
	}
	if !r.Comparison.Valid() {
		return fmt.Errorf("threshold rule: invalid comparison %q", r.Comparison)
	}
	if r.EvaluationPeriods < 1 {
		return errors.New("threshold rule: evaluation periods must be >= 1")
	}
	if r.Granularity <= 0 {
		return errors.New("threshold rule: granularity must be positive")
	}
	if r.MissingPolicy != "" && !r.MissingPolicy.Valid() {
		return fmt.Errorf("threshold rule: invalid missing policy %q", r.MissingPolicy)
	}
	return nil
}

// CombinationRule derives a state from the states of child alarms.
type CombinationRule struct {
	Operator BoolOperator
	ChildIDs []string
}

// Validate checks combination rule invariants. Acyclicity is a graph-level
// property checked by the dependency resolver, not here.
func (r CombinationRule) Validate() error {
	if r.Operator != OperatorAnd && r.Operator != OperatorOr {
		return fmt.Errorf("combination rule: invalid operator %q", r.Operator)
	}
	if len(r.ChildIDs) == 0 {
		return errors.New("combination rule: empty child set")
	}
	seen := make(map[string]bool, len(r.ChildIDs))
	for _, id := range r.ChildIDs {
		if id == "" {
			return errors.New("combination rule: empty child id")
		}
		if seen[id] {
			return fmt.Errorf("combination rule: duplicate child %q", id)
		}
		seen[id] = true
	}
	return nil
}

// FieldConditionOp selects how an event field is matched.
type FieldConditionOp string

const (
	FieldEquals FieldConditionOp = "eq"
	FieldExists FieldConditionOp = "exists"
)

// FieldCondition matches one event field.
type FieldCondition struct {
	Field string
	Op    FieldConditionOp
	Value string
}

// EventRule triggers on matching discrete events. It has no time window of
// its own; the engine feeds it the events observed since the last cycle.
type EventRule struct {
	Backend    string
	Pattern    string
	Conditions []FieldCondition
}

// Validate checks event rule invariants.
func (r EventRule) Validate() error {
	if r.Pattern == "" {
		return errors.New("event rule: empty pattern")
	}
	for _, c := range r.Conditions {
		if c.Field == "" {
			return errors.New("event rule: condition with empty field")
		}
		switch c.Op {
		case FieldEquals, FieldExists:
		default:
			return fmt.Errorf("event rule: invalid condition op %q", c.Op)
		}
	}
	return nil
}

// Rule is the closed tagged variant of alarm rules. Exactly one of the
// variant pointers is set, selected by Type.
type Rule struct {
	Type        RuleType
	Threshold   *ThresholdRule
	Combination *CombinationRule
	Event       *EventRule
}

// Validate checks that the tag and the populated variant agree and that the
// variant's own invariants hold.
func (r Rule) Validate() error {
	switch r.Type {
	case RuleTypeThreshold:
		if r.Threshold == nil {
			return errors.New("rule: threshold variant missing")
		}
		return r.Threshold.Validate()
	case RuleTypeCombination:
		if r.Combination == nil {
			return errors.New("rule: combination variant missing")
		}
		return r.Combination.Validate()
	case RuleTypeEvent:
		if r.Event == nil {
			return errors.New("rule: event variant missing")
		}
		return r.Event.Validate()
	default:
		return fmt.Errorf("rule: unknown type %q", r.Type)
	}
}
