package evaluator

import (
	"fmt"

	alarms "cloud-alarming/internal/alarms/domain"
)

// PartialPolicy decides how a combination alarm resolves child states when
// some children are at insufficient-data or the decisive children disagree.
type PartialPolicy string

const (
	// PartialStrict resolves any non-unanimous child set to
	// insufficient-data.
	PartialStrict PartialPolicy = "strict"
	// PartialDecisive ignores insufficient-data children when the
	// remaining children are unanimous.
	PartialDecisive PartialPolicy = "decisive"
)

// Valid returns true when the policy is supported.
func (p PartialPolicy) Valid() bool {
	return p == PartialStrict || p == PartialDecisive
}

// Combine folds child states with the boolean operator. OR with at least
// one alarming child is always alarm; AND with every child alarming is
// always alarm; unanimous ok is always ok. Everything else is governed by
// the partial policy.
func Combine(op alarms.BoolOperator, states []alarms.State, policy PartialPolicy) alarms.State {
	if len(states) == 0 {
		return alarms.StateInsufficientData
	}
	alarmCount, okCount, insufficientCount := 0, 0, 0
	for _, state := range states {
		switch state {
		case alarms.StateAlarm:
			alarmCount++
		case alarms.StateOK:
			okCount++
		default:
			insufficientCount++
		}
	}

	switch op {
	case alarms.OperatorOr:
		if alarmCount > 0 {
			return alarms.StateAlarm
		}
		if okCount == len(states) {
			return alarms.StateOK
		}
		if policy == PartialDecisive && okCount > 0 && alarmCount == 0 {
			return alarms.StateOK
		}
		return alarms.StateInsufficientData
	case alarms.OperatorAnd:
		if alarmCount == len(states) {
			return alarms.StateAlarm
		}
		if okCount == len(states) {
			return alarms.StateOK
		}
		if policy == PartialDecisive && insufficientCount > 0 {
			decisive := len(states) - insufficientCount
			if decisive > 0 && alarmCount == decisive {
				return alarms.StateAlarm
			}
			if decisive > 0 && okCount == decisive {
				return alarms.StateOK
			}
		}
		return alarms.StateInsufficientData
	default:
		return alarms.StateInsufficientData
	}
}

// evaluateCombination folds the children's states as committed earlier in
// the same cycle. It never queries a backend. A child missing from the
// snapshot counts as insufficient-data.
func (e *Evaluator) evaluateCombination(rule alarms.CombinationRule, childState func(string) (alarms.State, bool)) (Verdict, error) {
	if childState == nil {
		return Verdict{}, fmt.Errorf("evaluator: combination rule without child state source")
	}
	states := make([]alarms.State, 0, len(rule.ChildIDs))
	alarmCount, okCount, insufficientCount := 0, 0, 0
	for _, id := range rule.ChildIDs {
		state, ok := childState(id)
		if !ok {
			state = alarms.StateInsufficientData
		}
		states = append(states, state)
		switch state {
		case alarms.StateAlarm:
			alarmCount++
		case alarms.StateOK:
			okCount++
		default:
			insufficientCount++
		}
	}
	return Verdict{
		State: Combine(rule.Operator, states, e.partialPolicy),
		Reason: fmt.Sprintf("%s over %d children: %d alarm, %d ok, %d insufficient-data",
			rule.Operator, len(states), alarmCount, okCount, insufficientCount),
	}, nil
}
