// Package evaluator turns metric windows, child states and event batches
// into proposed alarm states. Evaluators are pure with respect to alarm
// state; committing a proposal is the state machine's job.
package evaluator

import (
	"context"
	"fmt"
	"time"

	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/backends"
)

// Verdict is an evaluator's proposed state for one cycle.
type Verdict struct {
	State  alarms.State
	Reason string
	// None reports that the evaluator has no verdict this cycle. Only
	// event rules produce it: without a triggering event the alarm state
	// is left unchanged.
	None bool
}

// Input carries the per-cycle context an evaluation needs.
type Input struct {
	// Now is the cycle timestamp; threshold windows end here.
	Now time.Time
	// Since is the start of the event window, normally the alarm's last
	// evaluation time.
	Since time.Time
	// ChildState resolves a child alarm's state as committed earlier in
	// the same cycle. Returns false for unknown alarms.
	ChildState func(id string) (alarms.State, bool)
}

// Evaluator dispatches over the closed rule variant.
type Evaluator struct {
	registry       *backends.Registry
	defaultSeries  string
	defaultEvents  string
	partialPolicy  PartialPolicy
	defaultMinimum int
}

// Option configures the evaluator.
type Option func(*Evaluator)

// WithPartialPolicy selects how combination alarms resolve mixed child
// states (see Combine).
func WithPartialPolicy(policy PartialPolicy) Option {
	return func(e *Evaluator) {
		if policy.Valid() {
			e.partialPolicy = policy
		}
	}
}

// WithDefaultMinSamples sets the fallback per-window sample minimum for
// threshold rules that do not configure one.
func WithDefaultMinSamples(minimum int) Option {
	return func(e *Evaluator) {
		if minimum > 0 {
			e.defaultMinimum = minimum
		}
	}
}

// New constructs an evaluator. Rules that name no backend fall back to the
// given defaults.
func New(registry *backends.Registry, defaultSeries, defaultEvents string, opts ...Option) (*Evaluator, error) {
	if registry == nil {
		return nil, fmt.Errorf("evaluator: nil backend registry")
	}
	e := &Evaluator{
		registry:       registry,
		defaultSeries:  defaultSeries,
		defaultEvents:  defaultEvents,
		partialPolicy:  PartialStrict,
		defaultMinimum: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate produces a verdict for one alarm. The switch over the rule tag
// is exhaustive; an unknown tag is an evaluation failure, never a silent
// default.
func (e *Evaluator) Evaluate(ctx context.Context, alarm alarms.Alarm, in Input) (Verdict, error) {
	switch alarm.Rule.Type {
	case alarms.RuleTypeThreshold:
		if alarm.Rule.Threshold == nil {
			return Verdict{}, fmt.Errorf("evaluator: alarm %s: threshold variant missing", alarm.ID)
		}
		return e.evaluateThreshold(ctx, *alarm.Rule.Threshold, in.Now)
	case alarms.RuleTypeCombination:
		if alarm.Rule.Combination == nil {
			return Verdict{}, fmt.Errorf("evaluator: alarm %s: combination variant missing", alarm.ID)
		}
		return e.evaluateCombination(*alarm.Rule.Combination, in.ChildState)
	case alarms.RuleTypeEvent:
		if alarm.Rule.Event == nil {
			return Verdict{}, fmt.Errorf("evaluator: alarm %s: event variant missing", alarm.ID)
		}
		return e.evaluateEvent(ctx, *alarm.Rule.Event, in.Since, in.Now)
	default:
		return Verdict{}, fmt.Errorf("evaluator: alarm %s: unrecognized rule type %q", alarm.ID, alarm.Rule.Type)
	}
}
