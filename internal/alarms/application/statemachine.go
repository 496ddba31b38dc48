// Package application holds the alarm state machine, the sole writer of
// alarm state.
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/alarms/evaluator"
	"cloud-alarming/internal/observability/metrics"
)

// Notification is the dispatch request handed to the notifier on an
// accepted transition or a repeat-actions re-fire. ID is stable per
// AlarmChange so receivers can de-duplicate redelivery.
type Notification struct {
	ID            string
	AlarmID       string
	PreviousState alarms.State
	NewState      alarms.State
	Reason        string
	At            time.Time
	Severity      string
	Actions       []string
}

// Dispatcher accepts notifications for asynchronous delivery. Enqueue must
// never block the evaluation pipeline.
type Dispatcher interface {
	Enqueue(n Notification)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// StateMachine applies evaluator verdicts to persisted alarm state.
type StateMachine struct {
	store      alarms.Store
	dispatcher Dispatcher
	logger     *zap.Logger
	clock      Clock
}

// StateMachineOption customizes the state machine.
type StateMachineOption func(*StateMachine)

// WithClock overrides the default clock.
func WithClock(clock Clock) StateMachineOption {
	return func(m *StateMachine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewStateMachine constructs a state machine.
func NewStateMachine(store alarms.Store, dispatcher Dispatcher, logger *zap.Logger, opts ...StateMachineOption) (*StateMachine, error) {
	if store == nil {
		return nil, errors.New("state machine: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	machine := &StateMachine{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(machine)
	}
	return machine, nil
}

// Apply commits an evaluator verdict for one alarm and returns the state
// the alarm holds afterwards.
//
// A re-proposal of the stored state creates no AlarmChange; the action set
// re-fires only when repeat_actions is set. A different state is accepted
// immediately (the evaluator's consecutive-window requirement is the only
// debounce) via a compare-and-set write; losing the race to a concurrent
// writer discards the transition rather than overwriting newer state.
func (m *StateMachine) Apply(ctx context.Context, alarm alarms.Alarm, verdict evaluator.Verdict) (alarms.State, error) {
	if m == nil {
		return "", errors.New("state machine: nil receiver")
	}
	if verdict.None {
		return alarm.State, nil
	}
	if !verdict.State.Valid() {
		return alarm.State, errors.New("state machine: verdict with invalid state")
	}

	if verdict.State == alarm.State {
		if alarm.RepeatActions {
			m.enqueue(alarm, alarm.State, verdict.Reason, uuid.NewString(), m.clock.Now().UTC())
		}
		return alarm.State, nil
	}

	at := m.clock.Now().UTC()
	change := alarms.AlarmChange{
		ID:            uuid.NewString(),
		AlarmID:       alarm.ID,
		PreviousState: alarm.State,
		NewState:      verdict.State,
		Reason:        verdict.Reason,
		At:            at,
		Rule:          alarm.Rule,
	}

	err := m.store.SaveState(ctx, alarm.ID, alarm.State, verdict.State, verdict.Reason, at)
	if errors.Is(err, alarms.ErrStateConflict) {
		metrics.IncStateConflict()
		m.logger.Warn("state transition lost to concurrent writer",
			zap.String("alarm_id", alarm.ID),
			zap.String("proposed", string(verdict.State)))
		return alarm.State, nil
	}
	if err != nil {
		return alarm.State, err
	}

	if err := m.store.AppendChange(ctx, change); err != nil {
		// State is already committed; the missing history record is worth
		// a log line, not a failed cycle.
		m.logger.Error("append alarm change failed",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err))
	}
	metrics.IncTransition(string(verdict.State))
	m.logger.Info("alarm state transition",
		zap.String("alarm_id", alarm.ID),
		zap.String("from", string(alarm.State)),
		zap.String("to", string(verdict.State)),
		zap.String("reason", verdict.Reason))

	m.enqueue(alarm, verdict.State, verdict.Reason, change.ID, at)
	return verdict.State, nil
}

func (m *StateMachine) enqueue(alarm alarms.Alarm, newState alarms.State, reason, id string, at time.Time) {
	if m.dispatcher == nil {
		return
	}
	actions := alarm.ActionsFor(newState)
	if len(actions) == 0 {
		return
	}
	m.dispatcher.Enqueue(Notification{
		ID:            id,
		AlarmID:       alarm.ID,
		PreviousState: alarm.State,
		NewState:      newState,
		Reason:        reason,
		At:            at,
		Severity:      alarm.Severity,
		Actions:       append([]string(nil), actions...),
	})
}
