package alarms

import "time"

// State is the three-valued evaluation state of an alarm.
type State string

const (
	StateOK               State = "ok"
	StateAlarm            State = "alarm"
	StateInsufficientData State = "insufficient-data"
)

// Valid returns true when the state is one of the three known values.
func (s State) Valid() bool {
	switch s {
	case StateOK, StateAlarm, StateInsufficientData:
		return true
	default:
		return false
	}
}

// Severity levels, lowest to highest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alarm is a read-only snapshot of an alarm definition plus its persisted
// evaluation state. Definitions are owned by the external store; the engine
// re-reads them at the start of every cycle.
type Alarm struct {
	ID             string
	Name           string
	Description    string
	Rule           Rule
	State          State
	StateReason    string
	StateUpdatedAt time.Time
	Severity       string
	Enabled        bool
	RepeatActions  bool

	OKActions               []string
	AlarmActions            []string
	InsufficientDataActions []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionsFor returns the action set keyed by the given target state.
func (a Alarm) ActionsFor(state State) []string {
	switch state {
	case StateOK:
		return a.OKActions
	case StateAlarm:
		return a.AlarmActions
	case StateInsufficientData:
		return a.InsufficientDataActions
	default:
		return nil
	}
}

// SeverityRank orders severities for comparison. Unknown severities rank
// below low.
func SeverityRank(value string) int {
	switch value {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
