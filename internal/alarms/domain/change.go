package alarms

import "time"

// AlarmChange is an append-only record of one accepted state transition.
// The engine produces these; retention belongs to the external store.
type AlarmChange struct {
	ID            string
	AlarmID       string
	PreviousState State
	NewState      State
	Reason        string
	At            time.Time
	// Rule is a snapshot of the rule in effect when the transition was
	// accepted, so the record stays meaningful after rule edits.
	Rule Rule
}
