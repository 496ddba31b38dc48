package alarms

import (
	"context"
	"time"
)

// Store is the external alarm-definition store. The engine reads a snapshot
// of enabled alarms at the start of every cycle and writes state
// transitions back; schema and retention are owned elsewhere.
type Store interface {
	// LoadEnabledAlarms returns the current enabled alarm definitions with
	// their persisted states.
	LoadEnabledAlarms(ctx context.Context) ([]Alarm, error)

	// SaveState writes a state transition with compare-and-set semantics:
	// the write only succeeds if the stored state still equals previous.
	// Returns ErrStateConflict when another writer got there first and
	// ErrNotFound for unknown alarms.
	SaveState(ctx context.Context, alarmID string, previous, next State, reason string, at time.Time) error

	// AppendChange records an accepted transition. Records are append-only.
	AppendChange(ctx context.Context, change AlarmChange) error
}
