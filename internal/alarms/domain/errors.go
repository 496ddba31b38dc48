package alarms

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a missing alarm record.
var ErrNotFound = errors.New("alarms: alarm not found")

// ErrStateConflict is returned by the store when a compare-and-set state
// write observes a different previous state than expected. The losing
// writer must discard its transition.
var ErrStateConflict = errors.New("alarms: state changed concurrently")

// EvaluationError marks an unexpected per-alarm evaluation failure. The
// affected alarm is skipped for the cycle and left unchanged.
type EvaluationError struct {
	AlarmID string
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("alarms: evaluation of %s failed: %v", e.AlarmID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// CycleError reports a dependency cycle among combination alarms. The
// member alarms are skipped for the cycle, never evaluated with stale data.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return "alarms: combination dependency cycle: " + strings.Join(e.Members, " -> ")
}
