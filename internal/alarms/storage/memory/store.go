// Package memory implements the alarm store in process memory. It backs
// tests and local runs; the compare-and-set contract matches the postgres
// implementation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	alarms "cloud-alarming/internal/alarms/domain"
)

// Store keeps alarm definitions and change records in memory.
type Store struct {
	mu      sync.Mutex
	alarms  map[string]alarms.Alarm
	changes []alarms.AlarmChange
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{alarms: make(map[string]alarms.Alarm)}
}

// Put inserts or replaces an alarm definition.
func (s *Store) Put(alarm alarms.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !alarm.State.Valid() {
		alarm.State = alarms.StateInsufficientData
	}
	s.alarms[alarm.ID] = alarm
}

// Get returns a copy of one alarm.
func (s *Store) Get(id string) (alarms.Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.alarms[id]
	return alarm, ok
}

// LoadEnabledAlarms implements alarms.Store.
func (s *Store) LoadEnabledAlarms(_ context.Context) ([]alarms.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]alarms.Alarm, 0, len(s.alarms))
	for _, alarm := range s.alarms {
		if alarm.Enabled {
			snapshot = append(snapshot, alarm)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot, nil
}

// SaveState implements alarms.Store with compare-and-set semantics.
func (s *Store) SaveState(_ context.Context, alarmID string, previous, next alarms.State, reason string, at time.Time) error {
	if alarmID == "" {
		return errors.New("memory store: empty alarm id")
	}
	if !next.Valid() {
		return fmt.Errorf("memory store: invalid state %q", next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.alarms[alarmID]
	if !ok {
		return alarms.ErrNotFound
	}
	if alarm.State != previous {
		return alarms.ErrStateConflict
	}
	alarm.State = next
	alarm.StateReason = reason
	alarm.StateUpdatedAt = at.UTC()
	alarm.UpdatedAt = at.UTC()
	s.alarms[alarmID] = alarm
	return nil
}

// AppendChange implements alarms.Store.
func (s *Store) AppendChange(_ context.Context, change alarms.AlarmChange) error {
	if change.ID == "" || change.AlarmID == "" {
		return errors.New("memory store: incomplete change record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change)
	return nil
}

// Changes returns a copy of the recorded change log.
func (s *Store) Changes() []alarms.AlarmChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alarms.AlarmChange(nil), s.changes...)
}
