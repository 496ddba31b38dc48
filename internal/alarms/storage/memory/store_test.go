package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	alarms "cloud-alarming/internal/alarms/domain"
)

var storeNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestLoadEnabledAlarmsFiltersAndSorts(t *testing.T) {
	store := NewStore()
	store.Put(alarms.Alarm{ID: "b", Enabled: true})
	store.Put(alarms.Alarm{ID: "a", Enabled: true})
	store.Put(alarms.Alarm{ID: "disabled", Enabled: false})

	snapshot, err := store.LoadEnabledAlarms(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snapshot) != 2 || snapshot[0].ID != "a" || snapshot[1].ID != "b" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestPutDefaultsStateToInsufficientData(t *testing.T) {
	store := NewStore()
	store.Put(alarms.Alarm{ID: "fresh", Enabled: true})
	alarm, _ := store.Get("fresh")
	if alarm.State != alarms.StateInsufficientData {
		t.Fatalf("initial state: %q", alarm.State)
	}
}

func TestSaveStateCompareAndSet(t *testing.T) {
	store := NewStore()
	store.Put(alarms.Alarm{ID: "a", State: alarms.StateOK, Enabled: true})

	if err := store.SaveState(context.Background(), "a", alarms.StateOK, alarms.StateAlarm, "breach", storeNow); err != nil {
		t.Fatalf("save: %v", err)
	}
	alarm, _ := store.Get("a")
	if alarm.State != alarms.StateAlarm || alarm.StateReason != "breach" || !alarm.StateUpdatedAt.Equal(storeNow) {
		t.Fatalf("state not updated: %+v", alarm)
	}

	// Stale previous state loses the race.
	err := store.SaveState(context.Background(), "a", alarms.StateOK, alarms.StateInsufficientData, "stale", storeNow)
	if !errors.Is(err, alarms.ErrStateConflict) {
		t.Fatalf("got %v, want ErrStateConflict", err)
	}
	alarm, _ = store.Get("a")
	if alarm.State != alarms.StateAlarm {
		t.Fatalf("conflicting write applied: %q", alarm.State)
	}
}

func TestSaveStateUnknownAlarm(t *testing.T) {
	store := NewStore()
	err := store.SaveState(context.Background(), "missing", alarms.StateOK, alarms.StateAlarm, "", storeNow)
	if !errors.Is(err, alarms.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSaveStateRejectsInvalidInput(t *testing.T) {
	store := NewStore()
	if err := store.SaveState(context.Background(), "", alarms.StateOK, alarms.StateAlarm, "", storeNow); err == nil {
		t.Fatal("expected rejection of empty id")
	}
	store.Put(alarms.Alarm{ID: "a", State: alarms.StateOK, Enabled: true})
	if err := store.SaveState(context.Background(), "a", alarms.StateOK, "bogus", "", storeNow); err == nil {
		t.Fatal("expected rejection of invalid state")
	}
}

func TestAppendChange(t *testing.T) {
	store := NewStore()
	change := alarms.AlarmChange{
		ID:            "c-1",
		AlarmID:       "a",
		PreviousState: alarms.StateOK,
		NewState:      alarms.StateAlarm,
		At:            storeNow,
	}
	if err := store.AppendChange(context.Background(), change); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendChange(context.Background(), alarms.AlarmChange{}); err == nil {
		t.Fatal("expected rejection of incomplete change")
	}
	changes := store.Changes()
	if len(changes) != 1 || changes[0].ID != "c-1" {
		t.Fatalf("unexpected change log: %+v", changes)
	}
}
