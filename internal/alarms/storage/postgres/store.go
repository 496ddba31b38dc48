// Package postgres implements the alarm store over Postgres. Rules and
// action sets are stored as JSON documents; the rule document is validated
// against the wire schema on load.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/alarms/schema"
)

const (
	defaultAlarmsTable  = "alarms"
	defaultChangesTable = "alarm_changes"
)

// Store persists alarm definitions, states and change records.
type Store struct {
	db           *sql.DB
	logger       *zap.Logger
	alarmsTable  string
	changesTable string
}

// Option configures the store.
type Option func(*Store)

// WithAlarmsTable overrides the alarm definitions table name.
func WithAlarmsTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.alarmsTable = table
		}
	}
}

// WithChangesTable overrides the change records table name.
func WithChangesTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.changesTable = table
		}
	}
}

// NewStore constructs a store over an open database handle.
func NewStore(db *sql.DB, logger *zap.Logger, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("alarm store: nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		db:           db,
		logger:       logger,
		alarmsTable:  defaultAlarmsTable,
		changesTable: defaultChangesTable,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// LoadEnabledAlarms implements alarms.Store. Rows whose rule document fails
// schema validation are skipped and logged; one bad definition must not
// hide the rest of the snapshot.
func (s *Store) LoadEnabledAlarms(ctx context.Context) ([]alarms.Alarm, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("alarm store: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, name, description, rule, state, state_reason, state_updated_at,
	severity, repeat_actions, ok_actions, alarm_actions,
	insufficient_data_actions, created_at, updated_at
FROM %s
WHERE enabled = TRUE
ORDER BY id ASC`, s.alarmsTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshot []alarms.Alarm
	for rows.Next() {
		var alarm alarms.Alarm
		var description, stateReason sql.NullString
		var ruleDoc, okActions, alarmActions, insufficientActions []byte
		var stateUpdatedAt sql.NullTime
		if err := rows.Scan(
			&alarm.ID,
			&alarm.Name,
			&description,
			&ruleDoc,
			(*string)(&alarm.State),
			&stateReason,
			&stateUpdatedAt,
			&alarm.Severity,
			&alarm.RepeatActions,
			&okActions,
			&alarmActions,
			&insufficientActions,
			&alarm.CreatedAt,
			&alarm.UpdatedAt,
		); err != nil {
			return nil, err
		}
		alarm.Enabled = true
		alarm.Description = description.String
		alarm.StateReason = stateReason.String
		if stateUpdatedAt.Valid {
			alarm.StateUpdatedAt = stateUpdatedAt.Time.UTC()
		}
		if !alarm.State.Valid() {
			alarm.State = alarms.StateInsufficientData
		}

		rule, err := schema.Decode(ruleDoc)
		if err != nil {
			s.logger.Warn("skipping alarm with invalid rule document",
				zap.String("alarm_id", alarm.ID),
				zap.Error(err))
			continue
		}
		alarm.Rule = rule
		alarm.OKActions = decodeActions(okActions)
		alarm.AlarmActions = decodeActions(alarmActions)
		alarm.InsufficientDataActions = decodeActions(insufficientActions)
		snapshot = append(snapshot, alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SaveState implements alarms.Store with a compare-and-set on the previous
// state, so a concurrent engine instance cannot silently overwrite a more
// recent transition.
func (s *Store) SaveState(ctx context.Context, alarmID string, previous, next alarms.State, reason string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("alarm store: nil db")
	}
	if alarmID == "" {
		return errors.New("alarm store: empty alarm id")
	}
	if !next.Valid() {
		return fmt.Errorf("alarm store: invalid state %q", next)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET state = $2, state_reason = $3, state_updated_at = $4, updated_at = $4
WHERE id = $1 AND state = $5`, s.alarmsTable)

	result, err := s.db.ExecContext(ctx, query, alarmID, string(next), reason, at.UTC(), string(previous))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	existsQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.alarmsTable)
	if err := s.db.QueryRowContext(ctx, existsQuery, alarmID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return alarms.ErrNotFound
	}
	return alarms.ErrStateConflict
}

// AppendChange implements alarms.Store.
func (s *Store) AppendChange(ctx context.Context, change alarms.AlarmChange) error {
	if s == nil || s.db == nil {
		return errors.New("alarm store: nil db")
	}
	if change.ID == "" || change.AlarmID == "" {
		return errors.New("alarm store: incomplete change record")
	}
	ruleDoc, err := schema.Encode(change.Rule)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, alarm_id, previous_state, new_state, reason, at, rule)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.changesTable)
	_, err = s.db.ExecContext(ctx, query,
		change.ID,
		change.AlarmID,
		string(change.PreviousState),
		string(change.NewState),
		change.Reason,
		change.At.UTC(),
		ruleDoc,
	)
	return err
}

// ListChanges returns the most recent change records for one alarm,
// newest first. Operators use it to inspect transition history.
func (s *Store) ListChanges(ctx context.Context, alarmID string, limit int) ([]alarms.AlarmChange, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("alarm store: nil db")
	}
	if alarmID == "" {
		return nil, errors.New("alarm store: empty alarm id")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, alarm_id, previous_state, new_state, reason, at, rule
FROM %s
WHERE alarm_id = $1
ORDER BY at DESC
LIMIT $2`, s.changesTable)

	rows, err := s.db.QueryContext(ctx, query, alarmID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []alarms.AlarmChange
	for rows.Next() {
		var change alarms.AlarmChange
		var ruleDoc []byte
		if err := rows.Scan(
			&change.ID,
			&change.AlarmID,
			(*string)(&change.PreviousState),
			(*string)(&change.NewState),
			&change.Reason,
			&change.At,
			&ruleDoc,
		); err != nil {
			return nil, err
		}
		change.At = change.At.UTC()
		if rule, err := schema.Decode(ruleDoc); err == nil {
			change.Rule = rule
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

func decodeActions(doc []byte) []string {
	if len(doc) == 0 {
		return nil
	}
	var actions []string
	if err := json.Unmarshal(doc, &actions); err != nil {
		return nil
	}
	return actions
}
