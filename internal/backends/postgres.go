package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultSamplesTable = "metric_samples"

// PostgresBackend queries raw metric samples from a Postgres table with
// columns (metric, resource, ts, value).
type PostgresBackend struct {
	name    string
	db      *sql.DB
	table   string
	timeout time.Duration
}

// PostgresOption configures the backend.
type PostgresOption func(*PostgresBackend)

// WithSamplesTable overrides the default table name.
func WithSamplesTable(table string) PostgresOption {
	return func(b *PostgresBackend) {
		if table != "" {
			b.table = table
		}
	}
}

// WithPostgresTimeout overrides the mandatory per-call timeout.
func WithPostgresTimeout(timeout time.Duration) PostgresOption {
	return func(b *PostgresBackend) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// NewPostgresBackend constructs a backend over an open database handle.
func NewPostgresBackend(name string, db *sql.DB, opts ...PostgresOption) (*PostgresBackend, error) {
	if name == "" {
		return nil, errors.New("postgres backend: empty name")
	}
	if db == nil {
		return nil, errors.New("postgres backend: nil db")
	}
	backend := &PostgresBackend{
		name:    name,
		db:      db,
		table:   defaultSamplesTable,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend, nil
}

// QuerySeries implements SeriesQuerier. The optional "resource" filter
// narrows samples to one originating resource.
func (b *PostgresBackend) QuerySeries(ctx context.Context, q SeriesQuery) ([]Point, error) {
	if b == nil || b.db == nil {
		return nil, errors.New("postgres backend: nil db")
	}
	if q.Metric == "" || q.Start.IsZero() || q.End.IsZero() {
		return nil, errors.New("postgres backend: invalid query")
	}
	ctx, cancel := callTimeout(ctx, b.timeout)
	defer cancel()

	query := fmt.Sprintf(`
SELECT ts, value
FROM %s
WHERE metric = $1
	AND ts >= $2
	AND ts < $3`, b.table)
	args := []any{q.Metric, q.Start.UTC(), q.End.UTC()}
	if resource := q.Filters["resource"]; resource != "" {
		query += "\n\tAND resource = $4"
		args = append(args, resource)
	}
	query += "\nORDER BY ts ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(b.name, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var ts time.Time
		var value sql.NullFloat64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, err
		}
		if !value.Valid {
			continue
		}
		points = append(points, Point{At: ts.UTC(), Value: value.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(b.name, err)
	}
	return points, nil
}
