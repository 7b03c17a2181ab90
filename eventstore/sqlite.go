package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore is an event store implementation using SQLite.
// The (aggregate_id, version) primary key backs the optimistic concurrency check.
type SQLiteStore struct {
	db         *sql.DB
	serializer Serializer
	logger     *zap.Logger
}

// SQLiteOption configures a SQLiteStore
type SQLiteOption func(*SQLiteStore)

// WithSQLiteSerializer replaces the default JSONSerializer
func WithSQLiteSerializer(s Serializer) SQLiteOption {
	return func(store *SQLiteStore) {
		store.serializer = s
	}
}

// WithSQLiteLogger sets the logger used to report conflicts and failures
func WithSQLiteLogger(logger *zap.Logger) SQLiteOption {
	return func(store *SQLiteStore) {
		if logger != nil {
			store.logger = logger
		}
	}
}

// OpenSQLite creates or opens a SQLite database at path and applies the schema.
// The pool is limited to one connection so writers are serialized.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		serializer: NewJSONSerializer(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveEvents implements EventStore. Version check and insert run in one transaction.
func (s *SQLiteStore) SaveEvents(
	ctx context.Context,
	aggregateID string,
	events []event.DomainEvent,
	expectedVersion *uint64,
) (err error) {
	if err := checkBatch(aggregateID, events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := sqliteVersion(ctx, tx, aggregateID)
	if err != nil {
		return err
	}
	if expectedVersion != nil && *expectedVersion != current {
		s.logger.Warn("version conflict",
			zap.String("aggregate_id", aggregateID),
			zap.Uint64("expected_version", *expectedVersion),
			zap.Uint64("current_version", current),
		)
		return conflict(aggregateID, expectedVersion, current)
	}

	history, err := marshalAll(s.serializer, current, events)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (aggregate_id, version, aggregate_type, event_name, event_data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, record := range history {
		_, err = stmt.ExecContext(ctx, aggregateID, int64(record.Version), events[i].AggregateType, events[i].Name, record.Data)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return conflict(aggregateID, expectedVersion, current)
			}
			return fmt.Errorf("failed to insert event %s: %w", events[i].Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// LoadEvents implements EventStore
func (s *SQLiteStore) LoadEvents(ctx context.Context, aggregateID string, afterVersion *uint64) ([]event.DomainEvent, error) {
	var after int64
	if afterVersion != nil {
		after = int64(*afterVersion)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT version, event_data FROM events WHERE aggregate_id = ? AND version > ? ORDER BY version`,
		aggregateID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	history := History{}
	for rows.Next() {
		var (
			version int64
			data    []byte
		)
		if err := rows.Scan(&version, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		history = append(history, Record{Version: uint64(version), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return unmarshalAll(s.serializer, history)
}

// Version implements EventStore
func (s *SQLiteStore) Version(ctx context.Context, aggregateID string) (uint64, error) {
	return sqliteVersion(ctx, s.db, aggregateID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteVersion(ctx context.Context, q queryRower, aggregateID string) (uint64, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return uint64(version), nil
}
