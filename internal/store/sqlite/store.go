// Package sqlite implements store.ProfileStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var _ store.ProfileStore = (*Store)(nil)

// Store provides SQLite-backed persistence for entitlement profiles.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a new SQLite store at the given path.
// It configures WAL mode and a busy timeout, then runs the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"busy_timeout(5000)",
	}
	params := url.Values{}
	for _, pragma := range pragmas {
		params.Add("_pragma", pragma)
	}
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("sqlite store opened", slog.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// toMillis converts a time to unix milliseconds for storage.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts stored unix milliseconds back to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullMillis returns a NULL for nil or zero times.
func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// parseNullableMillis converts an optional stored timestamp.
func parseNullableMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
