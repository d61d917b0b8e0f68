// Package sqlite persists calls, cost items, patients, settings and webhook
// dedupe claims in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// Fixed-width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQL connection with domain queries.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file and schema when missing.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; per-call read-modify-write relies on it.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: sqlDB, path: path}
	if err := s.configure(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := s.createSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	for _, create := range []func() error{
		s.createPatientsTable,
		s.createCallsTable,
		s.createCostItemsTable,
		s.createSettingsTable,
		s.createWebhookDedupeTable,
	} {
		if err := create(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createPatientsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		mrn TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) createCallsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		telephony_provider TEXT NOT NULL,
		provider_call_id TEXT,
		status TEXT NOT NULL,
		recording_url TEXT,
		transcript TEXT,
		transcript_status TEXT NOT NULL DEFAULT 'none',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_calls_provider_call_id ON calls(provider_call_id);
	CREATE INDEX IF NOT EXISTS idx_calls_created_at ON calls(created_at);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) createCostItemsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS cost_items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		call_id TEXT NOT NULL REFERENCES calls(id),
		category TEXT NOT NULL,
		provider TEXT NOT NULL,
		units TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_items_call_id ON cost_items(call_id);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) createSettingsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) createWebhookDedupeTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_dedupe (
		call_id TEXT NOT NULL,
		recording_url TEXT NOT NULL,
		claimed_at TEXT NOT NULL,
		PRIMARY KEY (call_id, recording_url)
	);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
