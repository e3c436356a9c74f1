// Package sqlite persists contacts, alert history and settings in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rbright/pulselink/internal/alert"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	display_name TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	escalation_tier TEXT NOT NULL,
	include_location INTEGER NOT NULL DEFAULT 0,
	auto_call INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_contacts_tier ON contacts(escalation_tier, display_name);

CREATE TABLE IF NOT EXISTS alert_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	triggered_by TEXT NOT NULL,
	tier TEXT NOT NULL,
	contact_count INTEGER NOT NULL,
	sent_sms INTEGER NOT NULL,
	shared_location INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_events_timestamp ON alert_events(timestamp DESC);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB is the SQLite-backed contact, audit and settings store.
type DB struct {
	conn *sql.DB
	path string
	seed alert.Settings
	now  func() time.Time
}

// Open opens or creates the database at path. seed supplies settings values
// for keys that were never written.
func Open(path string, seed alert.Settings) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	db := WrapConn(conn, seed)
	db.path = path
	if err := db.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}
	return db, nil
}

// WrapConn wraps an existing connection without touching the schema.
// The caller is responsible for closing conn.
func WrapConn(conn *sql.DB, seed alert.Settings) *DB {
	return &DB{conn: conn, seed: seed, now: time.Now}
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path, empty for wrapped connections.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) initSchema(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
