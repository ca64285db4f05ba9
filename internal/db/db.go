package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPath is the default database location
const DefaultPath = "/var/lib/jbodplan/inventory.db"

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// New opens or creates the SQLite database at the given path
func New(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	// Parallel discovery writes controller output concurrently.
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	db := &DB{conn: conn, path: path, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

func (d *DB) migrate() error {
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1,
		migrationV2,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// migrationV1 creates the initial schema
const migrationV1 = `
-- One row per discovery invocation
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    hosts TEXT NOT NULL,
    node_count INTEGER NOT NULL,
    disk_count INTEGER NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

-- Disks exactly as a run reported them
CREATE TABLE IF NOT EXISTS run_disks (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    node TEXT NOT NULL,
    name TEXT NOT NULL,
    disk_type TEXT NOT NULL,
    model TEXT,
    size_bytes INTEGER,
    location INTEGER,
    serial TEXT,
    is_virtual INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_disks_run ON run_disks(run_id);

-- Drive inventory: one row per serial ever discovered
CREATE TABLE IF NOT EXISTS drives (
    id INTEGER PRIMARY KEY,
    serial TEXT UNIQUE NOT NULL,
    node TEXT,
    device_name TEXT,
    model TEXT,
    drive_type TEXT,
    size_bytes INTEGER,
    location INTEGER,
    last_run_id TEXT,
    first_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_drives_node ON drives(node, device_name);

-- Outcome of partitioning one disk
CREATE TABLE IF NOT EXISTS partition_events (
    id INTEGER PRIMARY KEY,
    batch_id TEXT NOT NULL,
    node TEXT NOT NULL,
    disk TEXT NOT NULL,
    partitions INTEGER NOT NULL,
    status TEXT NOT NULL,
    step TEXT,
    error TEXT,
    duration_ms INTEGER,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_batch ON partition_events(batch_id);
CREATE INDEX IF NOT EXISTS idx_events_disk ON partition_events(node, disk);
CREATE INDEX IF NOT EXISTS idx_events_time ON partition_events(timestamp);
`

// migrationV2 keeps raw controller tool output between discovery runs
const migrationV2 = `
CREATE TABLE IF NOT EXISTS controller_info (
    host TEXT NOT NULL,
    vendor TEXT NOT NULL,
    logical_output TEXT NOT NULL,
    physical_output TEXT NOT NULL,
    fetched_at TIMESTAMP NOT NULL,
    PRIMARY KEY (host, vendor)
);
`

// Run is one recorded discovery
type Run struct {
	ID         string
	Hosts      []string
	NodeCount  int
	DiskCount  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// DiskRecord is a disk as reported by one run
type DiskRecord struct {
	ID        int64
	RunID     string
	Node      string
	Name      string
	DiskType  string
	Model     string
	SizeBytes int64
	Location  int
	Serial    string
	Virtual   bool
}

// DriveRecord is the inventory entry of a physical drive, keyed by serial
type DriveRecord struct {
	ID         int64
	Serial     string
	Node       string
	DeviceName string
	Model      string
	DriveType  string
	SizeBytes  int64
	Location   int
	LastRunID  string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// PartitionEvent records the outcome of partitioning one disk
type PartitionEvent struct {
	ID         int64
	BatchID    string
	Node       string
	Disk       string
	Partitions int
	Status     string
	Step       string
	Error      string
	Duration   time.Duration
	Timestamp  time.Time
}

// Partition event statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
