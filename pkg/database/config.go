package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds room storage configuration
// ARCHITECTURAL DISCOVERY: The database is always opened in SQLite memory mode.
// Rooms live for the process lifetime only; nothing is written to disk.
type Config struct {
	Name           string        `json:"name"`             // memory database name, unique per process
	WriteTimeout   time.Duration `json:"write_timeout"`    // max wait for the single writer
	WriteQueueSize int           `json:"write_queue_size"` // buffered write operations
}

// DefaultConfig returns the storage configuration used by the server
func DefaultConfig() *Config {
	return &Config{
		Name:           "gridspace",
		WriteTimeout:   30 * time.Second,
		WriteQueueSize: 100,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("database name cannot be empty")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string for the memory database
// FUNCTIONAL DISCOVERY: A named shared-cache memory database survives as long
// as one connection stays open, so the pool must never drop to zero connections
func (c *Config) DSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000", url.PathEscape(c.Name))
}

// SQLite pragmas for an in-process, memory-resident catalog
const sqliteOptimizations = `
	PRAGMA foreign_keys = ON;      -- Enforce room_members.room_id -> rooms.id
	PRAGMA temp_store = MEMORY;    -- Temporary tables stay in memory too
	PRAGMA synchronous = OFF;      -- Nothing to sync, the database is volatile
`

// Open opens the memory database and applies pragmas
// TECHNICAL DISCOVERY: Exactly one pooled connection that never expires keeps
// the memory database alive and serializes access at the driver level
func Open(config *Config) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	return db, nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
