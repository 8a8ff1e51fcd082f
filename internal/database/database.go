// Package database stores client preferences and the local submission history in sqlite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ontree-co/treeseg/internal/logging"
	"github.com/ontree-co/treeseg/internal/migrations"
)

var db *sql.DB

// ErrNotInitialized is returned when a store is used before Initialize
var ErrNotInitialized = errors.New("database not initialized")

func GetDB() *sql.DB {
	return db
}

// Initialize opens the database at dbPath, creating its directory if needed,
// and applies pending migrations.
func Initialize(dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var err error
	db, err = sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; the client is not write heavy
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return err
	}

	logging.Debugf("Database initialized at %s", dbPath)
	return nil
}

func Close() error {
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}
