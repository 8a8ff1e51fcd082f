package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PreferenceStore keeps small named values. Lists are stored as JSON arrays.
type PreferenceStore struct {
	db *sql.DB
}

// NewPreferenceStore uses db, or the initialized database when db is nil
func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

func (p *PreferenceStore) conn() (*sql.DB, error) {
	if p.db != nil {
		return p.db, nil
	}
	if db := GetDB(); db != nil {
		return db, nil
	}
	return nil, ErrNotInitialized
}

func (p *PreferenceStore) get(key string) (string, bool, error) {
	conn, err := p.conn()
	if err != nil {
		return "", false, err
	}
	var value string
	err = conn.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (p *PreferenceStore) put(key, value string) error {
	conn, err := p.conn()
	if err != nil {
		return err
	}
	_, err = conn.Exec(`
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// GetStrings returns the list stored under key, or nil if unset
func (p *PreferenceStore) GetStrings(key string) ([]string, error) {
	raw, ok, err := p.get(key)
	if err != nil || !ok {
		return nil, err
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode preference %s: %w", key, err)
	}
	return values, nil
}

// PutStrings stores values under key, keeping their order
func (p *PreferenceStore) PutStrings(key string, values []string) error {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key, err)
	}
	return p.put(key, string(data))
}

// GetInt returns the integer under key and whether it was set
func (p *PreferenceStore) GetInt(key string) (int, bool, error) {
	raw, ok, err := p.get(key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("failed to decode preference %s: %w", key, err)
	}
	return v, true, nil
}

// PutInt stores value under key
func (p *PreferenceStore) PutInt(key string, value int) error {
	return p.put(key, strconv.Itoa(value))
}
