package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Preference keys used by the client.
const (
	PrefSoundEnabled = "sound.enabled"
	PrefDeviceID     = "device.id"
)

// PreferenceStore persists small client-side settings.
type PreferenceStore struct {
	db *DB
}

// NewPreferenceStore creates a new preference store
func NewPreferenceStore(db *DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns the stored value and whether it was present.
func (s *PreferenceStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.conn.GetContext(ctx, &value, `SELECT value FROM preferences WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts a value.
func (s *PreferenceStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

// Bool reads a boolean preference, returning def when unset or unparsable.
func (s *PreferenceStore) Bool(ctx context.Context, key string, def bool) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, nil
	}
	return v, nil
}

// SetBool stores a boolean preference.
func (s *PreferenceStore) SetBool(ctx context.Context, key string, value bool) error {
	return s.Set(ctx, key, strconv.FormatBool(value))
}

// DeviceID returns this installation's id, creating it on first use.
func (s *PreferenceStore) DeviceID(ctx context.Context) (string, error) {
	id, ok, err := s.Get(ctx, PrefDeviceID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.Set(ctx, PrefDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
