package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"memobox/internal/capsule"
	"memobox/internal/config"
	"memobox/internal/errors"
)

// Record keys for the two persisted aggregates.
const (
	KeyState    = "state"
	KeySettings = "settings"
)

// PutRecord writes a record, replacing any existing value for the key.
func PutRecord(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetRecord reads a record. The second return is false when the key is absent.
func GetRecord(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// LoadState reads the persisted AppState. Any mismatch — missing record,
// unparsable JSON, wrong version, or a non-array boxes field — yields the
// empty default rather than an error.
func LoadState(db *sql.DB) (*capsule.AppState, error) {
	raw, ok, err := GetRecord(db, KeyState)
	if err != nil {
		return nil, err
	}
	if !ok {
		return capsule.EmptyState(), nil
	}

	// Two-step decode: version gate first, then the boxes array, so a
	// malformed boxes field degrades to the default instead of failing.
	var envelope struct {
		Version int             `json:"version"`
		Boxes   json.RawMessage `json:"boxes"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return capsule.EmptyState(), nil
	}
	if envelope.Version != capsule.StateVersion {
		return capsule.EmptyState(), nil
	}

	var boxes []*capsule.Capsule
	if err := json.Unmarshal(envelope.Boxes, &boxes); err != nil {
		return capsule.EmptyState(), nil
	}

	state := &capsule.AppState{Version: capsule.StateVersion, Boxes: boxes}
	if state.Boxes == nil {
		state.Boxes = []*capsule.Capsule{}
	}
	state.Normalize()
	return state, nil
}

// SaveState writes the full AppState. Full-state writes are fine for the
// data volumes involved.
func SaveState(db *sql.DB, state *capsule.AppState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.NewInternal(err)
	}
	return PutRecord(db, KeyState, string(data))
}

// LoadSettings reads the persisted settings record, defaulting the agent
// endpoint when the record is absent or malformed.
func LoadSettings(db *sql.DB, cfg *config.Config) (capsule.Settings, error) {
	fallback := capsule.Settings{AgentProxyURL: cfg.AgentProxyURL}
	if fallback.AgentProxyURL == "" {
		fallback.AgentProxyURL = config.DefaultAgentProxyURL
	}

	raw, ok, err := GetRecord(db, KeySettings)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}

	var s capsule.Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fallback, nil
	}
	if s.AgentProxyURL == "" {
		return fallback, nil
	}
	return s, nil
}

// SaveSettings writes the settings record.
func SaveSettings(db *sql.DB, s capsule.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.NewInternal(err)
	}
	return PutRecord(db, KeySettings, string(data))
}
