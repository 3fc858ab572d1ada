package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Autonomy presets.
const (
	PresetCautious = "cautious"
	PresetBalanced = "balanced"
	PresetHandsOff = "hands_off"
)

// AutonomySettings is the per-user record read by the gate on every decision.
type AutonomySettings struct {
	UserID    string
	Preset    string
	Overrides map[string]int // category → effective tier
	UpdatedAt int64
}

// DefaultAutonomySettings is what a user gets before they have chosen.
func DefaultAutonomySettings(userID string) *AutonomySettings {
	return &AutonomySettings{UserID: userID, Preset: PresetBalanced}
}

// GetAutonomySettings returns the user's settings, falling back to the
// balanced default when none are stored.
func (db *DB) GetAutonomySettings(userID string) (*AutonomySettings, error) {
	var s AutonomySettings
	var overrides sql.NullString
	err := db.QueryRow(`
		SELECT user_id, preset, overrides, updated_at FROM autonomy_settings WHERE user_id = ?
	`, userID).Scan(&s.UserID, &s.Preset, &overrides, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return DefaultAutonomySettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get autonomy settings: %w", err)
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &s.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	return &s, nil
}

// UpsertAutonomySettings stores the user's preset and category overrides.
func (db *DB) UpsertAutonomySettings(s *AutonomySettings) error {
	if s.Preset != PresetCautious && s.Preset != PresetBalanced && s.Preset != PresetHandsOff {
		return fmt.Errorf("invalid preset %q", s.Preset)
	}
	s.UpdatedAt = time.Now().UnixMilli()

	overrides := ""
	if len(s.Overrides) > 0 {
		b, err := json.Marshal(s.Overrides)
		if err != nil {
			return fmt.Errorf("marshal overrides: %w", err)
		}
		overrides = string(b)
	}

	_, err := db.Exec(`
		INSERT INTO autonomy_settings (user_id, preset, overrides, updated_at)
		VALUES (?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(user_id) DO UPDATE SET
			preset = excluded.preset, overrides = excluded.overrides, updated_at = excluded.updated_at
	`, s.UserID, s.Preset, overrides, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert autonomy settings: %w", err)
	}
	return nil
}
