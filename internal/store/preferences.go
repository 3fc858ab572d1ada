package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Preference sources.
const (
	PrefSourceExplicit   = "explicit"
	PrefSourceInferred   = "inferred"
	PrefSourceErrorClass = "error_classification"
)

// Preference is an upserted user preference keyed by (user, category, key).
type Preference struct {
	UserID     string
	Category   string
	Key        string
	Value      string
	Source     string
	Confidence float64
	Embedding  []float64
	UpdatedAt  int64
}

// UpsertPreference writes a preference and appends a changelog row to the
// decision ledger in the same transaction, so preference history is auditable
// even though the preferences table keeps only the latest value.
func (db *DB) UpsertPreference(p *Preference) error {
	p.UpdatedAt = time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin preference upsert: %w", err)
	}
	defer tx.Rollback()

	blob := encodeEmbedding(p.Embedding)
	_, err = tx.Exec(`
		INSERT INTO preferences (user_id, category, key, value, source, confidence, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, key) DO UPDATE SET
			value = excluded.value, source = excluded.source,
			confidence = excluded.confidence, embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, p.UserID, p.Category, p.Key, p.Value, p.Source, p.Confidence, blob, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}

	changelog := &Decision{
		UserID:     p.UserID,
		ActionName: "preference_updated",
		Category:   "memory",
		Params:     map[string]any{"category": p.Category, "key": p.Key, "value": p.Value, "source": p.Source},
		Verdict:    VerdictAutoExecuted,
		Confidence: p.Confidence,
	}
	if err := db.appendDecision(tx, changelog); err != nil {
		return fmt.Errorf("preference changelog: %w", err)
	}

	return tx.Commit()
}

// GetPreference returns one preference, or nil if unset.
func (db *DB) GetPreference(userID, category, key string) (*Preference, error) {
	var p Preference
	var value sql.NullString
	var embedding []byte
	err := db.QueryRow(`
		SELECT user_id, category, key, COALESCE(value, ''), source, confidence, embedding, updated_at
		FROM preferences WHERE user_id = ? AND category = ? AND key = ?
	`, userID, category, key).Scan(&p.UserID, &p.Category, &p.Key, &value, &p.Source,
		&p.Confidence, &embedding, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	p.Value = value.String
	p.Embedding = decodeEmbedding(embedding)
	return &p, nil
}

// ListPreferences returns all preferences for a user, most recently updated
// first.
func (db *DB) ListPreferences(userID string) ([]Preference, error) {
	rows, err := db.Query(`
		SELECT user_id, category, key, COALESCE(value, ''), source, confidence, embedding, updated_at
		FROM preferences WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var out []Preference
	for rows.Next() {
		var p Preference
		var embedding []byte
		if err := rows.Scan(&p.UserID, &p.Category, &p.Key, &p.Value, &p.Source,
			&p.Confidence, &embedding, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.Embedding = decodeEmbedding(embedding)
		out = append(out, p)
	}
	return out, rows.Err()
}
