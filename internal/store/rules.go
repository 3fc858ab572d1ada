package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Rule is a learned condition→guidance pairing derived from corrections.
type Rule struct {
	ID               string
	UserID           string
	Category         string
	TriggerText      string
	Embedding        []float64
	Confidence       float64
	Active           bool
	DerivedFrom      string // JSON array of correction IDs
	CreatedAt        int64
	LastReinforcedAt *int64
}

// CreateRule inserts a new rule.
func (db *DB) CreateRule(r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}

	active := 0
	if r.Active {
		active = 1
	}
	_, err := db.Exec(`
		INSERT INTO rules (id, user_id, category, trigger_text, embedding, confidence, active, derived_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, r.ID, r.UserID, r.Category, r.TriggerText, encodeEmbedding(r.Embedding),
		r.Confidence, active, r.DerivedFrom, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

const ruleColumns = "id, user_id, category, trigger_text, embedding, confidence, active, COALESCE(derived_from, ''), created_at, last_reinforced_at"

func scanRule(row interface{ Scan(...any) error }) (*Rule, error) {
	var r Rule
	var embedding []byte
	var active int
	var reinforced sql.NullInt64

	err := row.Scan(&r.ID, &r.UserID, &r.Category, &r.TriggerText, &embedding,
		&r.Confidence, &active, &r.DerivedFrom, &r.CreatedAt, &reinforced)
	if err != nil {
		return nil, err
	}
	r.Embedding = decodeEmbedding(embedding)
	r.Active = active != 0
	if reinforced.Valid {
		r.LastReinforcedAt = &reinforced.Int64
	}
	return &r, nil
}

// GetRule returns a rule by ID, or nil if not found.
func (db *DB) GetRule(id string) (*Rule, error) {
	r, err := scanRule(db.QueryRow("SELECT "+ruleColumns+" FROM rules WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// ActiveRules returns all active rules for a user.
func (db *DB) ActiveRules(userID string) ([]Rule, error) {
	rows, err := db.Query(
		"SELECT "+ruleColumns+" FROM rules WHERE user_id = ? AND active = 1 ORDER BY created_at",
		userID)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRuleConfidence sets a rule's confidence and active flag, refreshing
// last_reinforced_at.
func (db *DB) UpdateRuleConfidence(id string, confidence float64, active bool) error {
	now := time.Now().UnixMilli()
	activeInt := 0
	if active {
		activeInt = 1
	}
	result, err := db.Exec(`
		UPDATE rules SET confidence = ?, active = ?, last_reinforced_at = ? WHERE id = ?
	`, confidence, activeInt, now, id)
	if err != nil {
		return fmt.Errorf("update rule confidence: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

// DeactivateDecayedRules disables every active rule whose confidence has
// fallen below the threshold. Returns the number deactivated.
func (db *DB) DeactivateDecayedRules(threshold float64) (int, error) {
	result, err := db.Exec(
		"UPDATE rules SET active = 0 WHERE active = 1 AND confidence < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("deactivate decayed rules: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
