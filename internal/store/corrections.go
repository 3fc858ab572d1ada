package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Correction is raw material for rule generation: one human correction of an
// action the assistant took or proposed.
type Correction struct {
	ID             string
	UserID         string
	OriginalAction string
	Correction     string
	Category       string
	Embedding      []float64
	PatternMatched bool
	CreatedAt      int64
}

// AppendCorrection inserts a correction row.
func (db *DB) AppendCorrection(c *Correction) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}

	_, err := db.Exec(`
		INSERT INTO corrections (id, user_id, original_action, correction, category, embedding, pattern_matched, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, 0, ?)
	`, c.ID, c.UserID, c.OriginalAction, c.Correction, c.Category,
		encodeEmbedding(c.Embedding), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("append correction: %w", err)
	}
	return nil
}

// CorrectionsByCategory returns a user's corrections in one category,
// newest first. Includes pattern-matched rows (retained for audit).
func (db *DB) CorrectionsByCategory(userID, category string) ([]Correction, error) {
	return db.queryCorrections(`
		SELECT id, user_id, COALESCE(original_action, ''), correction, category, embedding, pattern_matched, created_at
		FROM corrections WHERE user_id = ? AND category = ?
		ORDER BY created_at DESC
	`, userID, category)
}

// Corrections returns all of a user's corrections, newest first.
func (db *DB) Corrections(userID string) ([]Correction, error) {
	return db.queryCorrections(`
		SELECT id, user_id, COALESCE(original_action, ''), correction, category, embedding, pattern_matched, created_at
		FROM corrections WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
}

func (db *DB) queryCorrections(query string, args ...any) ([]Correction, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		var embedding []byte
		var matched int
		if err := rows.Scan(&c.ID, &c.UserID, &c.OriginalAction, &c.Correction, &c.Category,
			&embedding, &matched, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.Embedding = decodeEmbedding(embedding)
		c.PatternMatched = matched != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkPatternMatched flags corrections that contributed to a promoted rule.
// Rows are kept for audit; cleanup removes them later.
func (db *DB) MarkPatternMatched(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := db.Exec(
		"UPDATE corrections SET pattern_matched = 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("mark pattern matched: %w", err)
	}
	return nil
}
