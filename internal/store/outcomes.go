package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome types.
const (
	OutcomeSuccess      = "success"
	OutcomePartial      = "partial"
	OutcomeFailure      = "failure"
	OutcomeTimeout      = "timeout"
	OutcomeUserOverride = "user_override"
)

// Outcome is a measured result for an executed decision or an observable task.
type Outcome struct {
	ID         string
	DecisionID string
	TaskID     string
	UserID     string
	ActionName string
	Outcome    string
	MeasuredAt int64
}

// RecordOutcome inserts an outcome. Measurement is idempotent: an entity that
// already has an outcome row is skipped (returns false, nil).
func (db *DB) RecordOutcome(o *Outcome) (bool, error) {
	if o.TaskID != "" {
		scored, err := db.HasOutcomeForTask(o.TaskID)
		if err != nil {
			return false, err
		}
		if scored {
			return false, nil
		}
	} else if o.DecisionID != "" {
		scored, err := db.HasOutcomeForDecision(o.DecisionID)
		if err != nil {
			return false, err
		}
		if scored {
			return false, nil
		}
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.MeasuredAt == 0 {
		o.MeasuredAt = time.Now().UnixMilli()
	}

	_, err := db.Exec(`
		INSERT INTO outcomes (id, decision_id, task_id, user_id, action_name, outcome, measured_at)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)
	`, o.ID, o.DecisionID, o.TaskID, o.UserID, o.ActionName, o.Outcome, o.MeasuredAt)
	if err != nil {
		return false, fmt.Errorf("record outcome: %w", err)
	}
	return true, nil
}

// HasOutcomeForTask reports whether a task has already been scored.
func (db *DB) HasOutcomeForTask(taskID string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM outcomes WHERE task_id = ?", taskID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check task outcome: %w", err)
	}
	return count > 0, nil
}

// HasOutcomeForDecision reports whether a decision has already been scored.
func (db *DB) HasOutcomeForDecision(decisionID string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM outcomes WHERE decision_id = ?", decisionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check decision outcome: %w", err)
	}
	return count > 0, nil
}

// RecentOutcomesForAction returns the most recent measured outcomes for an
// action, newest first.
func (db *DB) RecentOutcomesForAction(userID, actionName string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, COALESCE(decision_id, ''), COALESCE(task_id, ''), user_id, action_name, outcome, measured_at
		FROM outcomes WHERE user_id = ? AND action_name = ?
		ORDER BY measured_at DESC LIMIT ?
	`, userID, actionName, limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ID, &o.DecisionID, &o.TaskID, &o.UserID, &o.ActionName, &o.Outcome, &o.MeasuredAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
