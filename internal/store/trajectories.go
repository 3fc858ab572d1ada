package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trajectory is a reference sequence of action names for a task type.
// Golden trajectories are known-good paths used by the confidence estimator.
type Trajectory struct {
	ID         string
	TaskType   string
	Actions    []string
	Golden     bool
	CreatedAt  int64
	LastUsedAt *int64
}

// SaveTrajectory inserts a trajectory.
func (db *DB) SaveTrajectory(t *Trajectory) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}

	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return fmt.Errorf("marshal trajectory actions: %w", err)
	}
	golden := 0
	if t.Golden {
		golden = 1
	}

	_, err = db.Exec(`
		INSERT INTO trajectories (id, task_type, actions, golden, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.TaskType, string(actions), golden, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save trajectory: %w", err)
	}
	return nil
}

// GoldenTrajectory returns the golden trajectory for a task type, or nil when
// none exists. Marks it used.
func (db *DB) GoldenTrajectory(taskType string) (*Trajectory, error) {
	var t Trajectory
	var actions string
	var golden int
	var lastUsed sql.NullInt64
	err := db.QueryRow(`
		SELECT id, task_type, actions, golden, created_at, last_used_at
		FROM trajectories WHERE task_type = ? AND golden = 1
		ORDER BY created_at DESC LIMIT 1
	`, taskType).Scan(&t.ID, &t.TaskType, &actions, &golden, &t.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("golden trajectory: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &t.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal trajectory actions: %w", err)
	}
	t.Golden = true
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.Int64
	}

	now := time.Now().UnixMilli()
	db.Exec("UPDATE trajectories SET last_used_at = ? WHERE id = ?", now, t.ID)
	return &t, nil
}

// DeleteStaleTrajectories removes non-golden trajectories not used since the
// cutoff. Returns the number deleted.
func (db *DB) DeleteStaleTrajectories(before int64) (int, error) {
	result, err := db.Exec(`
		DELETE FROM trajectories
		WHERE golden = 0 AND COALESCE(last_used_at, created_at) < ?
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale trajectories: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
