package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	TaskStatusOpen      = "open"
	TaskStatusCompleted = "completed"
	TaskStatusDismissed = "dismissed"
	TaskStatusCancelled = "cancelled"
)

// Task is an actionable condition surfaced by the heartbeat scanner.
type Task struct {
	ID          string
	UserID      string
	EntityType  string
	EntityID    string
	TriggerType string
	Title       string
	Detail      string
	Status      string
	CreatedAt   int64
	ResolvedAt  *int64
}

// CreateTask inserts a new open task.
func (db *DB) CreateTask(t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	t.Status = TaskStatusOpen

	_, err := db.Exec(`
		INSERT INTO tasks (id, user_id, entity_type, entity_id, trigger_type, title, detail, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), 'open', ?)
	`, t.ID, t.UserID, t.EntityType, t.EntityID, t.TriggerType, t.Title, t.Detail, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// HasOpenTask reports whether an open task already exists for an entity and
// trigger type. Different trigger types for the same entity are permitted.
func (db *DB) HasOpenTask(userID, entityType, entityID, triggerType string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND trigger_type = ? AND status = 'open'
	`, userID, entityType, entityID, triggerType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check open task: %w", err)
	}
	return count > 0, nil
}

// GetTask returns a task by ID, or nil if not found.
func (db *DB) GetTask(id string) (*Task, error) {
	var t Task
	var detail sql.NullString
	var resolvedAt sql.NullInt64
	err := db.QueryRow(`
		SELECT id, user_id, entity_type, entity_id, trigger_type, title, detail, status, created_at, resolved_at
		FROM tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.UserID, &t.EntityType, &t.EntityID, &t.TriggerType,
		&t.Title, &detail, &t.Status, &t.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Detail = detail.String
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Int64
	}
	return &t, nil
}

// ResolveTask moves an open task to a terminal status.
func (db *DB) ResolveTask(id, status string) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE tasks SET status = ?, resolved_at = ? WHERE id = ? AND status = 'open'
	`, status, now, id)
	if err != nil {
		return fmt.Errorf("resolve task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not open", id)
	}
	return nil
}

// OpenTasks returns a user's open tasks, oldest first.
func (db *DB) OpenTasks(userID string) ([]Task, error) {
	return db.queryTasks(
		"SELECT id, user_id, entity_type, entity_id, trigger_type, title, detail, status, created_at, resolved_at FROM tasks WHERE user_id = ? AND status = 'open' ORDER BY created_at",
		userID)
}

// TerminalTasksWithoutOutcome returns tasks that reached a terminal status but
// have not yet been scored with an outcome.
func (db *DB) TerminalTasksWithoutOutcome() ([]Task, error) {
	return db.queryTasks(`
		SELECT t.id, t.user_id, t.entity_type, t.entity_id, t.trigger_type, t.title, t.detail, t.status, t.created_at, t.resolved_at
		FROM tasks t
		WHERE t.status IN ('completed', 'dismissed', 'cancelled')
		AND NOT EXISTS (SELECT 1 FROM outcomes o WHERE o.task_id = t.id)
		ORDER BY t.resolved_at
	`)
}

func (db *DB) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var detail sql.NullString
		var resolvedAt sql.NullInt64
		if err := rows.Scan(&t.ID, &t.UserID, &t.EntityType, &t.EntityID, &t.TriggerType,
			&t.Title, &detail, &t.Status, &t.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Detail = detail.String
		if resolvedAt.Valid {
			t.ResolvedAt = &resolvedAt.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
