package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pending action statuses.
const (
	PendingStatusPending  = "pending"
	PendingStatusApproved = "approved"
	PendingStatusRejected = "rejected"
)

// ErrNotPending is returned when a resolution targets an action that has
// already been resolved (or does not exist).
var ErrNotPending = errors.New("pending action already resolved or missing")

// PendingAction is a gated action awaiting human approval.
type PendingAction struct {
	ID         string
	DecisionID string
	UserID     string
	ActionName string
	Params     map[string]any
	Status     string
	CreatedAt  int64
	ResolvedAt *int64
	ResolvedBy string
}

func (db *DB) createPendingAction(ex execer, p *PendingAction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().UnixMilli()
	}
	p.Status = PendingStatusPending

	params, err := marshalJSON(p.Params)
	if err != nil {
		return fmt.Errorf("marshal pending params: %w", err)
	}

	_, err = ex.Exec(`
		INSERT INTO pending_actions (id, decision_id, user_id, action_name, params, status, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), 'pending', ?)
	`, p.ID, p.DecisionID, p.UserID, p.ActionName, params, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create pending action: %w", err)
	}
	return nil
}

func scanPendingAction(row interface{ Scan(...any) error }) (*PendingAction, error) {
	var p PendingAction
	var params, resolvedBy sql.NullString
	var resolvedAt sql.NullInt64

	err := row.Scan(&p.ID, &p.DecisionID, &p.UserID, &p.ActionName, &params,
		&p.Status, &p.CreatedAt, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	p.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.Int64
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &p.Params); err != nil {
			return nil, fmt.Errorf("unmarshal pending params: %w", err)
		}
	}
	return &p, nil
}

const pendingColumns = "id, decision_id, user_id, action_name, params, status, created_at, resolved_at, resolved_by"

// GetPendingAction returns a pending action by ID, or nil if not found.
func (db *DB) GetPendingAction(id string) (*PendingAction, error) {
	p, err := scanPendingAction(db.QueryRow(
		"SELECT "+pendingColumns+" FROM pending_actions WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending action: %w", err)
	}
	return p, nil
}

// ListPendingActions returns all unresolved pending actions for a user.
func (db *DB) ListPendingActions(userID string) ([]PendingAction, error) {
	rows, err := db.Query(
		"SELECT "+pendingColumns+" FROM pending_actions WHERE user_id = ? AND status = 'pending' ORDER BY created_at",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	var out []PendingAction
	for rows.Next() {
		p, err := scanPendingAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending action: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ResolvePendingAction transitions a pending action to approved or rejected.
// The update is conditional on status still being 'pending', so duplicate
// resolution attempts (client retries, double taps) land exactly once;
// losers get ErrNotPending.
func (db *DB) ResolvePendingAction(id, status, resolvedBy string) error {
	if status != PendingStatusApproved && status != PendingStatusRejected {
		return fmt.Errorf("invalid resolution status %q", status)
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE pending_actions SET status = ?, resolved_at = ?, resolved_by = NULLIF(?, '')
		WHERE id = ? AND status = 'pending'
	`, status, now, resolvedBy, id)
	if err != nil {
		return fmt.Errorf("resolve pending action: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotPending
	}
	return nil
}
