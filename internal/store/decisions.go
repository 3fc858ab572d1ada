package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decision verdicts.
const (
	VerdictAutoExecuted = "auto_executed"
	VerdictGated        = "gated"
	VerdictRefused      = "refused"
	VerdictApprovedExec = "tool_execution_approved"
)

// Feedback types.
const (
	FeedbackApproved  = "approved"
	FeedbackRejected  = "rejected"
	FeedbackCorrected = "corrected"
)

// Decision is one row in the append-only decision ledger.
type Decision struct {
	ID         string
	UserID     string
	SessionID  string
	ActionName string
	Category   string
	Params     map[string]any
	Reasoning  string
	Factors    map[string]float64
	Confidence float64
	Verdict    string
	Reason     string
	Embedding  []float64
	Feedback   string
	Correction string
	FeedbackAt *int64
	CreatedAt  int64
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendDecision inserts a decision row. Generates an ID when unset.
func (db *DB) AppendDecision(d *Decision) error {
	return db.appendDecision(db.DB, d)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *DB) appendDecision(ex execer, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().UnixMilli()
	}

	params, err := marshalJSON(d.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	factors, err := marshalJSON(d.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}

	_, err = ex.Exec(`
		INSERT INTO decisions (id, user_id, session_id, action_name, category, params, reasoning,
			factors, confidence, verdict, reason, embedding, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, ?)
	`, d.ID, d.UserID, d.SessionID, d.ActionName, d.Category, params, d.Reasoning,
		factors, d.Confidence, d.Verdict, d.Reason, encodeEmbedding(d.Embedding), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// AppendGatedDecision writes the decision row and its pending action in one
// transaction, so a gated verdict is never visible without its PendingAction.
func (db *DB) AppendGatedDecision(d *Decision, p *PendingAction) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin gated decision: %w", err)
	}
	defer tx.Rollback()

	if err := db.appendDecision(tx, d); err != nil {
		return err
	}

	p.DecisionID = d.ID
	p.UserID = d.UserID
	p.ActionName = d.ActionName
	if err := db.createPendingAction(tx, p); err != nil {
		return err
	}

	return tx.Commit()
}

const decisionColumns = `id, user_id, session_id, action_name, category, params, reasoning,
	factors, confidence, verdict, reason, embedding, feedback, correction, feedback_at, created_at`

func scanDecision(row interface{ Scan(...any) error }) (*Decision, error) {
	var d Decision
	var sessionID, params, reasoning, factors, reason, feedback, correction sql.NullString
	var embedding []byte
	var feedbackAt sql.NullInt64

	err := row.Scan(&d.ID, &d.UserID, &sessionID, &d.ActionName, &d.Category, &params, &reasoning,
		&factors, &d.Confidence, &d.Verdict, &reason, &embedding, &feedback, &correction, &feedbackAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.SessionID = sessionID.String
	d.Reasoning = reasoning.String
	d.Reason = reason.String
	d.Feedback = feedback.String
	d.Correction = correction.String
	d.Embedding = decodeEmbedding(embedding)
	if feedbackAt.Valid {
		d.FeedbackAt = &feedbackAt.Int64
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &d.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if factors.Valid && factors.String != "" {
		if err := json.Unmarshal([]byte(factors.String), &d.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors: %w", err)
		}
	}
	return &d, nil
}

// GetDecision returns a decision by ID, or nil if not found.
func (db *DB) GetDecision(id string) (*Decision, error) {
	d, err := scanDecision(db.QueryRow(
		"SELECT "+decisionColumns+" FROM decisions WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (db *DB) queryDecisions(query string, args ...any) ([]Decision, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// RecentDecisions returns the most recent decisions for a user.
func (db *DB) RecentDecisions(userID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := db.queryDecisions(
		"SELECT "+decisionColumns+" FROM decisions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	return out, nil
}

// RecentFeedbackForAction returns the most recent decisions for an action that
// carry human feedback, newest first.
func (db *DB) RecentFeedbackForAction(userID, actionName string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := db.queryDecisions(
		"SELECT "+decisionColumns+` FROM decisions
		 WHERE user_id = ? AND action_name = ? AND feedback IS NOT NULL
		 ORDER BY feedback_at DESC LIMIT ?`,
		userID, actionName, limit)
	if err != nil {
		return nil, fmt.Errorf("recent feedback: %w", err)
	}
	return out, nil
}

// DecisionsWithEmbeddings returns all decisions for a user that carry an
// embedding vector, newest first.
func (db *DB) DecisionsWithEmbeddings(userID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 200
	}
	out, err := db.queryDecisions(
		"SELECT "+decisionColumns+` FROM decisions
		 WHERE user_id = ? AND embedding IS NOT NULL
		 ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("decisions with embeddings: %w", err)
	}
	return out, nil
}

// SetDecisionFeedback records human feedback on a decision.
func (db *DB) SetDecisionFeedback(id, feedback, correction string) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE decisions SET feedback = ?, correction = NULLIF(?, ''), feedback_at = ?
		WHERE id = ?
	`, feedback, correction, now, id)
	if err != nil {
		return fmt.Errorf("set decision feedback: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("decision %s not found", id)
	}
	return nil
}

// SaveDecisionEmbedding stores the embedding for a decision's summary text.
func (db *DB) SaveDecisionEmbedding(id string, embedding []float64) error {
	_, err := db.Exec("UPDATE decisions SET embedding = ? WHERE id = ?", encodeEmbedding(embedding), id)
	if err != nil {
		return fmt.Errorf("save decision embedding: %w", err)
	}
	return nil
}

// DeleteStaleDecisions removes decisions older than the cutoff that carry
// neither feedback nor an embedding. Returns the number deleted.
func (db *DB) DeleteStaleDecisions(before int64) (int, error) {
	result, err := db.Exec(`
		DELETE FROM decisions
		WHERE created_at < ? AND feedback IS NULL AND embedding IS NULL
		AND id NOT IN (SELECT decision_id FROM pending_actions WHERE status = 'pending')
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale decisions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
