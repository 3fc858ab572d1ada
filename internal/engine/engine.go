// Package engine orchestrates the decision path: score a proposed action,
// gate it, record the verdict in the ledger, and execute when allowed.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/catalog"
	"github.com/stewardhq/steward/internal/confidence"
	"github.com/stewardhq/steward/internal/gate"
	"github.com/stewardhq/steward/internal/learning"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/store"
)

// Engine wires the catalog, estimator, gate, ledger, and learning pipeline.
type Engine struct {
	DB        *store.DB
	Registry  *catalog.Registry
	Estimator *confidence.Estimator
	Embedder  memory.Embedder
	Learning  *learning.Pipeline
	Log       *zap.SugaredLogger
}

// New builds an Engine. Embedder may be nil; embeddings are then skipped.
func New(db *store.DB, registry *catalog.Registry, embedder memory.Embedder, searcher *memory.Searcher, log *zap.SugaredLogger) *Engine {
	return &Engine{
		DB:       db,
		Registry: registry,
		Estimator: &confidence.Estimator{
			Outcomes:     db,
			Feedback:     db,
			Rules:        searcher,
			Trajectories: db,
		},
		Embedder: embedder,
		Learning: learning.NewPipeline(db, searcher, embedder, log),
		Log:      log,
	}
}

// Proposal is one candidate action surfaced by the assistant.
type Proposal struct {
	UserID    string
	SessionID string
	Action    string
	Params    map[string]any
	Reasoning string
	TaskType  string
}

// Verdict is the engine's answer to a proposal. Executed and Summary are set
// only on the auto-execute path; PendingID only on the gated path.
type Verdict struct {
	DecisionID string             `json:"decision_id"`
	Status     string             `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Confidence float64            `json:"confidence"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Executed   bool               `json:"executed"`
	Summary    string             `json:"summary,omitempty"`
	PendingID  string             `json:"pending_id,omitempty"`
}

// Propose scores and gates one proposal, records the decision, and executes
// it when the gate allows. Every proposal leaves a ledger row, including
// refusals for uncataloged actions.
func (e *Engine) Propose(ctx context.Context, p Proposal) (Verdict, error) {
	def, ok := e.Registry.Definition(p.Action)
	if !ok {
		return e.refuseUnknown(p)
	}

	factors, err := e.Estimator.Estimate(ctx, confidence.Input{
		UserID:    p.UserID,
		Action:    p.Action,
		Category:  def.Category,
		Reasoning: p.Reasoning,
		TaskType:  p.TaskType,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("estimate confidence: %w", err)
	}

	settings, err := e.DB.GetAutonomySettings(p.UserID)
	if err != nil {
		return Verdict{}, err
	}

	gv := gate.Decide(def, settings, factors.Composite)

	d := &store.Decision{
		UserID:     p.UserID,
		SessionID:  p.SessionID,
		ActionName: p.Action,
		Category:   string(def.Category),
		Params:     p.Params,
		Reasoning:  p.Reasoning,
		Factors:    factors.Map(),
		Confidence: factors.Composite,
		Reason:     gv.Reason,
	}

	switch gv.Status {
	case gate.StatusAutoExecute:
		d.Verdict = store.VerdictAutoExecuted
		if err := e.DB.AppendDecision(d); err != nil {
			return Verdict{}, err
		}
		e.embedDecision(ctx, d)

		result, execErr := e.execute(ctx, def, catalog.Invocation{
			UserID:     p.UserID,
			ActionName: p.Action,
			DecisionID: d.ID,
			Params:     p.Params,
		})
		v := Verdict{
			DecisionID: d.ID,
			Status:     string(gv.Status),
			Confidence: factors.Composite,
			Factors:    factors.Map(),
			Executed:   execErr == nil,
			Summary:    result.Summary,
		}
		if execErr != nil {
			v.Reason = execErr.Error()
			return v, execErr
		}
		return v, nil

	case gate.StatusGate:
		d.Verdict = store.VerdictGated
		pending := &store.PendingAction{Params: p.Params}
		if err := e.DB.AppendGatedDecision(d, pending); err != nil {
			return Verdict{}, err
		}
		e.embedDecision(ctx, d)
		return Verdict{
			DecisionID: d.ID,
			Status:     string(gv.Status),
			Reason:     gv.Reason,
			Confidence: factors.Composite,
			Factors:    factors.Map(),
			PendingID:  pending.ID,
		}, nil

	default:
		d.Verdict = store.VerdictRefused
		if err := e.DB.AppendDecision(d); err != nil {
			return Verdict{}, err
		}
		return Verdict{
			DecisionID: d.ID,
			Status:     string(gv.Status),
			Reason:     gv.Reason,
			Confidence: factors.Composite,
			Factors:    factors.Map(),
		}, nil
	}
}

// refuseUnknown records a refused decision for an action with no catalog
// entry. The refusal is ledgered like any other verdict.
func (e *Engine) refuseUnknown(p Proposal) (Verdict, error) {
	reason := fmt.Sprintf("%s is not in the action catalog", p.Action)
	d := &store.Decision{
		UserID:     p.UserID,
		SessionID:  p.SessionID,
		ActionName: p.Action,
		Category:   "unknown",
		Params:     p.Params,
		Reasoning:  p.Reasoning,
		Verdict:    store.VerdictRefused,
		Reason:     reason,
	}
	if err := e.DB.AppendDecision(d); err != nil {
		return Verdict{}, err
	}
	return Verdict{
		DecisionID: d.ID,
		Status:     string(gate.StatusRefuse),
		Reason:     reason,
	}, nil
}

// execute runs an action under its resilience policy: each attempt gets the
// policy timeout, and attempts repeat up to MaxAttempts. An exhausted policy
// records a failure outcome before surfacing the error.
func (e *Engine) execute(ctx context.Context, def catalog.Definition, inv catalog.Invocation) (catalog.Result, error) {
	handler, ok := e.Registry.Handler(def.Name)
	if !ok {
		return catalog.Result{}, fmt.Errorf("execute %s: %w", def.Name, catalog.ErrUnknownAction)
	}

	attempts := def.Resilience.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var result catalog.Result
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = e.attempt(ctx, def.Resilience.Timeout, handler, inv)
		if err == nil {
			break
		}
		e.Log.Warnw("action attempt failed",
			"action", def.Name, "attempt", attempt, "of", attempts, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	outcome := &store.Outcome{
		DecisionID: inv.DecisionID,
		TaskID:     result.TaskID,
		UserID:     inv.UserID,
		ActionName: def.Name,
	}
	if err != nil {
		outcome.Outcome = store.OutcomeFailure
		if _, rerr := e.DB.RecordOutcome(outcome); rerr != nil {
			e.Log.Errorw("record failure outcome", "action", def.Name, "error", rerr)
		}
		return catalog.Result{}, fmt.Errorf("execute %s: %w", def.Name, err)
	}

	// Actions that opened an observable task are scored when the task
	// resolves; everything else is scored on completion.
	if result.TaskID == "" {
		outcome.Outcome = store.OutcomeSuccess
		if _, rerr := e.DB.RecordOutcome(outcome); rerr != nil {
			e.Log.Errorw("record success outcome", "action", def.Name, "error", rerr)
		}
	}
	return result, nil
}

func (e *Engine) attempt(ctx context.Context, timeout time.Duration, handler catalog.Handler, inv catalog.Invocation) (catalog.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return handler.Execute(ctx, inv)
}

// embedDecision stores an embedding of the decision's reasoning, best effort.
func (e *Engine) embedDecision(ctx context.Context, d *store.Decision) {
	if e.Embedder == nil || d.Reasoning == "" {
		return
	}
	vec, err := e.Embedder.Embed(ctx, d.Reasoning)
	if err != nil {
		e.Log.Debugw("embed decision failed", "decision", d.ID, "error", err)
		return
	}
	if err := e.DB.SaveDecisionEmbedding(d.ID, vec); err != nil {
		e.Log.Warnw("save decision embedding", "decision", d.ID, "error", err)
	}
}

// Resolve applies a human approval or rejection to a pending action. The
// store's conditional update guarantees a pending action resolves exactly
// once; concurrent duplicates get store.ErrNotPending.
func (e *Engine) Resolve(ctx context.Context, pendingID string, approve bool, resolvedBy string) (Verdict, error) {
	pending, err := e.DB.GetPendingAction(pendingID)
	if err != nil {
		return Verdict{}, err
	}
	if pending == nil {
		return Verdict{}, store.ErrNotPending
	}

	status := store.PendingStatusRejected
	if approve {
		status = store.PendingStatusApproved
	}
	if err := e.DB.ResolvePendingAction(pendingID, status, resolvedBy); err != nil {
		return Verdict{}, err
	}

	if err := e.DB.SetDecisionFeedback(pending.DecisionID, feedbackForResolution(approve), ""); err != nil {
		e.Log.Warnw("record resolution feedback", "decision", pending.DecisionID, "error", err)
	}

	if !approve {
		return Verdict{DecisionID: pending.DecisionID, Status: "rejected"}, nil
	}

	def, ok := e.Registry.Definition(pending.ActionName)
	if !ok {
		return Verdict{}, fmt.Errorf("resolve %s: %w", pending.ActionName, catalog.ErrUnknownAction)
	}

	// The approved execution is itself ledgered, tied to the approver.
	d := &store.Decision{
		UserID:     pending.UserID,
		ActionName: pending.ActionName,
		Category:   string(def.Category),
		Params:     pending.Params,
		Verdict:    store.VerdictApprovedExec,
		Reason:     "approved by " + displayName(resolvedBy),
	}
	if err := e.DB.AppendDecision(d); err != nil {
		return Verdict{}, err
	}

	result, execErr := e.execute(ctx, def, catalog.Invocation{
		UserID:     pending.UserID,
		ActionName: pending.ActionName,
		DecisionID: d.ID,
		Params:     pending.Params,
	})
	v := Verdict{
		DecisionID: d.ID,
		Status:     "approved",
		Executed:   execErr == nil,
		Summary:    result.Summary,
	}
	if execErr != nil {
		v.Reason = execErr.Error()
		return v, execErr
	}
	return v, nil
}

func feedbackForResolution(approve bool) string {
	if approve {
		return store.FeedbackApproved
	}
	return store.FeedbackRejected
}

func displayName(resolvedBy string) string {
	if resolvedBy == "" {
		return "user"
	}
	return resolvedBy
}

// Feedback records human feedback on a decision and runs the learning
// pipeline over it.
func (e *Engine) Feedback(ctx context.Context, decisionID, feedback, correction string) error {
	d, err := e.DB.GetDecision(decisionID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("decision %s not found", decisionID)
	}

	if err := e.DB.SetDecisionFeedback(decisionID, feedback, correction); err != nil {
		return err
	}
	return e.Learning.Process(ctx, d, feedback, correction)
}
