// Package heartbeat is the periodic scanner: it measures outcomes for
// resolved tasks, runs retention cleanup, and sweeps each user's portfolio
// for conditions worth acting on.
package heartbeat

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/store"
)

// Proposer is the slice of the engine the scanners need.
type Proposer interface {
	Propose(ctx context.Context, p engine.Proposal) (engine.Verdict, error)
}

// Retention windows and the cleanup cadence.
const (
	cleanupMetaKey      = "last_cleanup_at"
	cleanupInterval     = 24 * time.Hour
	decisionRetention   = 90 * 24 * time.Hour
	trajectoryRetention = 30 * 24 * time.Hour
	ruleDecayThreshold  = 0.3
)

// Runner executes heartbeat cycles.
type Runner struct {
	DB         *store.DB
	Proposer   Proposer
	Log        *zap.SugaredLogger
	TaskBudget int // max tasks created per user per cycle
	BatchSize  int // users scanned concurrently
	now        func() time.Time
}

// NewRunner creates a Runner with the given per-user task budget and user
// concurrency.
func NewRunner(db *store.DB, proposer Proposer, log *zap.SugaredLogger, taskBudget, batchSize int) *Runner {
	if taskBudget <= 0 {
		taskBudget = 15
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Runner{
		DB:         db,
		Proposer:   proposer,
		Log:        log,
		TaskBudget: taskBudget,
		BatchSize:  batchSize,
		now:        time.Now,
	}
}

// Report summarizes one heartbeat run. UsersScanned serializes as
// "processed", the name API consumers know the user count by.
type Report struct {
	UsersScanned        int      `json:"processed"`
	OutcomesMeasured    int      `json:"outcomes_measured"`
	TasksCreated        int      `json:"tasks_created"`
	ActionsProposed     int      `json:"actions_proposed"`
	ActionsAutoExecuted int      `json:"actions_auto_executed"`
	Errors              []string `json:"errors,omitempty"`
}

// Run executes one full heartbeat cycle. Outcome measurement happens before
// scanning so this cycle's confidence estimates see last cycle's results.
// When scopeUserID is set, only that user is scanned. Per-user scan failures
// are isolated: they land in Report.Errors without stopping other users.
func (r *Runner) Run(ctx context.Context, scopeUserID string) (Report, error) {
	var report Report

	measured, err := r.measureOutcomes()
	if err != nil {
		return report, fmt.Errorf("measure outcomes: %w", err)
	}
	report.OutcomesMeasured = measured

	if err := r.maybeCleanup(); err != nil {
		return report, fmt.Errorf("cleanup: %w", err)
	}

	users, err := r.scanTargets(scopeUserID)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.BatchSize)

	for _, u := range users {
		user := u
		g.Go(func() error {
			cycle := r.newCycle(user.ID)
			err := cycle.scan(gctx)

			mu.Lock()
			defer mu.Unlock()
			report.UsersScanned++
			report.TasksCreated += cycle.tasksCreated
			report.ActionsProposed += cycle.actionsProposed
			report.ActionsAutoExecuted += cycle.actionsExecuted
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("[user:%s] %v", user.ID, err))
			}
			// Scan failures settle into the report instead of cancelling the
			// group, so one user's bad data never starves the rest.
			return nil
		})
	}
	g.Wait()

	r.Log.Infow("heartbeat complete",
		"users", report.UsersScanned,
		"outcomes", report.OutcomesMeasured,
		"tasks", report.TasksCreated,
		"proposed", report.ActionsProposed,
		"executed", report.ActionsAutoExecuted,
		"errors", len(report.Errors))
	return report, nil
}

func (r *Runner) scanTargets(scopeUserID string) ([]store.User, error) {
	if scopeUserID != "" {
		u, err := r.DB.GetUser(scopeUserID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("user %s not found", scopeUserID)
		}
		return []store.User{*u}, nil
	}
	return r.DB.ActiveUsers()
}

// measureOutcomes scores every resolved task that has no outcome yet.
// RecordOutcome skips already-scored entities, so reruns are harmless.
func (r *Runner) measureOutcomes() (int, error) {
	tasks, err := r.DB.TerminalTasksWithoutOutcome()
	if err != nil {
		return 0, err
	}

	measured := 0
	for _, t := range tasks {
		recorded, err := r.DB.RecordOutcome(&store.Outcome{
			TaskID:     t.ID,
			UserID:     t.UserID,
			ActionName: t.TriggerType,
			Outcome:    outcomeForStatus(t.Status),
		})
		if err != nil {
			return measured, err
		}
		if recorded {
			measured++
		}
	}
	return measured, nil
}

// outcomeForStatus maps a task's terminal status to a measured outcome.
// A dismissal means the user overrode the assistant's judgment.
func outcomeForStatus(status string) string {
	switch status {
	case store.TaskStatusCompleted:
		return store.OutcomeSuccess
	case store.TaskStatusDismissed:
		return store.OutcomeUserOverride
	default:
		return store.OutcomeFailure
	}
}

// maybeCleanup runs retention cleanup at most once per cleanupInterval,
// tracked in the meta table so restarts don't reset the clock.
func (r *Runner) maybeCleanup() error {
	raw, err := r.DB.GetMeta(cleanupMetaKey)
	if err != nil {
		return err
	}
	now := r.now()
	if raw != "" {
		last, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && now.Sub(time.UnixMilli(last)) < cleanupInterval {
			return nil
		}
	}

	decisions, err := r.DB.DeleteStaleDecisions(now.Add(-decisionRetention).UnixMilli())
	if err != nil {
		return err
	}
	trajectories, err := r.DB.DeleteStaleTrajectories(now.Add(-trajectoryRetention).UnixMilli())
	if err != nil {
		return err
	}
	rules, err := r.DB.DeactivateDecayedRules(ruleDecayThreshold)
	if err != nil {
		return err
	}

	if decisions > 0 || trajectories > 0 || rules > 0 {
		r.Log.Infow("retention cleanup",
			"decisions", decisions, "trajectories", trajectories, "rules_deactivated", rules)
	}
	return r.DB.SetMeta(cleanupMetaKey, strconv.FormatInt(now.UnixMilli(), 10))
}
