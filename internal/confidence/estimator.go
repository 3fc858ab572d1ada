// Package confidence computes the 0-1 trust score for a proposed action from
// six independent evidence factors combined by fixed weights.
package confidence

import (
	"context"
	"math"

	"github.com/stewardhq/steward/internal/catalog"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/store"
)

// Fixed factor weights. They sum to 1.0 by construction.
const (
	WeightHistorical = 0.30
	WeightSource     = 0.10
	WeightPrecedent  = 0.20
	WeightRules      = 0.15
	WeightGoldenPath = 0.10
	WeightOutcomes   = 0.15
)

// Neutral defaults used when the evidence floor is not met.
const (
	DefaultHistorical = 0.8
	DefaultPrecedent  = 0.7
	DefaultRules      = 0.8
	DefaultGoldenPath = 0.5
	DefaultOutcomes   = 0.7
)

// Evidence floors: below these sample counts a factor stays at its default.
const (
	OutcomeEvidenceFloor  = 3
	FeedbackEvidenceFloor = 2
)

// emaAlpha is the smoothing constant for the historical-accuracy EMA.
const emaAlpha = 0.3

// sourceQuality is the fixed per-category prior reflecting how verifiable
// that category of action is.
var sourceQuality = map[catalog.Category]float64{
	catalog.CategoryQuery:       0.95,
	catalog.CategoryMemory:      0.90,
	catalog.CategoryAction:      0.85,
	catalog.CategoryWorkflow:    0.80,
	catalog.CategoryPlanning:    0.80,
	catalog.CategoryGenerate:    0.75,
	catalog.CategoryIntegration: 0.60,
}

// Factors holds the six evidence factors and their weighted composite,
// each rounded to 3 decimals.
type Factors struct {
	HistoricalAccuracy float64
	SourceQuality      float64
	PrecedentAlignment float64
	RuleAlignment      float64
	GoldenPath         float64
	OutcomeTracking    float64
	Composite          float64
}

// Map flattens the factors for persistence alongside the decision.
func (f Factors) Map() map[string]float64 {
	return map[string]float64{
		"historical_accuracy": f.HistoricalAccuracy,
		"source_quality":      f.SourceQuality,
		"precedent_alignment": f.PrecedentAlignment,
		"rule_alignment":      f.RuleAlignment,
		"golden_path":         f.GoldenPath,
		"outcome_tracking":    f.OutcomeTracking,
		"composite":           f.Composite,
	}
}

// OutcomeSource supplies measured outcome history.
type OutcomeSource interface {
	RecentOutcomesForAction(userID, actionName string, limit int) ([]store.Outcome, error)
}

// FeedbackSource supplies recent human feedback on similar decisions.
type FeedbackSource interface {
	RecentFeedbackForAction(userID, actionName string, limit int) ([]store.Decision, error)
}

// RuleSource supplies active rules matching the current context.
type RuleSource interface {
	SimilarRules(ctx context.Context, userID, text string, threshold float64, limit int) ([]memory.ScoredRule, error)
}

// TrajectorySource supplies the golden reference trajectory for a task type.
type TrajectorySource interface {
	GoldenTrajectory(taskType string) (*store.Trajectory, error)
}

// Estimator computes confidence factors from ledger evidence.
type Estimator struct {
	Outcomes     OutcomeSource
	Feedback     FeedbackSource
	Rules        RuleSource
	Trajectories TrajectorySource
}

// Input describes the proposed (action, context) pair being scored.
type Input struct {
	UserID    string
	Action    string
	Category  catalog.Category
	Reasoning string
	TaskType  string
}

// ruleMatchThreshold is the similarity floor for a rule to count as matching
// the current context.
const ruleMatchThreshold = 0.5

// Estimate computes all six factors and the composite for a proposal.
// Missing evidence never fails the estimate; factors fall back to their
// neutral defaults.
func (e *Estimator) Estimate(ctx context.Context, in Input) (Factors, error) {
	f := Factors{
		HistoricalAccuracy: DefaultHistorical,
		SourceQuality:      e.sourceQuality(in.Category),
		PrecedentAlignment: DefaultPrecedent,
		RuleAlignment:      DefaultRules,
		GoldenPath:         DefaultGoldenPath,
		OutcomeTracking:    DefaultOutcomes,
	}

	if e.Outcomes != nil {
		outcomes, err := e.Outcomes.RecentOutcomesForAction(in.UserID, in.Action, 20)
		if err != nil {
			return Factors{}, err
		}
		if v, ok := historicalAccuracy(outcomes); ok {
			f.HistoricalAccuracy = v
		}
		if v, ok := outcomeTracking(outcomes); ok {
			f.OutcomeTracking = v
		}
	}

	if e.Feedback != nil {
		feedback, err := e.Feedback.RecentFeedbackForAction(in.UserID, in.Action, 10)
		if err != nil {
			return Factors{}, err
		}
		if v, ok := precedentAlignment(feedback); ok {
			f.PrecedentAlignment = v
		}
	}

	if e.Rules != nil && in.Reasoning != "" {
		matches, err := e.Rules.SimilarRules(ctx, in.UserID, in.Reasoning, ruleMatchThreshold, 10)
		if err != nil {
			return Factors{}, err
		}
		if v, ok := ruleAlignment(matches); ok {
			f.RuleAlignment = v
		}
	}

	if e.Trajectories != nil && in.TaskType != "" {
		traj, err := e.Trajectories.GoldenTrajectory(in.TaskType)
		if err != nil {
			return Factors{}, err
		}
		if traj != nil {
			f.GoldenPath = goldenPath(traj.Actions, in.Action)
		}
	}

	f.HistoricalAccuracy = round3(f.HistoricalAccuracy)
	f.SourceQuality = round3(f.SourceQuality)
	f.PrecedentAlignment = round3(f.PrecedentAlignment)
	f.RuleAlignment = round3(f.RuleAlignment)
	f.GoldenPath = round3(f.GoldenPath)
	f.OutcomeTracking = round3(f.OutcomeTracking)
	f.Composite = round3(Composite(f))
	return f, nil
}

func (e *Estimator) sourceQuality(c catalog.Category) float64 {
	if q, ok := sourceQuality[c]; ok {
		return q
	}
	// Unknown categories are treated like external integrations.
	return sourceQuality[catalog.CategoryIntegration]
}

// Composite blends the six factors with the fixed weights.
func Composite(f Factors) float64 {
	return WeightHistorical*f.HistoricalAccuracy +
		WeightSource*f.SourceQuality +
		WeightPrecedent*f.PrecedentAlignment +
		WeightRules*f.RuleAlignment +
		WeightGoldenPath*f.GoldenPath +
		WeightOutcomes*f.OutcomeTracking
}

// historicalAccuracy is the exponential moving average of success over the
// action's outcome history, oldest first. Trusted only once the evidence
// floor is met.
func historicalAccuracy(outcomes []store.Outcome) (float64, bool) {
	if len(outcomes) < OutcomeEvidenceFloor {
		return 0, false
	}
	// outcomes arrive newest first; fold oldest first so recent results
	// dominate the average.
	ema := successValue(outcomes[len(outcomes)-1])
	for i := len(outcomes) - 2; i >= 0; i-- {
		ema = emaAlpha*successValue(outcomes[i]) + (1-emaAlpha)*ema
	}
	return ema, true
}

// outcomeTracking is the plain success fraction over the most recent
// measured outcomes.
func outcomeTracking(outcomes []store.Outcome) (float64, bool) {
	if len(outcomes) < OutcomeEvidenceFloor {
		return 0, false
	}
	window := outcomes
	if len(window) > 10 {
		window = window[:10]
	}
	var successes float64
	for _, o := range window {
		successes += successValue(o)
	}
	return successes / float64(len(window)), true
}

func successValue(o store.Outcome) float64 {
	switch o.Outcome {
	case store.OutcomeSuccess:
		return 1.0
	case store.OutcomePartial:
		return 0.5
	default:
		return 0.0
	}
}

// precedentAlignment is the approved fraction of recent human feedback on
// similar decisions.
func precedentAlignment(feedback []store.Decision) (float64, bool) {
	if len(feedback) < FeedbackEvidenceFloor {
		return 0, false
	}
	approved := 0
	for _, d := range feedback {
		if d.Feedback == store.FeedbackApproved {
			approved++
		}
	}
	return float64(approved) / float64(len(feedback)), true
}

// ruleAlignment is the mean confidence of active rules matching the context.
func ruleAlignment(matches []memory.ScoredRule) (float64, bool) {
	if len(matches) == 0 {
		return 0, false
	}
	var sum float64
	for _, m := range matches {
		sum += m.Rule.Confidence
	}
	return sum / float64(len(matches)), true
}

// goldenPath is 1.0 when the action appears in the reference trajectory,
// else neutral.
func goldenPath(actions []string, action string) float64 {
	for _, a := range actions {
		if a == action {
			return 1.0
		}
	}
	return DefaultGoldenPath
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
