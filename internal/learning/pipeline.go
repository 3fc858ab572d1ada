// Package learning turns human feedback into durable behavior: it reinforces
// and decays learned rules and promotes repeated corrections into new ones.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/store"
)

// Confidence deltas applied to rules that matched a decision's context.
const (
	DeltaApproved  = 0.05
	DeltaRejected  = -0.10
	DeltaCorrected = -0.15
)

// PromotedRuleConfidence is the starting confidence of a rule synthesized
// from a correction pattern.
const PromotedRuleConfidence = 0.7

// Thresholds tune pattern detection and rule matching.
type Thresholds struct {
	RuleMatch            float64 // cosine floor for a rule to count as matching a decision
	CorrectionSimilarity float64 // cosine floor for two corrections to be the same pattern
	TokenOverlap         float64 // Jaccard floor used when no embedder is available
	PatternCount         int     // similar corrections needed before promotion
	ConflictSearch       float64 // similarity floor when scanning for conflicting rules
	ConflictSkip         float64 // above this, the pattern duplicates an existing rule
	Deactivate           float64 // rules below this confidence are switched off
}

// DefaultThresholds returns the production tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RuleMatch:            0.65,
		CorrectionSimilarity: 0.6,
		TokenOverlap:         0.3,
		PatternCount:         3,
		ConflictSearch:       0.75,
		ConflictSkip:         0.85,
		Deactivate:           0.3,
	}
}

// Pipeline processes feedback events against the rule base.
type Pipeline struct {
	DB         *store.DB
	Searcher   *memory.Searcher
	Embedder   memory.Embedder
	Log        *zap.SugaredLogger
	Thresholds Thresholds
}

// NewPipeline creates a Pipeline with default thresholds. Embedder may be
// nil; matching then falls back to text heuristics.
func NewPipeline(db *store.DB, searcher *memory.Searcher, embedder memory.Embedder, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		DB:         db,
		Searcher:   searcher,
		Embedder:   embedder,
		Log:        log,
		Thresholds: DefaultThresholds(),
	}
}

// Process applies one feedback event. Approval reinforces the rules that
// steered the decision; rejection decays them; a correction decays them
// harder and feeds the correction pattern detector.
func (p *Pipeline) Process(ctx context.Context, d *store.Decision, feedback, correction string) error {
	var delta float64
	switch feedback {
	case store.FeedbackApproved:
		delta = DeltaApproved
	case store.FeedbackRejected:
		delta = DeltaRejected
	case store.FeedbackCorrected:
		delta = DeltaCorrected
	default:
		return fmt.Errorf("unknown feedback type %q", feedback)
	}

	if err := p.adjustMatchingRules(ctx, d, delta); err != nil {
		return err
	}

	if feedback == store.FeedbackCorrected && correction != "" {
		return p.recordCorrection(ctx, d, correction)
	}
	return nil
}

// adjustMatchingRules shifts confidence on every active rule matching the
// decision's context, clamping to [0,1] and deactivating decayed rules.
func (p *Pipeline) adjustMatchingRules(ctx context.Context, d *store.Decision, delta float64) error {
	matches, err := p.matchingRules(ctx, d.UserID, d.Reasoning)
	if err != nil {
		return err
	}

	for _, r := range matches {
		confidence := r.Confidence + delta
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		active := confidence >= p.Thresholds.Deactivate
		if err := p.DB.UpdateRuleConfidence(r.ID, confidence, active); err != nil {
			return err
		}
		if !active && p.Log != nil {
			p.Log.Infow("rule deactivated by decay", "rule", r.ID, "confidence", confidence)
		}
	}
	return nil
}

// matchingRules finds active rules whose trigger matches the decision
// context: cosine similarity against the rule embedding when an embedder is
// available, else a case-insensitive prefix-substring check.
func (p *Pipeline) matchingRules(ctx context.Context, userID, text string) ([]store.Rule, error) {
	if text == "" {
		return nil, nil
	}
	rules, err := p.DB.ActiveRules(userID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var queryVec []float64
	if p.Embedder != nil {
		queryVec, err = p.Embedder.Embed(ctx, text)
		if err != nil {
			if p.Log != nil {
				p.Log.Warnw("embed failed, matching rules by substring", "error", err)
			}
			queryVec = nil
		}
	}

	var matches []store.Rule
	for _, r := range rules {
		if queryVec != nil && len(r.Embedding) > 0 {
			if memory.CosineSimilarity(queryVec, r.Embedding) >= p.Thresholds.RuleMatch {
				matches = append(matches, r)
			}
			continue
		}
		if triggerPrefixMatch(r.TriggerText, text) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// triggerPrefixMatch reports whether the leading words of the rule trigger
// appear inside the decision text (or the whole trigger, when short).
func triggerPrefixMatch(trigger, text string) bool {
	trigger = strings.ToLower(strings.TrimSpace(trigger))
	text = strings.ToLower(text)
	if trigger == "" {
		return false
	}
	const prefixLen = 40
	if len(trigger) > prefixLen {
		trigger = trigger[:prefixLen]
	}
	return strings.Contains(text, trigger)
}

// recordCorrection stores the correction and promotes it to a rule when
// enough similar corrections have accumulated.
func (p *Pipeline) recordCorrection(ctx context.Context, d *store.Decision, text string) error {
	c := &store.Correction{
		UserID:         d.UserID,
		OriginalAction: d.ActionName,
		Correction:     text,
		Category:       Classify(text),
	}
	if p.Embedder != nil {
		if vec, err := p.Embedder.Embed(ctx, text); err == nil {
			c.Embedding = vec
		} else if p.Log != nil {
			p.Log.Warnw("embed correction failed", "error", err)
		}
	}
	if err := p.DB.AppendCorrection(c); err != nil {
		return err
	}

	return p.detectPattern(ctx, c)
}

// detectPattern checks whether the new correction completes a pattern of
// similar corrections and, if so, synthesizes a rule from them.
func (p *Pipeline) detectPattern(ctx context.Context, c *store.Correction) error {
	similar, err := p.Searcher.SimilarCorrections(ctx, c.UserID, c.Category, c.Correction,
		p.Thresholds.CorrectionSimilarity, p.Thresholds.TokenOverlap)
	if err != nil {
		return err
	}

	// Only corrections not already absorbed into a rule count toward a new
	// pattern; the new correction itself is in the result set.
	pattern := make([]store.Correction, 0, len(similar))
	for _, s := range similar {
		if !s.Correction.PatternMatched {
			pattern = append(pattern, s.Correction)
		}
	}
	if len(pattern) < p.Thresholds.PatternCount {
		return nil
	}

	return p.promoteRule(ctx, c, pattern)
}

// promoteRule creates a rule from a correction pattern unless an existing
// rule already covers the same ground.
func (p *Pipeline) promoteRule(ctx context.Context, c *store.Correction, pattern []store.Correction) error {
	conflicts, err := p.Searcher.SimilarRules(ctx, c.UserID, c.Correction, p.Thresholds.ConflictSearch, 5)
	if err != nil {
		return err
	}
	for _, conflict := range conflicts {
		if conflict.Similarity > p.Thresholds.ConflictSkip {
			if p.Log != nil {
				p.Log.Infow("correction pattern duplicates existing rule, skipping promotion",
					"rule", conflict.Rule.ID, "similarity", conflict.Similarity)
			}
			return nil
		}
	}

	ids := make([]string, len(pattern))
	for i, pc := range pattern {
		ids[i] = pc.ID
	}
	derived, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal derived_from: %w", err)
	}

	rule := &store.Rule{
		UserID:      c.UserID,
		Category:    c.Category,
		TriggerText: c.Correction,
		Embedding:   c.Embedding,
		Confidence:  PromotedRuleConfidence,
		Active:      true,
		DerivedFrom: string(derived),
	}
	if err := p.DB.CreateRule(rule); err != nil {
		return err
	}
	if err := p.DB.MarkPatternMatched(ids); err != nil {
		return err
	}
	if p.Log != nil {
		p.Log.Infow("correction pattern promoted to rule",
			"rule", rule.ID, "category", rule.Category, "corrections", len(ids))
	}
	return nil
}
