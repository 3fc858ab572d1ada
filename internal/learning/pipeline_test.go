package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/logging"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/store"
)

func testPipeline(t *testing.T, embedder memory.Embedder) (*Pipeline, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logging.Nop()
	searcher := memory.NewSearcher(db, embedder, log)
	return NewPipeline(db, searcher, embedder, log), db
}

func seedRule(t *testing.T, db *store.DB, trigger string, confidence float64) *store.Rule {
	t.Helper()
	r := &store.Rule{
		UserID:      "u1",
		Category:    "maintenance",
		TriggerText: trigger,
		Confidence:  confidence,
		Active:      true,
	}
	require.NoError(t, db.CreateRule(r))
	return r
}

func decision(reasoning string) *store.Decision {
	return &store.Decision{
		ID:         "d1",
		UserID:     "u1",
		ActionName: "create_work_order",
		Category:   "action",
		Reasoning:  reasoning,
	}
}

func TestCorrectedDecaysAndDeactivates(t *testing.T) {
	p, db := testPipeline(t, nil)
	r := seedRule(t, db, "always phone the owner first", 0.35)

	d := decision("always phone the owner first before raising a work order")
	require.NoError(t, p.Process(context.Background(), d, store.FeedbackCorrected, ""))

	got, err := db.GetRule(r.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.20, got.Confidence, 1e-9)
	require.False(t, got.Active, "rule below 0.3 should be deactivated")
}

func TestRejectedDecay(t *testing.T) {
	p, db := testPipeline(t, nil)
	r := seedRule(t, db, "send reminders in the morning", 0.8)

	d := decision("send reminders in the morning as usual")
	require.NoError(t, p.Process(context.Background(), d, store.FeedbackRejected, ""))

	got, err := db.GetRule(r.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.70, got.Confidence, 1e-9)
	require.True(t, got.Active)
}

func TestApprovedReinforces(t *testing.T) {
	p, db := testPipeline(t, nil)
	r := seedRule(t, db, "book inspections two weeks ahead", 0.9)

	d := decision("book inspections two weeks ahead per owner preference")
	require.NoError(t, p.Process(context.Background(), d, store.FeedbackApproved, ""))

	got, err := db.GetRule(r.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.95, got.Confidence, 1e-9)
}

func TestConfidenceClampsAtZero(t *testing.T) {
	p, db := testPipeline(t, nil)
	r := seedRule(t, db, "always use the cheaper vendor", 0.05)

	d := decision("always use the cheaper vendor for this job")
	require.NoError(t, p.Process(context.Background(), d, store.FeedbackRejected, ""))

	got, err := db.GetRule(r.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, got.Confidence)
	require.False(t, got.Active)
}

func TestUnmatchedRuleUntouched(t *testing.T) {
	p, db := testPipeline(t, nil)
	r := seedRule(t, db, "always phone the owner first", 0.8)

	d := decision("completely unrelated reasoning about listings")
	require.NoError(t, p.Process(context.Background(), d, store.FeedbackRejected, ""))

	got, err := db.GetRule(r.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestUnknownFeedbackRejected(t *testing.T) {
	p, _ := testPipeline(t, nil)
	err := p.Process(context.Background(), decision("x"), "shrug", "")
	require.Error(t, err)
}

func TestCorrectionPatternPromotesRule(t *testing.T) {
	p, db := testPipeline(t, nil)
	ctx := context.Background()

	corrections := []string{
		"get two quotes before approving the repair",
		"always get two quotes before approving repair work",
		"should get two quotes before approving this repair",
	}
	for _, text := range corrections {
		require.NoError(t, p.Process(ctx, decision("raised a work order"), store.FeedbackCorrected, text))
	}

	rules, err := db.ActiveRules("u1")
	require.NoError(t, err)
	require.Len(t, rules, 1, "three similar corrections should promote one rule")
	require.Equal(t, "maintenance", rules[0].Category)
	require.Equal(t, PromotedRuleConfidence, rules[0].Confidence)
	require.NotEmpty(t, rules[0].DerivedFrom)

	// The contributing corrections are absorbed: they no longer count
	// toward another pattern.
	stored, err := db.CorrectionsByCategory("u1", "maintenance")
	require.NoError(t, err)
	for _, c := range stored {
		require.True(t, c.PatternMatched, "correction %s not marked", c.ID)
	}
}

func TestTwoCorrectionsAreNotAPattern(t *testing.T) {
	p, db := testPipeline(t, nil)
	ctx := context.Background()

	for _, text := range []string{
		"get two quotes before approving the repair",
		"always get two quotes before approving repair work",
	} {
		require.NoError(t, p.Process(ctx, decision("raised a work order"), store.FeedbackCorrected, text))
	}

	rules, err := db.ActiveRules("u1")
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestDuplicateRuleSkipsPromotion(t *testing.T) {
	text := "get two quotes before approving the repair"
	emb := memory.NewTFIDFEmbedderFromDocs([]string{
		text,
		"send the rent reminder early in the week",
		"book the inspection for the morning",
	}, 64)
	p, db := testPipeline(t, emb)
	ctx := context.Background()

	vec, err := emb.Embed(ctx, text)
	require.NoError(t, err)
	existing := &store.Rule{
		UserID:      "u1",
		Category:    "maintenance",
		TriggerText: text,
		Embedding:   vec,
		Confidence:  0.8,
		Active:      true,
	}
	require.NoError(t, db.CreateRule(existing))

	// The corrections repeat the ground the existing rule already covers.
	// Reasoning is kept unrelated so the decay path leaves the rule alone.
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(ctx, decision("unrelated listing chatter"), store.FeedbackCorrected, text))
	}

	rules, err := db.ActiveRules("u1")
	require.NoError(t, err)
	require.Len(t, rules, 1, "duplicate pattern must not mint a second rule")
	require.Equal(t, existing.ID, rules[0].ID)
}
