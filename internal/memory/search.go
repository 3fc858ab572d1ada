package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/store"
)

// Searcher answers similarity queries over the ledger with graceful
// degradation: the primary tier embeds the query and ranks rows by cosine
// similarity; whenever the primary tier errors or returns nothing, the
// fallback tier serves exact-match/recency results instead.
type Searcher struct {
	DB       *store.DB
	Embedder Embedder
	Log      *zap.SugaredLogger
}

// NewSearcher creates a Searcher. Embedder may be nil, in which case every
// query takes the fallback tier.
func NewSearcher(db *store.DB, embedder Embedder, log *zap.SugaredLogger) *Searcher {
	return &Searcher{DB: db, Embedder: embedder, Log: log}
}

// ScoredDecision is a decision ranked by similarity to a query.
type ScoredDecision struct {
	Decision   store.Decision
	Similarity float64
}

// ScoredRule is a rule ranked by similarity to a query.
type ScoredRule struct {
	Rule       store.Rule
	Similarity float64
}

// twoTier is the single policy point selecting between the vector tier and
// the fallback tier.
func twoTier[T any](log *zap.SugaredLogger, what string, primary func() ([]T, error), fallback func() ([]T, error)) ([]T, error) {
	if primary != nil {
		results, err := primary()
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if err != nil && log != nil {
			log.Warnw("vector search failed, using fallback", "kind", what, "error", err)
		}
	}
	return fallback()
}

func (s *Searcher) embedQuery(ctx context.Context, text string) ([]float64, error) {
	if s.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vec, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// SimilarDecisions finds past decisions similar to the given text. Falls back
// to the user's recent feedback-carrying decisions.
func (s *Searcher) SimilarDecisions(ctx context.Context, userID, text string, threshold float64, limit int) ([]ScoredDecision, error) {
	if limit <= 0 {
		limit = 10
	}

	var primary func() ([]ScoredDecision, error)
	if s.Embedder != nil {
		primary = func() ([]ScoredDecision, error) {
			queryVec, err := s.embedQuery(ctx, text)
			if err != nil {
				return nil, err
			}
			decisions, err := s.DB.DecisionsWithEmbeddings(userID, 0)
			if err != nil {
				return nil, err
			}

			var results []ScoredDecision
			for _, d := range decisions {
				sim := CosineSimilarity(queryVec, d.Embedding)
				if sim >= threshold {
					results = append(results, ScoredDecision{Decision: d, Similarity: sim})
				}
			}
			sort.Slice(results, func(i, j int) bool {
				return results[i].Similarity > results[j].Similarity
			})
			if len(results) > limit {
				results = results[:limit]
			}
			return results, nil
		}
	}

	fallback := func() ([]ScoredDecision, error) {
		recent, err := s.DB.RecentDecisions(userID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]ScoredDecision, len(recent))
		for i, d := range recent {
			out[i] = ScoredDecision{Decision: d}
		}
		return out, nil
	}

	return twoTier(s.Log, "decisions", primary, fallback)
}

// SimilarRules finds active rules whose trigger text is similar to the given
// text. Falls back to all of the user's active rules (unscored).
func (s *Searcher) SimilarRules(ctx context.Context, userID, text string, threshold float64, limit int) ([]ScoredRule, error) {
	if limit <= 0 {
		limit = 10
	}

	rules, err := s.DB.ActiveRules(userID)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var primary func() ([]ScoredRule, error)
	if s.Embedder != nil {
		primary = func() ([]ScoredRule, error) {
			queryVec, err := s.embedQuery(ctx, text)
			if err != nil {
				return nil, err
			}

			var results []ScoredRule
			for _, r := range rules {
				if len(r.Embedding) == 0 {
					continue
				}
				sim := CosineSimilarity(queryVec, r.Embedding)
				if sim >= threshold {
					results = append(results, ScoredRule{Rule: r, Similarity: sim})
				}
			}
			sort.Slice(results, func(i, j int) bool {
				return results[i].Similarity > results[j].Similarity
			})
			if len(results) > limit {
				results = results[:limit]
			}
			return results, nil
		}
	}

	fallback := func() ([]ScoredRule, error) {
		out := make([]ScoredRule, 0, len(rules))
		for _, r := range rules {
			out = append(out, ScoredRule{Rule: r})
		}
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	return twoTier(s.Log, "rules", primary, fallback)
}

// ScoredPreference is a preference ranked by similarity to a query.
type ScoredPreference struct {
	Preference store.Preference
	Similarity float64
}

// SimilarPreferences finds stored preferences similar to the given text.
// Falls back to the user's most recently updated preferences (unscored).
func (s *Searcher) SimilarPreferences(ctx context.Context, userID, text string, threshold float64, limit int) ([]ScoredPreference, error) {
	if limit <= 0 {
		limit = 10
	}

	prefs, err := s.DB.ListPreferences(userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	if len(prefs) == 0 {
		return nil, nil
	}

	var primary func() ([]ScoredPreference, error)
	if s.Embedder != nil {
		primary = func() ([]ScoredPreference, error) {
			queryVec, err := s.embedQuery(ctx, text)
			if err != nil {
				return nil, err
			}

			var results []ScoredPreference
			for _, p := range prefs {
				if len(p.Embedding) == 0 {
					continue
				}
				sim := CosineSimilarity(queryVec, p.Embedding)
				if sim >= threshold {
					results = append(results, ScoredPreference{Preference: p, Similarity: sim})
				}
			}
			sort.Slice(results, func(i, j int) bool {
				return results[i].Similarity > results[j].Similarity
			})
			if len(results) > limit {
				results = results[:limit]
			}
			return results, nil
		}
	}

	fallback := func() ([]ScoredPreference, error) {
		out := make([]ScoredPreference, 0, len(prefs))
		for _, p := range prefs {
			out = append(out, ScoredPreference{Preference: p})
		}
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	return twoTier(s.Log, "preferences", primary, fallback)
}

// ScoredCorrection is a correction ranked by similarity to a query.
type ScoredCorrection struct {
	Correction store.Correction
	Similarity float64
}

// SimilarCorrections finds prior corrections in a category similar to the
// given text. The fallback tier scores by bag-of-words token overlap
// (Jaccard) with the overlap threshold instead of the cosine threshold.
func (s *Searcher) SimilarCorrections(ctx context.Context, userID, category, text string, cosineThreshold, overlapThreshold float64) ([]ScoredCorrection, error) {
	corrections, err := s.DB.CorrectionsByCategory(userID, category)
	if err != nil {
		return nil, fmt.Errorf("corrections: %w", err)
	}
	if len(corrections) == 0 {
		return nil, nil
	}

	var primary func() ([]ScoredCorrection, error)
	if s.Embedder != nil {
		primary = func() ([]ScoredCorrection, error) {
			queryVec, err := s.embedQuery(ctx, text)
			if err != nil {
				return nil, err
			}
			var results []ScoredCorrection
			for _, c := range corrections {
				if len(c.Embedding) == 0 {
					continue
				}
				sim := CosineSimilarity(queryVec, c.Embedding)
				if sim > cosineThreshold {
					results = append(results, ScoredCorrection{Correction: c, Similarity: sim})
				}
			}
			return results, nil
		}
	}

	fallback := func() ([]ScoredCorrection, error) {
		queryTokens := tokenSet(text)
		var results []ScoredCorrection
		for _, c := range corrections {
			overlap := TokenOverlap(queryTokens, tokenSet(c.Correction))
			if overlap > overlapThreshold {
				results = append(results, ScoredCorrection{Correction: c, Similarity: overlap})
			}
		}
		return results, nil
	}

	return twoTier(s.Log, "corrections", primary, fallback)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}

// TokenOverlap computes the Jaccard index of two token sets.
func TokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
