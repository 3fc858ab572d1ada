package learning

import "github.com/stewardhq/steward/internal/memory"

// categoryClass is one keyword class for correction categorization.
type categoryClass struct {
	name     string
	keywords []string
}

// categoryClasses are checked in order; the first class with a keyword hit
// wins, so more specific domains precede the catch-all.
var categoryClasses = []categoryClass{
	{"maintenance", []string{"repair", "plumber", "electrician", "leak", "broken", "fix", "tradesperson", "contractor", "quote", "work", "order"}},
	{"financial", []string{"rent", "payment", "invoice", "arrears", "bond", "fee", "refund", "statement", "money"}},
	{"scheduling", []string{"inspection", "appointment", "schedule", "booking", "calendar", "reschedule", "time", "date"}},
	{"tenant_relations", []string{"tenant", "lease", "renewal", "vacate", "notice", "complaint", "application"}},
	{"compliance", []string{"smoke", "alarm", "safety", "certificate", "regulation", "legislation", "compliance", "audit"}},
	{"communication", []string{"email", "message", "reply", "tone", "call", "contact", "letter", "wording"}},
}

// Classify assigns a correction category from its text. Matching is on whole
// tokens so "reworked" does not trip the "work" keyword. Unmatched text lands
// in "general".
func Classify(text string) string {
	tokens := make(map[string]bool)
	for _, t := range memory.Tokenize(text) {
		tokens[t] = true
	}
	for _, class := range categoryClasses {
		for _, kw := range class.keywords {
			if tokens[kw] {
				return class.name
			}
		}
	}
	return "general"
}
