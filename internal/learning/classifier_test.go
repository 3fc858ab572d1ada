package learning

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"called plumber instead of handyman", "maintenance"},
		{"the rent statement was wrong", "financial"},
		{"reschedule the appointment for friday", "scheduling"},
		{"notify the tenant before entry", "tenant_relations"},
		{"smoke alarm certificate has expired", "compliance"},
		{"use a friendlier email wording", "communication"},
		{"something else entirely", "general"},
	}
	for _, tc := range cases {
		if got := Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestClassifyWholeTokensOnly(t *testing.T) {
	// "reworked" contains "work" as a substring but is not the keyword.
	if got := Classify("the summary was reworked overnight"); got != "general" {
		t.Errorf("Classify = %q, want general (no substring matches)", got)
	}
}

func TestClassifyOrderPrefersSpecificDomain(t *testing.T) {
	// Both maintenance ("repair") and communication ("email") keywords
	// appear; the earlier, more specific class wins.
	if got := Classify("email the repair quote to the owner"); got != "maintenance" {
		t.Errorf("Classify = %q, want maintenance", got)
	}
}
