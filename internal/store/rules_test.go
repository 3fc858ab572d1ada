package store

import "testing"

func TestRuleLifecycle(t *testing.T) {
	db := testDB(t)

	r := &Rule{
		UserID:      "u1",
		Category:    "maintenance",
		TriggerText: "always get two quotes before approving repairs over $500",
		Confidence:  0.7,
		Active:      true,
		DerivedFrom: `["c1","c2","c3"]`,
	}
	if err := db.CreateRule(r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	active, err := db.ActiveRules("u1")
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("len = %d, want 1", len(active))
	}
	if active[0].Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", active[0].Confidence)
	}

	if err := db.UpdateRuleConfidence(r.ID, 0.75, true); err != nil {
		t.Fatalf("UpdateRuleConfidence: %v", err)
	}
	got, err := db.GetRule(r.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want 0.75", got.Confidence)
	}
	if got.LastReinforcedAt == nil {
		t.Error("LastReinforcedAt not set after update")
	}

	if err := db.UpdateRuleConfidence(r.ID, 0.2, false); err != nil {
		t.Fatalf("UpdateRuleConfidence deactivate: %v", err)
	}
	active, err = db.ActiveRules("u1")
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("len = %d, want 0 after deactivation", len(active))
	}
}

func TestDeactivateDecayedRules(t *testing.T) {
	db := testDB(t)

	healthy := &Rule{UserID: "u1", Category: "general", TriggerText: "a", Confidence: 0.8, Active: true}
	decayed := &Rule{UserID: "u1", Category: "general", TriggerText: "b", Confidence: 0.25, Active: true}
	for _, r := range []*Rule{healthy, decayed} {
		if err := db.CreateRule(r); err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
	}

	n, err := db.DeactivateDecayedRules(0.3)
	if err != nil {
		t.Fatalf("DeactivateDecayedRules: %v", err)
	}
	if n != 1 {
		t.Errorf("deactivated %d, want 1", n)
	}

	active, err := db.ActiveRules("u1")
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	if len(active) != 1 || active[0].ID != healthy.ID {
		t.Errorf("active rules = %v, want only the healthy one", active)
	}
}
