package store

import "testing"

func TestUpsertPreferenceWritesChangelog(t *testing.T) {
	db := testDB(t)

	p := &Preference{
		UserID:     "u1",
		Category:   "communication",
		Key:        "tone",
		Value:      "formal",
		Source:     PrefSourceExplicit,
		Confidence: 0.9,
	}
	if err := db.UpsertPreference(p); err != nil {
		t.Fatalf("UpsertPreference: %v", err)
	}

	// Overwrite keeps one preference row but adds another changelog entry.
	p.Value = "friendly"
	if err := db.UpsertPreference(p); err != nil {
		t.Fatalf("UpsertPreference overwrite: %v", err)
	}

	got, err := db.GetPreference("u1", "communication", "tone")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got == nil || got.Value != "friendly" {
		t.Fatalf("GetPreference = %+v, want value friendly", got)
	}

	prefs, err := db.ListPreferences("u1")
	if err != nil {
		t.Fatalf("ListPreferences: %v", err)
	}
	if len(prefs) != 1 {
		t.Errorf("preferences = %d, want 1", len(prefs))
	}

	decisions, err := db.RecentDecisions("u1", 10)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	changelog := 0
	for _, d := range decisions {
		if d.ActionName == "preference_updated" {
			changelog++
		}
	}
	if changelog != 2 {
		t.Errorf("changelog rows = %d, want 2", changelog)
	}
}

func TestAutonomySettingsDefault(t *testing.T) {
	db := testDB(t)

	s, err := db.GetAutonomySettings("u1")
	if err != nil {
		t.Fatalf("GetAutonomySettings: %v", err)
	}
	if s.Preset != PresetBalanced {
		t.Errorf("default preset = %q, want balanced", s.Preset)
	}

	s.Preset = PresetHandsOff
	s.Overrides = map[string]int{"integration": 2}
	if err := db.UpsertAutonomySettings(s); err != nil {
		t.Fatalf("UpsertAutonomySettings: %v", err)
	}

	got, err := db.GetAutonomySettings("u1")
	if err != nil {
		t.Fatalf("GetAutonomySettings: %v", err)
	}
	if got.Preset != PresetHandsOff {
		t.Errorf("preset = %q, want hands_off", got.Preset)
	}
	if got.Overrides["integration"] != 2 {
		t.Errorf("overrides = %v, want integration=2", got.Overrides)
	}

	if err := db.UpsertAutonomySettings(&AutonomySettings{UserID: "u1", Preset: "reckless"}); err == nil {
		t.Error("invalid preset should fail")
	}
}
