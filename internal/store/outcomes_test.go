package store

import (
	"testing"
	"time"
)

func TestRecordOutcomeIdempotentByTask(t *testing.T) {
	db := testDB(t)

	task := &Task{UserID: "u1", EntityType: "tenancy", EntityID: "t1", TriggerType: "arrears", Title: "Arrears"}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	recorded, err := db.RecordOutcome(&Outcome{TaskID: task.ID, UserID: "u1", ActionName: "arrears", Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if !recorded {
		t.Fatal("first RecordOutcome = false, want true")
	}

	// A second measurement of the same task is skipped, even with a
	// different result.
	recorded, err = db.RecordOutcome(&Outcome{TaskID: task.ID, UserID: "u1", ActionName: "arrears", Outcome: OutcomeFailure})
	if err != nil {
		t.Fatalf("RecordOutcome repeat: %v", err)
	}
	if recorded {
		t.Error("second RecordOutcome = true, want false")
	}

	got, err := db.RecentOutcomesForAction("u1", "arrears", 10)
	if err != nil {
		t.Fatalf("RecentOutcomesForAction: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success (first measurement wins)", got[0].Outcome)
	}
}

func TestRecordOutcomeIdempotentByDecision(t *testing.T) {
	db := testDB(t)

	d := &Decision{UserID: "u1", ActionName: "send_rent_reminder", Category: "action", Verdict: VerdictAutoExecuted}
	if err := db.AppendDecision(d); err != nil {
		t.Fatalf("AppendDecision: %v", err)
	}

	recorded, err := db.RecordOutcome(&Outcome{DecisionID: d.ID, UserID: "u1", ActionName: "send_rent_reminder", Outcome: OutcomeSuccess})
	if err != nil || !recorded {
		t.Fatalf("RecordOutcome = %v, %v", recorded, err)
	}
	recorded, err = db.RecordOutcome(&Outcome{DecisionID: d.ID, UserID: "u1", ActionName: "send_rent_reminder", Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("RecordOutcome repeat: %v", err)
	}
	if recorded {
		t.Error("repeat decision outcome recorded, want skipped")
	}
}

func TestRecentOutcomesOrdering(t *testing.T) {
	db := testDB(t)
	base := time.Now().UnixMilli()

	for i, result := range []string{OutcomeFailure, OutcomePartial, OutcomeSuccess} {
		task := &Task{UserID: "u1", EntityType: "inspection", EntityID: string(rune('a' + i)), TriggerType: "inspection_due", Title: "x"}
		if err := db.CreateTask(task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if _, err := db.RecordOutcome(&Outcome{
			TaskID: task.ID, UserID: "u1", ActionName: "inspection_due",
			Outcome: result, MeasuredAt: base + int64(i),
		}); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	got, err := db.RecentOutcomesForAction("u1", "inspection_due", 2)
	if err != nil {
		t.Fatalf("RecentOutcomesForAction: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Outcome != OutcomeSuccess {
		t.Errorf("newest outcome = %q, want success", got[0].Outcome)
	}
}
