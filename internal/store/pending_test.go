package store

import (
	"errors"
	"testing"
)

func gatedFixture(t *testing.T, db *DB, userID string) *PendingAction {
	t.Helper()
	d := &Decision{UserID: userID, ActionName: "create_work_order", Category: "action", Verdict: VerdictGated}
	p := &PendingAction{Params: map[string]any{"request_id": "m1"}}
	if err := db.AppendGatedDecision(d, p); err != nil {
		t.Fatalf("AppendGatedDecision: %v", err)
	}
	return p
}

func TestResolvePendingActionExactlyOnce(t *testing.T) {
	db := testDB(t)
	p := gatedFixture(t, db, "u1")

	if err := db.ResolvePendingAction(p.ID, PendingStatusApproved, "owner"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// A duplicate resolution attempt loses, whatever status it asks for.
	err := db.ResolvePendingAction(p.ID, PendingStatusRejected, "owner")
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("second resolve err = %v, want ErrNotPending", err)
	}

	got, err := db.GetPendingAction(p.ID)
	if err != nil {
		t.Fatalf("GetPendingAction: %v", err)
	}
	if got.Status != PendingStatusApproved {
		t.Errorf("Status = %q, want approved (first resolution wins)", got.Status)
	}
	if got.ResolvedBy != "owner" {
		t.Errorf("ResolvedBy = %q, want owner", got.ResolvedBy)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
}

func TestResolvePendingActionInvalidStatus(t *testing.T) {
	db := testDB(t)
	p := gatedFixture(t, db, "u1")

	if err := db.ResolvePendingAction(p.ID, "maybe", ""); err == nil {
		t.Error("resolve with invalid status should fail")
	}
}

func TestResolvePendingActionMissing(t *testing.T) {
	db := testDB(t)

	err := db.ResolvePendingAction("nope", PendingStatusApproved, "")
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestListPendingActions(t *testing.T) {
	db := testDB(t)

	first := gatedFixture(t, db, "u1")
	second := gatedFixture(t, db, "u1")
	gatedFixture(t, db, "u2")

	if err := db.ResolvePendingAction(first.ID, PendingStatusRejected, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := db.ListPendingActions("u1")
	if err != nil {
		t.Fatalf("ListPendingActions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != second.ID {
		t.Errorf("remaining pending = %q, want %q", got[0].ID, second.ID)
	}
}
