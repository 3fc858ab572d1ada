package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/logging"
	"github.com/stewardhq/steward/internal/store"
)

type fakeProposer struct {
	mu      sync.Mutex
	calls   []engine.Proposal
	verdict engine.Verdict
	err     error
}

func (f *fakeProposer) Propose(ctx context.Context, p engine.Proposal) (engine.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.verdict, f.err
}

func (f *fakeProposer) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Action
	}
	return out
}

func testRunner(t *testing.T, budget int) (*Runner, *store.DB, *fakeProposer) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	proposer := &fakeProposer{verdict: engine.Verdict{Executed: true}}
	r := NewRunner(db, proposer, logging.Nop(), budget, 5)
	return r, db, proposer
}

func seedUser(t *testing.T, db *store.DB) string {
	t.Helper()
	u := &store.User{Name: "Dana", Active: true}
	require.NoError(t, db.CreateUser(u))
	return u.ID
}

func TestOutcomeMeasurement(t *testing.T) {
	r, db, _ := testRunner(t, 15)
	userID := seedUser(t, db)

	statuses := map[string]string{
		store.TaskStatusCompleted: store.OutcomeSuccess,
		store.TaskStatusDismissed: store.OutcomeUserOverride,
		store.TaskStatusCancelled: store.OutcomeFailure,
	}
	taskIDs := make(map[string]string)
	i := 0
	for status := range statuses {
		task := &store.Task{UserID: userID, EntityType: "tenancy", EntityID: string(rune('a' + i)), TriggerType: "arrears", Title: "x"}
		require.NoError(t, db.CreateTask(task))
		require.NoError(t, db.ResolveTask(task.ID, status))
		taskIDs[status] = task.ID
		i++
	}

	report, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 3, report.OutcomesMeasured)

	for status, want := range statuses {
		outcomes, err := db.RecentOutcomesForAction(userID, "arrears", 10)
		require.NoError(t, err)
		found := false
		for _, o := range outcomes {
			if o.TaskID == taskIDs[status] {
				found = true
				require.Equal(t, want, o.Outcome, "status %s", status)
			}
		}
		require.True(t, found, "no outcome for task with status %s", status)
	}

	// A rerun measures nothing new.
	report, err = r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, report.OutcomesMeasured)
}

func TestScannersCreateTasksAndPropose(t *testing.T) {
	r, db, proposer := testRunner(t, 15)
	userID := seedUser(t, db)
	now := time.Now()

	soon := now.Add(30 * 24 * time.Hour).UnixMilli()
	require.NoError(t, db.CreateTenancy(&store.Tenancy{
		UserID: userID, Address: "1 High St", Status: "active", EndDate: &soon, ArrearsCents: 0,
	}))
	require.NoError(t, db.CreateTenancy(&store.Tenancy{
		UserID: userID, Address: "2 Low St", Status: "active", ArrearsCents: 45000,
	}))
	require.NoError(t, db.CreateInspection(&store.Inspection{
		UserID: userID, DueAt: now.Add(7 * 24 * time.Hour).UnixMilli(),
	}))
	require.NoError(t, db.CreateComplianceItem(&store.ComplianceItem{
		UserID: userID, Name: "smoke alarm check", DueAt: now.Add(10 * 24 * time.Hour).UnixMilli(),
	}))
	require.NoError(t, db.CreateListing(&store.Listing{
		UserID: userID, Address: "3 Mid St", UpdatedAt: now.Add(-10 * 24 * time.Hour).UnixMilli(),
	}))
	stale := now.Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, db.CreateMessageThread(&store.MessageThread{
		UserID: userID, Subject: "leaking tap", LastInboundAt: &stale,
	}))

	report, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 1, report.UsersScanned)
	require.Equal(t, 6, report.TasksCreated)
	require.Equal(t, 4, report.ActionsProposed)
	require.Equal(t, 4, report.ActionsAutoExecuted)
	require.Empty(t, report.Errors)

	require.ElementsMatch(t,
		[]string{"draft_lease_renewal", "send_rent_reminder", "schedule_inspection", "sync_listing_portal"},
		proposer.actions())

	// Every task landed open and attributable.
	open, err := db.OpenTasks(userID)
	require.NoError(t, err)
	require.Len(t, open, 6)
}

func TestSecondRunCreatesNothingNew(t *testing.T) {
	r, db, _ := testRunner(t, 15)
	userID := seedUser(t, db)

	require.NoError(t, db.CreateTenancy(&store.Tenancy{
		UserID: userID, Address: "2 Low St", Status: "active", ArrearsCents: 12000,
	}))

	first, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 1, first.TasksCreated)

	second, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, second.TasksCreated, "open task for the same entity and trigger must not duplicate")
	require.Zero(t, second.ActionsProposed)
}

func TestEntityClaimedOncePerCycle(t *testing.T) {
	r, db, proposer := testRunner(t, 15)
	userID := seedUser(t, db)
	now := time.Now()

	// One tenancy trips both the lease-expiry and arrears scanners; the
	// cycle claims the entity for the first and skips the second.
	soon := now.Add(30 * 24 * time.Hour).UnixMilli()
	require.NoError(t, db.CreateTenancy(&store.Tenancy{
		UserID: userID, Address: "1 High St", Status: "active", EndDate: &soon, ArrearsCents: 90000,
	}))

	report, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 1, report.TasksCreated)
	require.Equal(t, []string{"draft_lease_renewal"}, proposer.actions())
}

func TestTaskBudget(t *testing.T) {
	r, db, _ := testRunner(t, 2)
	userID := seedUser(t, db)

	for _, addr := range []string{"1 A St", "2 B St", "3 C St", "4 D St"} {
		require.NoError(t, db.CreateTenancy(&store.Tenancy{
			UserID: userID, Address: addr, Status: "active", ArrearsCents: 10000,
		}))
	}

	report, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 2, report.TasksCreated)
}

func TestProposalFailureIsNotFatal(t *testing.T) {
	r, db, proposer := testRunner(t, 15)
	proposer.err = errors.New("estimator unavailable")
	userID := seedUser(t, db)

	require.NoError(t, db.CreateTenancy(&store.Tenancy{
		UserID: userID, Address: "2 Low St", Status: "active", ArrearsCents: 12000,
	}))

	report, err := r.Run(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 1, report.TasksCreated, "the task survives even when the proposal fails")
	require.Zero(t, report.ActionsProposed)
	require.Empty(t, report.Errors)
}

func TestScanFailureIsolatedPerUser(t *testing.T) {
	r, db, _ := testRunner(t, 15)
	goodID := seedUser(t, db)
	bad := &store.User{Name: "Rex", Active: true}
	require.NoError(t, db.CreateUser(bad))

	for _, id := range []string{goodID, bad.ID} {
		require.NoError(t, db.CreateTenancy(&store.Tenancy{
			UserID: id, Address: "2 Low St", Status: "active", ArrearsCents: 12000,
		}))
	}

	// Task writes for one user hit a storage error; the sibling user's scan
	// must still complete.
	_, err := db.Exec(fmt.Sprintf(`
		CREATE TRIGGER broken_user_tasks BEFORE INSERT ON tasks
		WHEN NEW.user_id = '%s'
		BEGIN SELECT RAISE(ABORT, 'storage unavailable'); END
	`, bad.ID))
	require.NoError(t, err)

	report, err := r.Run(context.Background(), "")
	require.NoError(t, err, "a per-user scan failure must not fail the run")
	require.Equal(t, 2, report.UsersScanned)
	require.Equal(t, 1, report.TasksCreated)
	require.Len(t, report.Errors, 1)
	require.True(t, strings.HasPrefix(report.Errors[0], "[user:"+bad.ID+"]"), report.Errors[0])

	open, err := db.OpenTasks(goodID)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestCleanupRunsOncePerInterval(t *testing.T) {
	r, db, _ := testRunner(t, 15)
	seedUser(t, db)

	old := time.Now().Add(-100 * 24 * time.Hour).UnixMilli()
	d1 := &store.Decision{
		UserID: "u1", ActionName: "send_owner_report", Category: "generate",
		Verdict: store.VerdictAutoExecuted, CreatedAt: old,
	}
	require.NoError(t, db.AppendDecision(d1))

	_, err := r.Run(context.Background(), "")
	require.NoError(t, err)

	// The stale decision is gone and the cleanup timestamp is recorded.
	gone, err := db.GetDecision(d1.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
	stamp, err := db.GetMeta("last_cleanup_at")
	require.NoError(t, err)
	require.NotEmpty(t, stamp)

	// Another stale decision within the interval survives until the next
	// cleanup window.
	d2 := &store.Decision{
		UserID: "u1", ActionName: "send_owner_report", Category: "generate",
		Verdict: store.VerdictAutoExecuted, CreatedAt: old,
	}
	require.NoError(t, db.AppendDecision(d2))
	_, err = r.Run(context.Background(), "")
	require.NoError(t, err)
	got, err := db.GetDecision(d2.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestScanScopedUserMustExist(t *testing.T) {
	r, _, _ := testRunner(t, 15)
	_, err := r.Run(context.Background(), "ghost")
	require.Error(t, err)
}
