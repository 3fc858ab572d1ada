package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/store"
)

// Scan horizons.
const (
	leaseExpiryHorizon   = 60 * 24 * time.Hour
	inspectionHorizon    = 14 * 24 * time.Hour
	complianceHorizon    = 30 * 24 * time.Hour
	maintenanceStaleAge  = 7 * 24 * time.Hour
	listingStaleAge      = 7 * 24 * time.Hour
	unansweredMessageAge = 24 * time.Hour
)

// cycle is the per-user scan state: the task budget and the entities already
// claimed this cycle.
type cycle struct {
	r       *Runner
	userID  string
	now     time.Time
	budget  int
	claimed map[string]bool

	tasksCreated    int
	actionsProposed int
	actionsExecuted int
}

func (r *Runner) newCycle(userID string) *cycle {
	return &cycle{
		r:       r,
		userID:  userID,
		now:     r.now(),
		budget:  r.TaskBudget,
		claimed: make(map[string]bool),
	}
}

// scan runs every scanner in priority order. The first error stops this
// user's cycle; the caller isolates it from other users.
func (c *cycle) scan(ctx context.Context) error {
	scanners := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"lease_expiry", c.scanLeaseExpiry},
		{"arrears", c.scanArrears},
		{"maintenance_stalled", c.scanStalledMaintenance},
		{"inspection_due", c.scanInspectionsDue},
		{"compliance_due", c.scanComplianceDue},
		{"listing_stale", c.scanStaleListings},
		{"unanswered_message", c.scanUnansweredMessages},
	}
	for _, s := range scanners {
		if c.budget <= 0 {
			c.r.Log.Debugw("task budget exhausted", "user", c.userID, "stopped_before", s.name)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// createTask opens a task for an entity unless this cycle already claimed the
// entity or an open task for the same (entity, trigger) exists from an
// earlier cycle. Returns whether a new task was created.
func (c *cycle) createTask(t *store.Task) (bool, error) {
	if c.budget <= 0 {
		return false, nil
	}
	key := t.EntityType + ":" + t.EntityID
	if c.claimed[key] {
		return false, nil
	}

	exists, err := c.r.DB.HasOpenTask(c.userID, t.EntityType, t.EntityID, t.TriggerType)
	if err != nil {
		return false, err
	}
	c.claimed[key] = true
	if exists {
		return false, nil
	}

	t.UserID = c.userID
	if err := c.r.DB.CreateTask(t); err != nil {
		return false, err
	}
	c.budget--
	c.tasksCreated++
	return true, nil
}

// propose hands an action to the engine; the gate decides whether it runs
// now or waits for approval. Proposal failures are logged, not fatal: the
// task already exists and the user will see it.
func (c *cycle) propose(ctx context.Context, p engine.Proposal) {
	p.UserID = c.userID
	v, err := c.r.Proposer.Propose(ctx, p)
	if err != nil {
		c.r.Log.Warnw("heartbeat proposal failed", "user", c.userID, "action", p.Action, "error", err)
		return
	}
	c.actionsProposed++
	if v.Executed {
		c.actionsExecuted++
	}
}

func (c *cycle) scanLeaseExpiry(ctx context.Context) error {
	tenancies, err := c.r.DB.Tenancies(c.userID)
	if err != nil {
		return err
	}
	horizon := c.now.Add(leaseExpiryHorizon).UnixMilli()
	for _, t := range tenancies {
		if t.Status != "active" || t.EndDate == nil || *t.EndDate > horizon {
			continue
		}
		created, err := c.createTask(&store.Task{
			EntityType:  "tenancy",
			EntityID:    t.ID,
			TriggerType: "lease_expiry",
			Title:       "Lease ending soon: " + t.Address,
		})
		if err != nil {
			return err
		}
		if created {
			c.propose(ctx, engine.Proposal{
				Action:    "draft_lease_renewal",
				Params:    map[string]any{"tenancy_id": t.ID},
				Reasoning: fmt.Sprintf("lease at %s ends within 60 days", t.Address),
				TaskType:  "lease_renewal",
			})
		}
	}
	return nil
}

func (c *cycle) scanArrears(ctx context.Context) error {
	tenancies, err := c.r.DB.Tenancies(c.userID)
	if err != nil {
		return err
	}
	for _, t := range tenancies {
		if t.ArrearsCents <= 0 {
			continue
		}
		created, err := c.createTask(&store.Task{
			EntityType:  "tenancy",
			EntityID:    t.ID,
			TriggerType: "arrears",
			Title:       fmt.Sprintf("Rent arrears $%.2f: %s", float64(t.ArrearsCents)/100, t.Address),
		})
		if err != nil {
			return err
		}
		if created {
			c.propose(ctx, engine.Proposal{
				Action:    "send_rent_reminder",
				Params:    map[string]any{"tenancy_id": t.ID},
				Reasoning: fmt.Sprintf("tenancy at %s is %d cents in arrears", t.Address, t.ArrearsCents),
				TaskType:  "arrears_recovery",
			})
		}
	}
	return nil
}

func (c *cycle) scanStalledMaintenance(ctx context.Context) error {
	requests, err := c.r.DB.OpenMaintenanceRequests(c.userID)
	if err != nil {
		return err
	}
	staleBefore := c.now.Add(-maintenanceStaleAge).UnixMilli()
	for _, m := range requests {
		if m.Status != "stalled" && m.UpdatedAt > staleBefore {
			continue
		}
		if _, err := c.createTask(&store.Task{
			EntityType:  "maintenance",
			EntityID:    m.ID,
			TriggerType: "maintenance_stalled",
			Title:       "Maintenance stalled: " + m.Summary,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) scanInspectionsDue(ctx context.Context) error {
	inspections, err := c.r.DB.InspectionsDueBy(c.userID, c.now.Add(inspectionHorizon).UnixMilli())
	if err != nil {
		return err
	}
	for _, i := range inspections {
		if i.Status != "unscheduled" {
			continue
		}
		created, err := c.createTask(&store.Task{
			EntityType:  "inspection",
			EntityID:    i.ID,
			TriggerType: "inspection_due",
			Title:       "Routine inspection due",
		})
		if err != nil {
			return err
		}
		if created {
			c.propose(ctx, engine.Proposal{
				Action:    "schedule_inspection",
				Params:    map[string]any{"inspection_id": i.ID},
				Reasoning: "routine inspection due within 14 days and not yet scheduled",
				TaskType:  "inspection",
			})
		}
	}
	return nil
}

func (c *cycle) scanComplianceDue(ctx context.Context) error {
	items, err := c.r.DB.ComplianceDueBy(c.userID, c.now.Add(complianceHorizon).UnixMilli())
	if err != nil {
		return err
	}
	for _, item := range items {
		if _, err := c.createTask(&store.Task{
			EntityType:  "compliance",
			EntityID:    item.ID,
			TriggerType: "compliance_due",
			Title:       "Compliance deadline: " + item.Name,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) scanStaleListings(ctx context.Context) error {
	listings, err := c.r.DB.ActiveListings(c.userID)
	if err != nil {
		return err
	}
	staleBefore := c.now.Add(-listingStaleAge).UnixMilli()
	for _, l := range listings {
		if l.UpdatedAt > staleBefore {
			continue
		}
		created, err := c.createTask(&store.Task{
			EntityType:  "listing",
			EntityID:    l.ID,
			TriggerType: "listing_stale",
			Title:       "Listing going stale: " + l.Address,
		})
		if err != nil {
			return err
		}
		if created {
			c.propose(ctx, engine.Proposal{
				Action:    "sync_listing_portal",
				Params:    map[string]any{"listing_id": l.ID},
				Reasoning: fmt.Sprintf("listing at %s has not been refreshed in over a week", l.Address),
				TaskType:  "letting",
			})
		}
	}
	return nil
}

func (c *cycle) scanUnansweredMessages(ctx context.Context) error {
	threads, err := c.r.DB.UnansweredThreads(c.userID)
	if err != nil {
		return err
	}
	staleBefore := c.now.Add(-unansweredMessageAge).UnixMilli()
	for _, m := range threads {
		if m.LastInboundAt == nil || *m.LastInboundAt > staleBefore {
			continue
		}
		if _, err := c.createTask(&store.Task{
			EntityType:  "message",
			EntityID:    m.ID,
			TriggerType: "unanswered_message",
			Title:       "Unanswered message: " + m.Subject,
		}); err != nil {
			return err
		}
	}
	return nil
}
