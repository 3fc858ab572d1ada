package catalog

import "time"

// Category classifies what kind of work an action performs.
type Category string

const (
	CategoryQuery       Category = "query"
	CategoryAction      Category = "action"
	CategoryGenerate    Category = "generate"
	CategoryIntegration Category = "integration"
	CategoryWorkflow    Category = "workflow"
	CategoryMemory      Category = "memory"
	CategoryPlanning    Category = "planning"
)

// Risk is the blast radius of an action going wrong.
type Risk string

const (
	RiskNone     Risk = "none"
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// ResiliencePolicy bounds how execution retries and how long each attempt
// may run.
type ResiliencePolicy struct {
	MaxAttempts int
	Timeout     time.Duration
}

// Definition is one immutable entry in the action catalog.
type Definition struct {
	Name         string
	Category     Category
	Risk         Risk
	MinTier      int // minimum autonomy tier (1-5) required to auto-execute
	Reversible   bool
	Compensation string // name of the compensating action, if any
	Resilience   ResiliencePolicy
}

var defaultResilience = ResiliencePolicy{MaxAttempts: 2, Timeout: 15 * time.Second}

// Builtins is the static catalog of property-management actions.
// Critical-risk entries (legal notices, terminations, bond claims, large
// payments) can never auto-execute regardless of autonomy settings.
var Builtins = []Definition{
	{Name: "get_portfolio_summary", Category: CategoryQuery, Risk: RiskNone, MinTier: 1, Reversible: true, Resilience: defaultResilience},
	{Name: "search_memory", Category: CategoryQuery, Risk: RiskNone, MinTier: 1, Reversible: true, Resilience: defaultResilience},
	{Name: "record_preference", Category: CategoryMemory, Risk: RiskLow, MinTier: 1, Reversible: true, Resilience: defaultResilience},
	{Name: "send_rent_reminder", Category: CategoryAction, Risk: RiskLow, MinTier: 2, Reversible: false, Resilience: ResiliencePolicy{MaxAttempts: 3, Timeout: 10 * time.Second}},
	{Name: "reply_to_tenant", Category: CategoryGenerate, Risk: RiskLow, MinTier: 2, Reversible: false, Resilience: defaultResilience},
	{Name: "schedule_inspection", Category: CategoryAction, Risk: RiskMedium, MinTier: 3, Reversible: true, Compensation: "cancel_inspection", Resilience: defaultResilience},
	{Name: "cancel_inspection", Category: CategoryAction, Risk: RiskLow, MinTier: 2, Reversible: false, Resilience: defaultResilience},
	{Name: "create_work_order", Category: CategoryAction, Risk: RiskMedium, MinTier: 3, Reversible: true, Compensation: "cancel_work_order", Resilience: defaultResilience},
	{Name: "cancel_work_order", Category: CategoryAction, Risk: RiskLow, MinTier: 2, Reversible: false, Resilience: defaultResilience},
	{Name: "draft_lease_renewal", Category: CategoryGenerate, Risk: RiskLow, MinTier: 2, Reversible: true, Resilience: defaultResilience},
	{Name: "send_owner_report", Category: CategoryGenerate, Risk: RiskLow, MinTier: 2, Reversible: false, Resilience: defaultResilience},
	{Name: "plan_renewal_negotiation", Category: CategoryPlanning, Risk: RiskLow, MinTier: 2, Reversible: true, Resilience: defaultResilience},
	{Name: "sync_listing_portal", Category: CategoryIntegration, Risk: RiskMedium, MinTier: 3, Reversible: true, Resilience: ResiliencePolicy{MaxAttempts: 3, Timeout: 30 * time.Second}},
	{Name: "issue_breach_notice", Category: CategoryWorkflow, Risk: RiskCritical, MinTier: 5, Reversible: false, Resilience: defaultResilience},
	{Name: "terminate_lease", Category: CategoryWorkflow, Risk: RiskCritical, MinTier: 5, Reversible: false, Resilience: defaultResilience},
	{Name: "lodge_bond_claim", Category: CategoryIntegration, Risk: RiskCritical, MinTier: 5, Reversible: false, Resilience: ResiliencePolicy{MaxAttempts: 3, Timeout: 30 * time.Second}},
	{Name: "authorize_large_payment", Category: CategoryAction, Risk: RiskCritical, MinTier: 5, Reversible: false, Resilience: defaultResilience},
}
