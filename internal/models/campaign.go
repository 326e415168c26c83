package models

import "time"

// Campaign status values. A campaign only serves while active; every other
// status excludes it from allocation entirely.
const (
	// StatusPendingReview is the initial state of an advertiser submission.
	// The campaign is visible in admin tooling but never serves.
	StatusPendingReview = "pending_review"
	// StatusActive campaigns compete for placement slots, subject to budget,
	// date window and pacing checks.
	StatusActive = "active"
	// StatusPaused campaigns are temporarily withheld by the advertiser or an
	// operator. Spend state is preserved.
	StatusPaused = "paused"
	// StatusCompleted campaigns have exhausted their total budget or passed
	// their end date. The transition is automatic and one-way.
	StatusCompleted = "completed"
	// StatusRejected campaigns failed editorial review and never serve.
	StatusRejected = "rejected"
)

// Campaign is an advertiser's paid bid to occupy a placement slot. Budgets
// are tracked in integer cents; nil budget pointers mean unlimited. Spend
// mutation is owned exclusively by the ledger; everything else treats the
// struct as read-only snapshot data.
type Campaign struct {
	ID          int    `json:"id"`
	BrokerSlug  string `json:"broker_slug"`
	PlacementID string `json:"placement_id"`
	// RateCents is the campaign's bid for cpc inventory or the flat periodic
	// fee for featured inventory. Must be at least the placement's base rate.
	RateCents int64 `json:"rate_cents"`
	// DailyBudgetCents caps spend per UTC day. Nil means unlimited.
	DailyBudgetCents *int64 `json:"daily_budget_cents,omitempty"`
	// TotalBudgetCents caps lifetime spend. Nil means unlimited.
	TotalBudgetCents *int64 `json:"total_budget_cents,omitempty"`
	// TotalSpentCents is the lifetime spend snapshot loaded from persistence.
	// The live value lives in the ledger; this field seeds the ledger at boot
	// and is written back by spend persistence.
	TotalSpentCents int64 `json:"total_spent_cents"`
	// StartDate is the first instant (UTC) the campaign may serve.
	StartDate time.Time `json:"start_date"`
	// EndDate is the last day the campaign may serve, inclusive through the
	// end of that UTC day. Zero means open-ended.
	EndDate time.Time `json:"end_date,omitempty"`
	Status  string    `json:"status"`
}

// IsActive reports whether the campaign's status permits serving.
func (c *Campaign) IsActive() bool {
	return c != nil && c.Status == StatusActive
}

// InWindow reports whether now falls inside the campaign's date window.
func (c *Campaign) InWindow(now time.Time) bool {
	if c == nil {
		return false
	}
	if !c.StartDate.IsZero() && now.Before(c.StartDate) {
		return false
	}
	if !c.EndDate.IsZero() && !now.Before(c.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// RemainingFraction returns the unspent share of the total budget given the
// live spent counter. Campaigns without a total budget report 1.0 so they
// rank as furthest from exhaustion in tie-breaks.
func (c *Campaign) RemainingFraction(spentCents int64) float64 {
	if c == nil || c.TotalBudgetCents == nil || *c.TotalBudgetCents <= 0 {
		return 1.0
	}
	remaining := *c.TotalBudgetCents - spentCents
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / float64(*c.TotalBudgetCents)
}
