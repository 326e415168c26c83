// Package allocation contains the serve-time decision making: which
// campaigns are allowed to compete for a placement right now, and which of
// them win its slots. The whole path is read-only; nothing here mutates
// ledger counters, so it is safe to run on every page view.
package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/pacing"
)

// ErrUnknownPlacement is returned when the requested placement slug does not
// exist or is inactive.
var ErrUnknownPlacement = errors.New("unknown placement")

// nowFn is used to get the current time. In production it's time.Now,
// but in tests we can replace it to simulate different days.
var nowFn = time.Now

// Eligibility reasons carried alongside a negative verdict for diagnostics.
const (
	ReasonInactive   = "inactive"
	ReasonNotStarted = "not_started"
	ReasonExpired    = "expired"
	ReasonNoBudget   = "no_budget"
	ReasonThrottled  = "pacing_throttled"
	ReasonMismatch   = "placement_mismatch"
)

// Filter narrows a placement's campaign set to those legally allowed to
// serve at this instant: active status, matching placement, inside the date
// window, remaining ledger budget, and inside the pacing allowance.
type Filter struct {
	ledger *ledger.Ledger
	pacer  *pacing.Controller
}

// NewFilter constructs an eligibility Filter.
func NewFilter(l *ledger.Ledger, p *pacing.Controller) *Filter {
	return &Filter{ledger: l, pacer: p}
}

// unitCost is the amount the next event may debit: the bid for cpc
// inventory, nothing for featured (billed per period, not per event).
func unitCost(c *models.Campaign, pl *models.Placement) int64 {
	if pl.InventoryType == models.InventoryFeatured {
		return 0
	}
	return c.RateCents
}

// CheckWithReason evaluates one campaign for one placement. It performs only
// read-only checks and returns a short reason when ineligible.
func (f *Filter) CheckWithReason(ctx context.Context, c *models.Campaign, pl *models.Placement) (bool, string, error) {
	if c == nil || pl == nil {
		return false, ReasonMismatch, nil
	}
	if c.PlacementID != pl.Slug {
		return false, ReasonMismatch, nil
	}
	if !c.IsActive() {
		return false, ReasonInactive, nil
	}

	now := nowFn()
	if !c.StartDate.IsZero() && now.Before(c.StartDate) {
		return false, ReasonNotStarted, nil
	}
	if !c.InWindow(now) {
		return false, ReasonExpired, nil
	}

	// Optimistic probe only; the authoritative guard runs inside
	// ledger.Reserve when the click event arrives.
	cost := unitCost(c, pl)
	if cost == 0 {
		cost = 1
	}
	ok, err := f.ledger.HasBudgetFor(ctx, c, cost)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, ReasonNoBudget, nil
	}

	ok, err = f.pacer.MayServeAt(ctx, c, now)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, ReasonThrottled, nil
	}
	return true, "", nil
}
