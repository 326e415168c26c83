// Package pacing decides whether a campaign with a daily budget may keep
// serving at the current moment. Spend is held to an even curve across the
// UTC day so one burst of morning traffic cannot consume the whole budget
// and starve later visitors: allowed cumulative spend at elapsed day
// fraction f is daily_budget * f * (1 + slack). The slack term tolerates
// bursty traffic without shutting the campaign out entirely during lulls.
//
// The controller is read-only. It never mutates counters; the ledger owns
// all spend state, and a throttled campaign becomes eligible again on its
// own as the curve rises.
package pacing

import (
	"context"
	"time"

	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
)

// DefaultSlack is the tolerance applied to the even-pacing curve.
const DefaultSlack = 0.15

// nowFn is used to get the current time. In production it's time.Now,
// but in tests we can replace it to simulate different times of day.
var nowFn = time.Now

// Controller evaluates the even-pacing curve against ledger counters.
type Controller struct {
	ledger *ledger.Ledger
	slack  float64
}

// NewController constructs a Controller. A slack of 0 is replaced with
// DefaultSlack.
func NewController(l *ledger.Ledger, slack float64) *Controller {
	if slack <= 0 {
		slack = DefaultSlack
	}
	return &Controller{ledger: l, slack: slack}
}

// AllowedCents returns the cumulative spend permitted so far today for the
// given daily budget.
func (p *Controller) AllowedCents(dailyBudgetCents int64, now time.Time) int64 {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	f := float64(now.Sub(midnight)) / float64(24*time.Hour)
	return int64(float64(dailyBudgetCents) * f * (1 + p.slack))
}

// MayServe reports whether the campaign is inside its pacing allowance.
// Campaigns without a daily budget are never throttled here; only the
// ledger's total budget applies to them.
func (p *Controller) MayServe(ctx context.Context, c *models.Campaign) (bool, error) {
	return p.MayServeAt(ctx, c, nowFn())
}

// MayServeAt is MayServe evaluated at an explicit instant, so callers that
// already fixed "now" for a whole eligibility decision use the same clock
// here.
func (p *Controller) MayServeAt(ctx context.Context, c *models.Campaign, now time.Time) (bool, error) {
	if c == nil || c.DailyBudgetCents == nil || *c.DailyBudgetCents <= 0 {
		return true, nil
	}

	spent, err := p.ledger.DailySpent(ctx, c.ID, now.UTC().Format("2006-01-02"))
	if err != nil {
		return false, err
	}
	return spent <= p.AllowedCents(*c.DailyBudgetCents, now), nil
}
