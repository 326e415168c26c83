package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
)

// ChargeFeaturedCampaigns debits the flat periodic fee for every active
// featured campaign that has not yet been charged for the current period.
// The period key comes from formatting now with periodLayout ("2006-01"
// bills monthly). Charges are idempotent per (campaign, period), so running
// this on every tick is safe.
func (r *Recorder) ChargeFeaturedCampaigns(ctx context.Context, periodLayout string) {
	period := nowFn().UTC().Format(periodLayout)
	for _, c := range r.store.GetAllCampaigns() {
		if !c.IsActive() || !c.InWindow(nowFn()) {
			continue
		}
		pl := r.store.GetPlacement(c.PlacementID)
		if pl == nil || pl.InventoryType != models.InventoryFeatured {
			continue
		}

		charged, err := r.ledger.ChargeFeaturedPeriod(ctx, &c, period)
		if err != nil {
			if errors.Is(err, ledger.ErrBudgetExhausted) {
				// The wallet cannot cover another period; the campaign is
				// done serving.
				r.metrics.IncrementLedgerDenials(ledger.DenialReason(err))
				r.complete(ctx, &c)
				continue
			}
			r.logger.Error("featured billing", zap.Error(err), zap.Int("campaign_id", c.ID))
			continue
		}
		if charged {
			spent, readErr := r.ledger.TotalSpent(ctx, c.ID)
			if readErr == nil {
				r.metrics.SetSpendTotal(c.ID, spent)
				r.maybeComplete(ctx, &c, spent)
			}
			r.logger.Info("featured campaign billed",
				zap.Int("campaign_id", c.ID),
				zap.String("period", period),
				zap.Int64("fee_cents", c.RateCents))
		}
	}
}

// RunFeaturedBilling invokes ChargeFeaturedCampaigns on the given interval
// until the context is cancelled.
func (r *Recorder) RunFeaturedBilling(ctx context.Context, interval time.Duration, periodLayout string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ChargeFeaturedCampaigns(ctx, periodLayout)
		}
	}
}
