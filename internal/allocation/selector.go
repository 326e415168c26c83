package allocation

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
)

// Winner is one campaign assigned to a placement slot, in rank order.
type Winner struct {
	BrokerSlug string `json:"broker_slug"`
	CampaignID int    `json:"campaign_id"`
}

// Selector ranks a placement's eligible campaigns and assigns slots.
type Selector struct {
	store   models.CampaignStore
	filter  *Filter
	ledger  *ledger.Ledger
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewSelector constructs a Selector.
func NewSelector(store models.CampaignStore, filter *Filter, l *ledger.Ledger, logger *zap.Logger, metrics observability.MetricsRegistry) *Selector {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{store: store, filter: filter, ledger: l, logger: logger, metrics: metrics}
}

// ranked pairs a campaign with the live spend snapshot used for tie-breaks,
// so sorting is stable against counter movement during the sort itself.
type ranked struct {
	campaign models.Campaign
	fraction float64
}

// WinnersForPlacement returns up to max_slots winners for the placement, in
// rank order: higher rate first, then larger remaining-budget fraction, then
// lower campaign ID. The result is fully deterministic for a given ledger
// state, which keeps it cache-stable within a pacing window.
func (s *Selector) WinnersForPlacement(ctx context.Context, slug string) ([]Winner, error) {
	pl := s.store.GetPlacement(slug)
	if pl == nil || !pl.IsActive {
		return nil, ErrUnknownPlacement
	}

	candidates := s.store.GetCampaignsByPlacement(slug)
	eligible := make([]models.Campaign, 0, len(candidates))
	for i := range candidates {
		ok, reason, err := s.filter.CheckWithReason(ctx, &candidates[i], pl)
		if err != nil {
			// Allocation failures fail open: the page falls back to organic
			// ranking rather than blocking the render.
			s.logger.Warn("eligibility check failed, serving no winners",
				zap.String("placement", slug), zap.Error(err))
			s.metrics.IncrementNoFill(slug)
			return nil, nil
		}
		if !ok {
			if reason == ReasonThrottled {
				s.metrics.IncrementPacingThrottles()
			}
			continue
		}
		eligible = append(eligible, candidates[i])
	}

	list := make([]ranked, 0, len(eligible))
	for i := range eligible {
		spent, err := s.ledger.TotalSpent(ctx, eligible[i].ID)
		if err != nil {
			s.logger.Warn("ledger read failed, serving no winners",
				zap.String("placement", slug), zap.Error(err))
			s.metrics.IncrementNoFill(slug)
			return nil, nil
		}
		list = append(list, ranked{
			campaign: eligible[i],
			fraction: eligible[i].RemainingFraction(spent),
		})
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.campaign.RateCents != b.campaign.RateCents {
			return a.campaign.RateCents > b.campaign.RateCents
		}
		if a.fraction != b.fraction {
			return a.fraction > b.fraction
		}
		return a.campaign.ID < b.campaign.ID
	})

	n := pl.MaxSlots
	if n > len(list) {
		n = len(list)
	}
	winners := make([]Winner, 0, n)
	for _, r := range list[:n] {
		winners = append(winners, Winner{BrokerSlug: r.campaign.BrokerSlug, CampaignID: r.campaign.ID})
	}

	if len(winners) == 0 {
		s.metrics.IncrementNoFill(slug)
	} else {
		s.metrics.AddWinners(slug, len(winners))
	}
	return winners, nil
}
