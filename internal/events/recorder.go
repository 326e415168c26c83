// Package events converts observed impressions and clicks into ledger debits
// and reporting facts, exactly once per logical event. Delivery from the
// tracking beacons is at-least-once; the recorder's idempotency guard, not
// the transport, is what makes recording exact.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
)

var (
	// ErrUnknownCampaign indicates an event referencing a campaign that does
	// not exist. This is a data-integrity problem upstream and is surfaced to
	// operators rather than swallowed.
	ErrUnknownCampaign = errors.New("unknown campaign")
	// ErrUnknownPlacement indicates an event referencing a placement that
	// does not exist.
	ErrUnknownPlacement = errors.New("unknown placement")
	// ErrInvalidEvent indicates a malformed event (missing ID or bad type).
	ErrInvalidEvent = errors.New("invalid event")
)

// nowFn is replaced in tests to pin event timestamps.
var nowFn = time.Now

// dedupTTL bounds how long a processed event's result is remembered.
// Tracking pixel retries arrive within seconds; a week is far past any
// realistic redelivery window.
const dedupTTL = 7 * 24 * time.Hour

// Result is the outcome of recording an event. Duplicates return the first
// delivery's result unchanged.
type Result struct {
	Accepted  bool  `json:"accepted"`
	CostCents int64 `json:"cost_cents"`
}

// PersistStore is the subset of the Postgres layer the recorder writes to.
type PersistStore interface {
	AddDailyStat(ctx context.Context, campaignID int, statDate time.Time, impressions, clicks, costCents int64) error
	ReplaceDailyStats(ctx context.Context, statDate time.Time, stats []models.DailyStat) error
	UpdateCampaignStatus(ctx context.Context, campaignID int, status string) error
	UpdateCampaignSpend(ctx context.Context, campaignID int, spentCents int64) error
}

// Recorder ingests campaign events idempotently, debits the ledger for cpc
// clicks and folds rollup rows.
type Recorder struct {
	store   models.CampaignStore
	redis   *db.RedisStore
	ledger  *ledger.Ledger
	events  analytics.EventStore
	persist PersistStore
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewRecorder constructs a Recorder. persist may be nil in tests that do not
// exercise the rollup path.
func NewRecorder(store models.CampaignStore, rs *db.RedisStore, l *ledger.Ledger, es analytics.EventStore, persist PersistStore, logger *zap.Logger, metrics observability.MetricsRegistry) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Recorder{store: store, redis: rs, ledger: l, events: es, persist: persist, logger: logger, metrics: metrics}
}

func dedupKey(eventID string) string {
	return fmt.Sprintf("event:result:%s", eventID)
}

func encodeResult(r Result) string {
	accepted := "0"
	if r.Accepted {
		accepted = "1"
	}
	return accepted + ":" + strconv.FormatInt(r.CostCents, 10)
}

func decodeResult(s string) (Result, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Result{}, false
	}
	cost, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Result{}, false
	}
	return Result{Accepted: parts[0] == "1", CostCents: cost}, true
}

// Record processes one event delivery. The same event_id always yields the
// same Result: the first delivery computes and stores it, every later one
// reads it back without touching the ledger.
func (r *Recorder) Record(ctx context.Context, ev models.CampaignEvent) (Result, error) {
	if ev.EventID == "" || (ev.EventType != models.EventImpression && ev.EventType != models.EventClick) {
		return Result{}, ErrInvalidEvent
	}
	if r.redis == nil || r.redis.Client == nil {
		return Result{}, ledger.ErrNilRedisStore
	}

	campaign := r.store.GetCampaign(ev.CampaignID)
	if campaign == nil {
		r.metrics.IncrementUnknownEntityEvents()
		r.logger.Error("event references unknown campaign",
			zap.String("event_id", ev.EventID), zap.Int("campaign_id", ev.CampaignID))
		return Result{}, ErrUnknownCampaign
	}
	placement := r.store.GetPlacement(ev.PlacementID)
	if placement == nil {
		r.metrics.IncrementUnknownEntityEvents()
		r.logger.Error("event references unknown placement",
			zap.String("event_id", ev.EventID), zap.String("placement_id", ev.PlacementID))
		return Result{}, ErrUnknownPlacement
	}

	// Claim the event ID before doing any work. Losing the claim means this
	// delivery is a duplicate: return whatever the first delivery stored.
	key := dedupKey(ev.EventID)
	claimed, err := r.redis.Client.SetNX(ctx, key, "pending", dedupTTL).Result()
	if err != nil {
		return Result{}, fmt.Errorf("event claim: %w", err)
	}
	if !claimed {
		stored, err := r.redis.Client.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return Result{}, fmt.Errorf("event dedup read: %w", err)
		}
		r.metrics.IncrementDuplicateEvents()
		r.logger.Debug("duplicate event delivery",
			zap.String("event_id", ev.EventID), zap.String("event_type", ev.EventType))
		if res, ok := decodeResult(stored); ok {
			return res, nil
		}
		// First delivery still in flight; drop this one. At-least-once
		// transport means the beacon retries against the stored result.
		return Result{}, nil
	}

	res, err := r.process(ctx, ev, campaign, placement)
	if err != nil {
		// Release the claim so a redelivery can retry the whole event.
		if delErr := r.redis.Client.Del(ctx, key).Err(); delErr != nil {
			r.logger.Error("event claim rollback", zap.Error(delErr), zap.String("event_id", ev.EventID))
		}
		return Result{}, err
	}

	if err := r.redis.Client.Set(ctx, key, encodeResult(res), dedupTTL).Err(); err != nil {
		r.logger.Error("event result store", zap.Error(err), zap.String("event_id", ev.EventID))
	}
	return res, nil
}

// process handles a first-seen event: resolves its cost, debits the ledger
// for cpc clicks, appends it to the event log and folds the rollup row.
func (r *Recorder) process(ctx context.Context, ev models.CampaignEvent, campaign *models.Campaign, placement *models.Placement) (Result, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = nowFn().UTC()
	}

	ev.CostCents = 0
	var reservation ledger.Reservation
	reserved := false

	if ev.EventType == models.EventClick && placement.InventoryType == models.InventoryCPC {
		res, err := r.ledger.Reserve(ctx, campaign, campaign.RateCents)
		switch {
		case err == nil:
			ev.CostCents = campaign.RateCents
			reservation = res
			reserved = true
			r.metrics.SetSpendTotal(campaign.ID, res.NewTotalCents)
			r.maybeComplete(ctx, campaign, res.NewTotalCents)
		case errors.Is(err, ledger.ErrBudgetExhausted):
			// Denied clicks are still stored for audit, at zero cost. The
			// wallet cannot cover another click, so the campaign retires
			// immediately instead of competing for further slots.
			r.metrics.IncrementLedgerDenials(ledger.DenialReason(err))
			r.logger.Info("click denied by ledger",
				zap.String("event_id", ev.EventID),
				zap.Int("campaign_id", campaign.ID),
				zap.String("reason", ledger.DenialReason(err)))
			r.complete(ctx, campaign)
		case errors.Is(err, ledger.ErrDailyCapReached):
			// Stored for audit at zero cost; the campaign sits out the rest
			// of the day and comes back when the daily counter rolls over.
			r.metrics.IncrementLedgerDenials(ledger.DenialReason(err))
			r.logger.Info("click denied by ledger",
				zap.String("event_id", ev.EventID),
				zap.Int("campaign_id", campaign.ID),
				zap.String("reason", ledger.DenialReason(err)))
		default:
			return Result{}, err
		}
	}

	if err := r.events.InsertEvent(ctx, ev); err != nil {
		if reserved {
			if relErr := r.ledger.Release(ctx, reservation); relErr != nil {
				r.logger.Error("reservation rollback", zap.Error(relErr), zap.Int("campaign_id", campaign.ID))
			}
		}
		return Result{}, fmt.Errorf("event append: %w", err)
	}

	r.metrics.IncrementEvent(ev.EventType)
	r.foldRollup(ctx, ev)
	return Result{Accepted: true, CostCents: ev.CostCents}, nil
}

// foldRollup additively updates the day's stats row. Failures are logged and
// counted, never propagated: the periodic replay reconciles from the event
// log.
func (r *Recorder) foldRollup(ctx context.Context, ev models.CampaignEvent) {
	if r.persist == nil {
		return
	}
	var imps, clicks int64
	switch ev.EventType {
	case models.EventImpression:
		imps = 1
	case models.EventClick:
		clicks = 1
	}
	if err := r.persist.AddDailyStat(ctx, ev.CampaignID, ev.OccurredAt.UTC(), imps, clicks, ev.CostCents); err != nil {
		r.metrics.IncrementPersistErrors("daily_stat")
		r.logger.Error("daily stat upsert", zap.Error(err), zap.Int("campaign_id", ev.CampaignID))
	}
}

// maybeComplete transitions a campaign to completed once its total budget is
// fully spent.
func (r *Recorder) maybeComplete(ctx context.Context, campaign *models.Campaign, totalSpent int64) {
	if campaign.TotalBudgetCents == nil || totalSpent < *campaign.TotalBudgetCents {
		return
	}
	r.complete(ctx, campaign)
}

// complete marks a campaign completed in the store and in Postgres.
func (r *Recorder) complete(ctx context.Context, campaign *models.Campaign) {
	if err := r.store.UpdateCampaignStatus(campaign.ID, models.StatusCompleted); err != nil {
		r.logger.Error("campaign completion (store)", zap.Error(err), zap.Int("campaign_id", campaign.ID))
	}
	if r.persist != nil {
		if err := r.persist.UpdateCampaignStatus(ctx, campaign.ID, models.StatusCompleted); err != nil {
			r.metrics.IncrementPersistErrors("status")
			r.logger.Error("campaign completion (db)", zap.Error(err), zap.Int("campaign_id", campaign.ID))
		}
	}
	r.logger.Info("campaign budget exhausted, marked completed", zap.Int("campaign_id", campaign.ID))
}

// PersistSpend writes every campaign's live ledger total back to Postgres.
// Run periodically so a Redis loss costs at most one interval of spend data.
func (r *Recorder) PersistSpend(ctx context.Context) {
	if r.persist == nil {
		return
	}
	for _, c := range r.store.GetAllCampaigns() {
		spent, err := r.ledger.TotalSpent(ctx, c.ID)
		if err != nil {
			r.logger.Error("spend read", zap.Error(err), zap.Int("campaign_id", c.ID))
			continue
		}
		if spent == c.TotalSpentCents {
			continue
		}
		if err := r.persist.UpdateCampaignSpend(ctx, c.ID, spent); err != nil {
			r.metrics.IncrementPersistErrors("spend")
			r.logger.Error("spend persist", zap.Error(err), zap.Int("campaign_id", c.ID))
			continue
		}
		if err := r.store.UpdateCampaignSpend(c.ID, spent); err != nil {
			r.logger.Error("spend snapshot update", zap.Error(err), zap.Int("campaign_id", c.ID))
		}
		r.metrics.SetSpendTotal(c.ID, spent)
	}
}
