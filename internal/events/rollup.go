package events

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
)

// Rollup recomputes daily_stats rows from the deduplicated event log. The
// on-write fold in the Recorder keeps the rows current; this replay is the
// recovery path when a fold was lost, and the periodic reconciliation that
// keeps reporting honest.
type Rollup struct {
	events  analytics.EventStore
	persist PersistStore
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewRollup constructs a Rollup.
func NewRollup(es analytics.EventStore, persist PersistStore, logger *zap.Logger, metrics observability.MetricsRegistry) *Rollup {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Rollup{events: es, persist: persist, logger: logger, metrics: metrics}
}

// ComputeDay folds one UTC day's events into per-campaign stats, sorted by
// campaign ID for deterministic output.
func (r *Rollup) ComputeDay(ctx context.Context, day time.Time) ([]models.DailyStat, error) {
	events, err := r.events.EventsForDay(ctx, day)
	if err != nil {
		return nil, err
	}

	statDate := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	byCampaign := make(map[int]*models.DailyStat)
	for _, ev := range events {
		s, ok := byCampaign[ev.CampaignID]
		if !ok {
			s = &models.DailyStat{CampaignID: ev.CampaignID, StatDate: statDate}
			byCampaign[ev.CampaignID] = s
		}
		switch ev.EventType {
		case models.EventImpression:
			s.Impressions++
		case models.EventClick:
			s.Clicks++
		}
		s.SpendCents += ev.CostCents
	}

	stats := make([]models.DailyStat, 0, len(byCampaign))
	for _, s := range byCampaign {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].CampaignID < stats[j].CampaignID })
	return stats, nil
}

// ReplayDay overwrites one day's rollup rows with values recomputed from the
// event log.
func (r *Rollup) ReplayDay(ctx context.Context, day time.Time) error {
	stats, err := r.ComputeDay(ctx, day)
	if err != nil {
		return err
	}
	if err := r.persist.ReplaceDailyStats(ctx, day, stats); err != nil {
		r.metrics.IncrementPersistErrors("rollup")
		return err
	}
	r.logger.Debug("daily stats replayed",
		zap.String("day", day.UTC().Format("2006-01-02")), zap.Int("campaigns", len(stats)))
	return nil
}

// Run reconciles today's and yesterday's rollup rows on the given interval
// until the context is cancelled. Yesterday is included so events that land
// just after midnight still settle into the correct day.
func (r *Rollup) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := nowFn().UTC()
			for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
				if err := r.ReplayDay(ctx, day); err != nil {
					r.logger.Error("rollup replay", zap.Error(err),
						zap.String("day", day.Format("2006-01-02")))
				}
			}
		}
	}
}
