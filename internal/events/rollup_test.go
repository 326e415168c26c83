package events

import (
	"context"
	"testing"
	"time"

	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/models"
)

func seedEvents(t *testing.T, es *analytics.MemStore, evs ...models.CampaignEvent) {
	t.Helper()
	for _, ev := range evs {
		if err := es.InsertEvent(context.Background(), ev); err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}
}

func TestComputeDay_FoldsPerCampaign(t *testing.T) {
	es := analytics.NewMemStore()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	at := day.Add(9 * time.Hour)

	seedEvents(t, es,
		models.CampaignEvent{EventID: "a", EventType: models.EventImpression, CampaignID: 1, OccurredAt: at},
		models.CampaignEvent{EventID: "b", EventType: models.EventImpression, CampaignID: 1, OccurredAt: at},
		models.CampaignEvent{EventID: "c", EventType: models.EventClick, CampaignID: 1, CostCents: 500, OccurredAt: at},
		models.CampaignEvent{EventID: "d", EventType: models.EventClick, CampaignID: 2, CostCents: 300, OccurredAt: at},
		// Denied click: counted, zero spend.
		models.CampaignEvent{EventID: "e", EventType: models.EventClick, CampaignID: 2, CostCents: 0, OccurredAt: at},
		// Next day, excluded from this fold.
		models.CampaignEvent{EventID: "f", EventType: models.EventClick, CampaignID: 1, CostCents: 500, OccurredAt: at.AddDate(0, 0, 1)},
	)

	r := NewRollup(es, newMemPersist(), nil, nil)
	stats, err := r.ComputeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 campaigns, got %d", len(stats))
	}
	if s := stats[0]; s.CampaignID != 1 || s.Impressions != 2 || s.Clicks != 1 || s.SpendCents != 500 {
		t.Errorf("campaign 1 stats = %+v", s)
	}
	if s := stats[1]; s.CampaignID != 2 || s.Impressions != 0 || s.Clicks != 2 || s.SpendCents != 300 {
		t.Errorf("campaign 2 stats = %+v", s)
	}
	if !stats[0].StatDate.Equal(day) {
		t.Errorf("stat date = %v, want %v", stats[0].StatDate, day)
	}
}

func TestReplayDay_OverwritesPersistedRows(t *testing.T) {
	es := analytics.NewMemStore()
	persist := newMemPersist()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	seedEvents(t, es,
		models.CampaignEvent{EventID: "a", EventType: models.EventClick, CampaignID: 1, CostCents: 500, OccurredAt: day.Add(time.Hour)},
	)

	r := NewRollup(es, persist, nil, nil)
	if err := r.ReplayDay(context.Background(), day); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	persist.mu.Lock()
	rows := persist.replaced["2025-06-01"]
	persist.mu.Unlock()
	if len(rows) != 1 || rows[0].Clicks != 1 || rows[0].SpendCents != 500 {
		t.Fatalf("replaced rows = %+v", rows)
	}

	// A second replay after more events lands replaces, not appends.
	seedEvents(t, es,
		models.CampaignEvent{EventID: "b", EventType: models.EventImpression, CampaignID: 1, OccurredAt: day.Add(2 * time.Hour)},
	)
	if err := r.ReplayDay(context.Background(), day); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	persist.mu.Lock()
	rows = persist.replaced["2025-06-01"]
	persist.mu.Unlock()
	if len(rows) != 1 || rows[0].Impressions != 1 || rows[0].Clicks != 1 {
		t.Fatalf("replayed rows = %+v", rows)
	}
}

func TestComputeDay_EmptyDay(t *testing.T) {
	r := NewRollup(analytics.NewMemStore(), newMemPersist(), nil, nil)
	stats, err := r.ComputeDay(context.Background(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("expected no stats, got %+v", stats)
	}
}
