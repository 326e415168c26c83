package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brokerscout/sponsorserve/internal/models"
)

// MemStore is an in-memory EventStore for tests.
type MemStore struct {
	mu     sync.Mutex
	events []models.CampaignEvent
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) InsertEvent(_ context.Context, ev models.CampaignEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemStore) EventsForDay(_ context.Context, day time.Time) ([]models.CampaignEvent, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CampaignEvent
	for _, ev := range m.events {
		t := ev.OccurredAt.UTC()
		if !t.Before(start) && t.Before(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemStore) AttributionReport(_ context.Context, from, to time.Time, groupBy string) ([]AttributionRow, error) {
	key := func(ev models.CampaignEvent) string {
		switch groupBy {
		case "device":
			return ev.DeviceType
		case "placement":
			return ev.PlacementID
		default:
			return ev.Page
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	agg := make(map[string]*AttributionRow)
	for _, ev := range m.events {
		t := ev.OccurredAt.UTC()
		if t.Before(from) || !t.Before(to) {
			continue
		}
		k := key(ev)
		row, ok := agg[k]
		if !ok {
			row = &AttributionRow{Key: k}
			agg[k] = row
		}
		switch ev.EventType {
		case models.EventImpression:
			row.Impressions++
		case models.EventClick:
			row.Clicks++
		}
		row.SpendCents += ev.CostCents
	}

	out := make([]AttributionRow, 0, len(agg))
	for _, row := range agg {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Events returns a copy of everything inserted, for assertions.
func (m *MemStore) Events() []models.CampaignEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CampaignEvent, len(m.events))
	copy(out, m.events)
	return out
}
