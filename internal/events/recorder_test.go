package events

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	store := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
	return s, store
}

// memPersist is an in-memory PersistStore capturing writes for assertions.
type memPersist struct {
	mu       sync.Mutex
	stats    map[string]*models.DailyStat // keyed campaignID + date
	statuses map[int]string
	spends   map[int]int64
	replaced map[string][]models.DailyStat
}

func newMemPersist() *memPersist {
	return &memPersist{
		stats:    make(map[string]*models.DailyStat),
		statuses: make(map[int]string),
		spends:   make(map[int]int64),
		replaced: make(map[string][]models.DailyStat),
	}
}

func statKey(campaignID int, d time.Time) string {
	return d.UTC().Format("2006-01-02") + "/" + strconv.Itoa(campaignID)
}

func (m *memPersist) AddDailyStat(_ context.Context, campaignID int, statDate time.Time, impressions, clicks, costCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statKey(campaignID, statDate)
	s, ok := m.stats[k]
	if !ok {
		s = &models.DailyStat{CampaignID: campaignID, StatDate: statDate}
		m.stats[k] = s
	}
	s.Impressions += impressions
	s.Clicks += clicks
	s.SpendCents += costCents
	return nil
}

func (m *memPersist) ReplaceDailyStats(_ context.Context, statDate time.Time, stats []models.DailyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced[statDate.UTC().Format("2006-01-02")] = stats
	return nil
}

func (m *memPersist) UpdateCampaignStatus(_ context.Context, campaignID int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[campaignID] = status
	return nil
}

func (m *memPersist) UpdateCampaignSpend(_ context.Context, campaignID int, spentCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spends[campaignID] = spentCents
	return nil
}

func (m *memPersist) stat(campaignID int, d time.Time) models.DailyStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[statKey(campaignID, d)]; ok {
		return *s
	}
	return models.DailyStat{}
}

type recorderFixture struct {
	ms      *miniredis.Miniredis
	rec     *Recorder
	events  *analytics.MemStore
	persist *memPersist
	store   *models.InMemoryCampaignStore
	ledger  *ledger.Ledger
}

func newRecorderFixture(t *testing.T, campaigns []models.Campaign, placements []models.Placement) *recorderFixture {
	ms, rs := setupTestRedis(t)
	t.Cleanup(ms.Close)

	cs := models.NewTestCampaignStore(campaigns, placements)
	l := ledger.New(rs)
	es := analytics.NewMemStore()
	persist := newMemPersist()
	rec := NewRecorder(cs, rs, l, es, persist, nil, nil)
	return &recorderFixture{ms: ms, rec: rec, events: es, persist: persist, store: cs, ledger: l}
}

func cpcFixture(t *testing.T, totalBudget, dailyBudget *int64) *recorderFixture {
	return newRecorderFixture(t,
		[]models.Campaign{{
			ID:               1,
			BrokerSlug:       "broker-a",
			PlacementID:      "compare-top",
			RateCents:        500,
			TotalBudgetCents: totalBudget,
			DailyBudgetCents: dailyBudget,
			Status:           models.StatusActive,
		}},
		[]models.Placement{{
			Slug:          "compare-top",
			InventoryType: models.InventoryCPC,
			MaxSlots:      2,
			IsActive:      true,
		}},
	)
}

func clickEvent(eventID string) models.CampaignEvent {
	return models.CampaignEvent{
		EventID:     eventID,
		EventType:   models.EventClick,
		CampaignID:  1,
		PlacementID: "compare-top",
		Page:        "/compare/forex",
		DeviceType:  "desktop",
		OccurredAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecord_ImpressionCostsNothing(t *testing.T) {
	fx := cpcFixture(t, models.Int64Ptr(10000), nil)

	ev := clickEvent("ev-1")
	ev.EventType = models.EventImpression
	res, err := fx.rec.Record(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted || res.CostCents != 0 {
		t.Errorf("impression result = %+v, want accepted at zero cost", res)
	}
	total, _ := fx.ledger.TotalSpent(context.Background(), 1)
	if total != 0 {
		t.Errorf("impressions must not debit the ledger, total = %d", total)
	}
	if got := len(fx.events.Events()); got != 1 {
		t.Errorf("expected 1 stored event, got %d", got)
	}
}

func TestRecord_ClickDebitsLedger(t *testing.T) {
	fx := cpcFixture(t, models.Int64Ptr(10000), nil)

	res, err := fx.rec.Record(context.Background(), clickEvent("ev-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted || res.CostCents != 500 {
		t.Errorf("click result = %+v, want accepted at 500c", res)
	}
	total, _ := fx.ledger.TotalSpent(context.Background(), 1)
	if total != 500 {
		t.Errorf("expected ledger total 500, got %d", total)
	}

	stored := fx.events.Events()
	if len(stored) != 1 || stored[0].CostCents != 500 {
		t.Fatalf("expected one stored event at 500c, got %+v", stored)
	}

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	stat := fx.persist.stat(1, day)
	if stat.Clicks != 1 || stat.SpendCents != 500 {
		t.Errorf("rollup row = %+v, want 1 click / 500c", stat)
	}
}

func TestRecord_DuplicateReturnsFirstResult(t *testing.T) {
	fx := cpcFixture(t, models.Int64Ptr(10000), nil)
	ctx := context.Background()

	first, err := fx.rec.Record(ctx, clickEvent("ev-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := fx.rec.Record(ctx, clickEvent("ev-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Errorf("duplicate delivery returned %+v, first returned %+v", second, first)
	}

	total, _ := fx.ledger.TotalSpent(ctx, 1)
	if total != 500 {
		t.Errorf("duplicate must not debit again, total = %d", total)
	}
	if got := len(fx.events.Events()); got != 1 {
		t.Errorf("duplicate must not append again, events = %d", got)
	}
}

func TestRecord_DeniedClickStoredAtZeroCost(t *testing.T) {
	fx := cpcFixture(t, models.Int64Ptr(400), nil) // below one click
	ctx := context.Background()

	res, err := fx.rec.Record(ctx, clickEvent("ev-1"))
	if err != nil {
		t.Fatalf("denial is not an error: %v", err)
	}
	if !res.Accepted || res.CostCents != 0 {
		t.Errorf("denied click result = %+v, want accepted at zero cost", res)
	}
	total, _ := fx.ledger.TotalSpent(ctx, 1)
	if total != 0 {
		t.Errorf("denied click must not debit, total = %d", total)
	}
	stored := fx.events.Events()
	if len(stored) != 1 || stored[0].CostCents != 0 {
		t.Fatalf("denied click must still be stored at zero cost, got %+v", stored)
	}
	if got := fx.store.GetCampaign(1); got.Status != models.StatusCompleted {
		t.Errorf("wallet-denied campaign should be retired, status = %s", got.Status)
	}
	if fx.persist.statuses[1] != models.StatusCompleted {
		t.Errorf("completion not persisted, status = %s", fx.persist.statuses[1])
	}

	// And the denial result is itself idempotent.
	res2, err := fx.rec.Record(ctx, clickEvent("ev-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2 != res {
		t.Errorf("duplicate of denied click returned %+v, want %+v", res2, res)
	}
}

func TestRecord_DailyCapDeniesClick(t *testing.T) {
	fx := cpcFixture(t, nil, models.Int64Ptr(600))
	ctx := context.Background()

	res, err := fx.rec.Record(ctx, clickEvent("ev-1"))
	if err != nil || res.CostCents != 500 {
		t.Fatalf("first click should be billed: %+v, %v", res, err)
	}
	res, err = fx.rec.Record(ctx, clickEvent("ev-2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CostCents != 0 {
		t.Errorf("second click exceeds the daily cap, cost = %d", res.CostCents)
	}
}

func TestRecord_BudgetExhaustionCompletesCampaign(t *testing.T) {
	fx := cpcFixture(t, models.Int64Ptr(500), nil) // exactly one click
	ctx := context.Background()

	res, err := fx.rec.Record(ctx, clickEvent("ev-1"))
	if err != nil || res.CostCents != 500 {
		t.Fatalf("click should be billed: %+v, %v", res, err)
	}

	c := fx.store.GetCampaign(1)
	if c.Status != models.StatusCompleted {
		t.Errorf("campaign status = %q, want completed", c.Status)
	}
	fx.persist.mu.Lock()
	persisted := fx.persist.statuses[1]
	fx.persist.mu.Unlock()
	if persisted != models.StatusCompleted {
		t.Errorf("persisted status = %q, want completed", persisted)
	}
}

func TestRecord_FeaturedClickCostsNothing(t *testing.T) {
	fx := newRecorderFixture(t,
		[]models.Campaign{{
			ID:          1,
			PlacementID: "featured-partner",
			RateCents:   90000,
			Status:      models.StatusActive,
		}},
		[]models.Placement{{
			Slug:          "featured-partner",
			InventoryType: models.InventoryFeatured,
			MaxSlots:      1,
			IsActive:      true,
		}},
	)

	ev := clickEvent("ev-1")
	ev.PlacementID = "featured-partner"
	res, err := fx.rec.Record(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted || res.CostCents != 0 {
		t.Errorf("featured click result = %+v, want accepted at zero cost", res)
	}
	total, _ := fx.ledger.TotalSpent(context.Background(), 1)
	if total != 0 {
		t.Errorf("featured clicks must not debit, total = %d", total)
	}
}

func TestRecord_RejectsInvalidEvents(t *testing.T) {
	fx := cpcFixture(t, nil, nil)
	ctx := context.Background()

	ev := clickEvent("")
	if _, err := fx.rec.Record(ctx, ev); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("missing event_id: got %v, want ErrInvalidEvent", err)
	}

	ev = clickEvent("ev-1")
	ev.EventType = "conversion"
	if _, err := fx.rec.Record(ctx, ev); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("bad event_type: got %v, want ErrInvalidEvent", err)
	}
}

func TestRecord_UnknownEntities(t *testing.T) {
	fx := cpcFixture(t, nil, nil)
	ctx := context.Background()

	ev := clickEvent("ev-1")
	ev.CampaignID = 99
	if _, err := fx.rec.Record(ctx, ev); !errors.Is(err, ErrUnknownCampaign) {
		t.Errorf("got %v, want ErrUnknownCampaign", err)
	}

	ev = clickEvent("ev-2")
	ev.PlacementID = "nope"
	if _, err := fx.rec.Record(ctx, ev); !errors.Is(err, ErrUnknownPlacement) {
		t.Errorf("got %v, want ErrUnknownPlacement", err)
	}
	if got := len(fx.events.Events()); got != 0 {
		t.Errorf("unknown-entity events must not be stored, got %d", got)
	}
}

func TestRecord_AppendFailureReleasesReservationAndAllowsRetry(t *testing.T) {
	ms, rs := setupTestRedis(t)
	t.Cleanup(ms.Close)

	cs := models.NewTestCampaignStore(
		[]models.Campaign{{
			ID: 1, PlacementID: "compare-top", RateCents: 500,
			TotalBudgetCents: models.Int64Ptr(10000), Status: models.StatusActive,
		}},
		[]models.Placement{{Slug: "compare-top", InventoryType: models.InventoryCPC, MaxSlots: 1, IsActive: true}},
	)
	l := ledger.New(rs)
	es := &failingEventStore{inner: analytics.NewMemStore(), failures: 1}
	rec := NewRecorder(cs, rs, l, es, newMemPersist(), nil, nil)
	ctx := context.Background()

	if _, err := rec.Record(ctx, clickEvent("ev-1")); err == nil {
		t.Fatal("expected append failure to propagate")
	}
	total, _ := l.TotalSpent(ctx, 1)
	if total != 0 {
		t.Errorf("failed append must release the reservation, total = %d", total)
	}

	// The claim was rolled back, so the redelivery processes cleanly.
	res, err := rec.Record(ctx, clickEvent("ev-1"))
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if !res.Accepted || res.CostCents != 500 {
		t.Errorf("retry result = %+v, want accepted at 500c", res)
	}
}

// failingEventStore fails the first N inserts, then delegates.
type failingEventStore struct {
	inner    *analytics.MemStore
	failures int
}

func (f *failingEventStore) InsertEvent(ctx context.Context, ev models.CampaignEvent) error {
	if f.failures > 0 {
		f.failures--
		return analytics.ErrUnavailable
	}
	return f.inner.InsertEvent(ctx, ev)
}

func (f *failingEventStore) EventsForDay(ctx context.Context, day time.Time) ([]models.CampaignEvent, error) {
	return f.inner.EventsForDay(ctx, day)
}

func (f *failingEventStore) AttributionReport(ctx context.Context, from, to time.Time, groupBy string) ([]analytics.AttributionRow, error) {
	return f.inner.AttributionReport(ctx, from, to, groupBy)
}

func TestPersistSpend_WritesChangedTotals(t *testing.T) {
	fx := cpcFixture(t, models.Int64Ptr(100000), nil)
	ctx := context.Background()

	if _, err := fx.rec.Record(ctx, clickEvent("ev-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fx.rec.PersistSpend(ctx)

	fx.persist.mu.Lock()
	spend := fx.persist.spends[1]
	fx.persist.mu.Unlock()
	if spend != 500 {
		t.Errorf("persisted spend = %d, want 500", spend)
	}
	if got := fx.store.GetCampaign(1).TotalSpentCents; got != 500 {
		t.Errorf("store snapshot = %d, want 500", got)
	}

	// Unchanged totals are skipped on the next pass.
	fx.persist.mu.Lock()
	delete(fx.persist.spends, 1)
	fx.persist.mu.Unlock()
	fx.rec.PersistSpend(ctx)
	fx.persist.mu.Lock()
	_, wrote := fx.persist.spends[1]
	fx.persist.mu.Unlock()
	if wrote {
		t.Error("unchanged spend must not be rewritten")
	}
}
