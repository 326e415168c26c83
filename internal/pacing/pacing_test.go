package pacing

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

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

func TestAllowedCents(t *testing.T) {
	// Slack 0.25 keeps the arithmetic exact in floating point.
	p := NewController(nil, 0.25)

	midnight := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := p.AllowedCents(1000, midnight); got != 0 {
		t.Errorf("AllowedCents at midnight = %d, want 0", got)
	}

	// 06:00 is 25% through the day: 1000 * 0.25 * 1.25 = 312.5 → 312.
	morning := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	if got := p.AllowedCents(1000, morning); got != 312 {
		t.Errorf("AllowedCents at 06:00 = %d, want 312", got)
	}

	// Noon: 1000 * 0.5 * 1.25 = 625.
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := p.AllowedCents(1000, noon); got != 625 {
		t.Errorf("AllowedCents at noon = %d, want 625", got)
	}
}

func TestAllowedCents_RisesMonotonically(t *testing.T) {
	p := NewController(nil, 0.15)
	var prev int64 = -1
	for hour := 0; hour < 24; hour++ {
		at := time.Date(2025, 6, 1, hour, 0, 0, 0, time.UTC)
		got := p.AllowedCents(100000, at)
		if got < prev {
			t.Fatalf("allowance must never shrink during the day: %d at hour %d after %d", got, hour, prev)
		}
		prev = got
	}
}

func TestMayServe_ThrottlesAheadOfCurve(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()

	l := ledger.New(store)
	p := NewController(l, 0.15)
	c := &models.Campaign{ID: 1, DailyBudgetCents: models.Int64Ptr(1000), Status: models.StatusActive}

	// 10% through the day the allowance is about 115 cents; spend of 200 is
	// well ahead of the curve.
	nowFn = func() time.Time { return time.Date(2025, 6, 1, 2, 24, 0, 0, time.UTC) }
	defer func() { nowFn = time.Now }()

	if err := ms.Set("spend:daily:1:2025-06-01", "200"); err != nil {
		t.Fatalf("failed to set key: %v", err)
	}
	ok, err := p.MayServe(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected throttle when spend is ahead of the curve")
	}

	// By 20% of the day the allowance is about 230 cents and the campaign
	// becomes eligible again without anyone resetting anything.
	nowFn = func() time.Time { return time.Date(2025, 6, 1, 4, 48, 0, 0, time.UTC) }
	ok, err = p.MayServe(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected campaign to become eligible again as the curve rises")
	}
}

func TestMayServe_SpendEqualToAllowanceServes(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()

	l := ledger.New(store)
	p := NewController(l, 0.15)
	c := &models.Campaign{ID: 1, DailyBudgetCents: models.Int64Ptr(1000), Status: models.StatusActive}

	at := time.Date(2025, 6, 1, 2, 24, 0, 0, time.UTC)
	nowFn = func() time.Time { return at }
	defer func() { nowFn = time.Now }()

	allowed := p.AllowedCents(1000, at)
	if err := ms.Set("spend:daily:1:2025-06-01", strconv.FormatInt(allowed, 10)); err != nil {
		t.Fatalf("failed to set key: %v", err)
	}
	ok, err := p.MayServe(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("spend equal to allowance must still serve")
	}

	// One cent past the allowance throttles.
	if err := ms.Set("spend:daily:1:2025-06-01", strconv.FormatInt(allowed+1, 10)); err != nil {
		t.Fatalf("failed to set key: %v", err)
	}
	ok, err = p.MayServe(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("spend past the allowance must throttle")
	}
}

func TestMayServe_NoDailyBudgetNeverThrottled(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()

	l := ledger.New(store)
	p := NewController(l, 0.15)

	// Just past midnight with heavy spend on record; pacing only applies to
	// campaigns that carry a daily budget.
	nowFn = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 1, 0, time.UTC) }
	defer func() { nowFn = time.Now }()

	if err := ms.Set("spend:daily:1:2025-06-01", "999999"); err != nil {
		t.Fatalf("failed to set key: %v", err)
	}
	c := &models.Campaign{ID: 1, Status: models.StatusActive}
	ok, err := p.MayServe(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("campaign without a daily budget must never be pacing throttled")
	}
}

func TestNewController_DefaultSlack(t *testing.T) {
	p := NewController(nil, 0)
	if p.slack != DefaultSlack {
		t.Errorf("expected default slack %v, got %v", DefaultSlack, p.slack)
	}
}
