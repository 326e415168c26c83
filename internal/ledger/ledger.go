// Package ledger is the single source of truth for campaign spend. All
// budget mutations go through Reserve, which performs the guard and the
// increment in one Redis script invocation so two concurrent clicks can never
// jointly overspend a budget. Counters are kept in Redis: a lifetime total
// per campaign and a per-UTC-day total used for daily caps and pacing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/models"
)

// Denial reasons. These are expected outcomes of admission control, not
// faults: callers exclude the campaign and move on, never retry.
var (
	// ErrBudgetExhausted means the reservation would push lifetime spend past
	// the campaign's total budget.
	ErrBudgetExhausted = errors.New("campaign total budget exhausted")
	// ErrDailyCapReached means the reservation would push today's spend past
	// the campaign's daily budget.
	ErrDailyCapReached = errors.New("campaign daily budget reached")
	// ErrNilRedisStore is returned when the RedisStore is nil or uninitialized.
	ErrNilRedisStore = errors.New("redis store is nil")
)

// nowFn is used to get the current time. In production it's time.Now,
// but in tests we can replace it to simulate different times of day.
var nowFn = time.Now

// dailyKeyTTL keeps yesterday's counter around long enough for midnight
// stragglers before Redis reclaims it.
const dailyKeyTTL = 48 * time.Hour

// reserveScript checks both budget guards and increments both counters in a
// single atomic invocation. Returns {status, total, daily} where status is
// 0 on success, -1 for total budget exhausted, -2 for daily cap reached.
var reserveScript = redis.NewScript(`
local total = tonumber(redis.call('GET', KEYS[1]) or '0')
local daily = tonumber(redis.call('GET', KEYS[2]) or '0')
local cents = tonumber(ARGV[1])
local totalBudget = tonumber(ARGV[2])
local dailyBudget = tonumber(ARGV[3])
if totalBudget >= 0 and total + cents > totalBudget then
  return {-1, total, daily}
end
if dailyBudget >= 0 and daily + cents > dailyBudget then
  return {-2, total, daily}
end
total = redis.call('INCRBY', KEYS[1], cents)
daily = redis.call('INCRBY', KEYS[2], cents)
if daily == cents then
  redis.call('EXPIRE', KEYS[2], ARGV[4])
end
return {0, total, daily}
`)

// releaseScript rolls a reservation back without letting either counter go
// negative (the daily key may have expired between reserve and release).
var releaseScript = redis.NewScript(`
local function dec(key, cents)
  local cur = tonumber(redis.call('GET', key) or '0')
  if cur < cents then
    cents = cur
  end
  if cents > 0 then
    redis.call('DECRBY', key, cents)
  end
end
dec(KEYS[1], tonumber(ARGV[1]))
dec(KEYS[2], tonumber(ARGV[1]))
return 1
`)

// Reservation is an accepted debit. It stands unless Release is called.
type Reservation struct {
	CampaignID int
	Cents      int64
	Day        string
	// NewTotalCents is the lifetime spend after this reservation, used by
	// callers to detect budget completion.
	NewTotalCents int64
}

// Ledger tracks campaign spend against total and daily budgets.
type Ledger struct {
	store *db.RedisStore
}

// New constructs a Ledger over the given Redis store.
func New(store *db.RedisStore) *Ledger {
	return &Ledger{store: store}
}

func totalKey(campaignID int) string {
	return fmt.Sprintf("spend:total:%d", campaignID)
}

func dailyKey(campaignID int, day string) string {
	return fmt.Sprintf("spend:daily:%d:%s", campaignID, day)
}

// Today returns the current UTC day key used for daily counters.
func Today() string {
	return nowFn().UTC().Format("2006-01-02")
}

// SeedTotal initializes the lifetime counter from the persisted snapshot at
// boot. SETNX so a live counter is never clobbered by a restart.
func (l *Ledger) SeedTotal(ctx context.Context, campaignID int, spentCents int64) error {
	if l == nil || l.store == nil || l.store.Client == nil {
		return ErrNilRedisStore
	}
	return l.store.Client.SetNX(ctx, totalKey(campaignID), spentCents, 0).Err()
}

// Reserve attempts an atomic debit of cents against the campaign's budgets.
// On denial the counters are untouched and one of ErrBudgetExhausted or
// ErrDailyCapReached is returned. A budget of nil means unlimited.
func (l *Ledger) Reserve(ctx context.Context, c *models.Campaign, cents int64) (Reservation, error) {
	if l == nil || l.store == nil || l.store.Client == nil {
		return Reservation{}, ErrNilRedisStore
	}
	if c == nil {
		return Reservation{}, models.ErrNotFound
	}

	totalBudget := int64(-1)
	if c.TotalBudgetCents != nil {
		totalBudget = *c.TotalBudgetCents
	}
	dailyBudget := int64(-1)
	if c.DailyBudgetCents != nil {
		dailyBudget = *c.DailyBudgetCents
	}

	day := Today()
	res, err := reserveScript.Run(ctx, l.store.Client,
		[]string{totalKey(c.ID), dailyKey(c.ID, day)},
		cents, totalBudget, dailyBudget, int64(dailyKeyTTL.Seconds())).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("ledger reserve: %w", err)
	}
	if len(res) != 3 {
		return Reservation{}, fmt.Errorf("ledger reserve: unexpected script reply %v", res)
	}

	switch res[0] {
	case 0:
		return Reservation{CampaignID: c.ID, Cents: cents, Day: day, NewTotalCents: res[1]}, nil
	case -1:
		return Reservation{}, ErrBudgetExhausted
	case -2:
		return Reservation{}, ErrDailyCapReached
	default:
		return Reservation{}, fmt.Errorf("ledger reserve: unknown status %d", res[0])
	}
}

// Release rolls back a reservation, e.g. when a click is later found to be
// invalid. Releasing twice is a caller bug; the counters clamp at zero.
func (l *Ledger) Release(ctx context.Context, r Reservation) error {
	if l == nil || l.store == nil || l.store.Client == nil {
		return ErrNilRedisStore
	}
	if r.Cents <= 0 {
		return nil
	}
	err := releaseScript.Run(ctx, l.store.Client,
		[]string{totalKey(r.CampaignID), dailyKey(r.CampaignID, r.Day)},
		r.Cents).Err()
	if err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

// TotalSpent returns the campaign's live lifetime spend.
func (l *Ledger) TotalSpent(ctx context.Context, campaignID int) (int64, error) {
	if l == nil || l.store == nil || l.store.Client == nil {
		return 0, ErrNilRedisStore
	}
	v, err := l.store.Client.Get(ctx, totalKey(campaignID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// DailySpent returns the campaign's live spend for the given UTC day key.
func (l *Ledger) DailySpent(ctx context.Context, campaignID int, day string) (int64, error) {
	if l == nil || l.store == nil || l.store.Client == nil {
		return 0, ErrNilRedisStore
	}
	v, err := l.store.Client.Get(ctx, dailyKey(campaignID, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// HasBudgetFor is the optimistic eligibility probe: it checks the guards
// against current counters without committing anything. A later Reserve may
// still be denied; that race is closed by Reserve itself.
//
// The lifetime guard only asks whether any wallet room remains. A campaign
// whose remainder cannot cover a full click still competes; the denied
// reservation on that click retires it. The daily guard requires room for
// the whole debit, since the day's cap resets on its own.
func (l *Ledger) HasBudgetFor(ctx context.Context, c *models.Campaign, cents int64) (bool, error) {
	if c == nil {
		return false, models.ErrNotFound
	}
	total, err := l.TotalSpent(ctx, c.ID)
	if err != nil {
		return false, err
	}
	if c.TotalBudgetCents != nil && total >= *c.TotalBudgetCents {
		return false, nil
	}
	if c.DailyBudgetCents != nil {
		daily, err := l.DailySpent(ctx, c.ID, Today())
		if err != nil {
			return false, err
		}
		if daily+cents > *c.DailyBudgetCents {
			return false, nil
		}
	}
	return true, nil
}

// ChargeFeaturedPeriod records the flat periodic fee for a featured campaign,
// at most once per (campaign, period). Returns true when a charge was made.
// The period mark is taken first; if the wallet reservation is then denied
// the mark is removed so a topped-up budget can be charged later.
func (l *Ledger) ChargeFeaturedPeriod(ctx context.Context, c *models.Campaign, periodKey string) (bool, error) {
	if l == nil || l.store == nil || l.store.Client == nil {
		return false, ErrNilRedisStore
	}
	if c == nil {
		return false, models.ErrNotFound
	}

	markKey := fmt.Sprintf("billed:featured:%d:%s", c.ID, periodKey)
	set, err := l.store.Client.SetNX(ctx, markKey, nowFn().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, fmt.Errorf("featured billing mark: %w", err)
	}
	if !set {
		return false, nil
	}

	// Featured fees count only against the total budget wallet; mask the
	// daily cap for this reservation.
	charge := *c
	charge.DailyBudgetCents = nil
	if _, err := l.Reserve(ctx, &charge, c.RateCents); err != nil {
		if delErr := l.store.Client.Del(ctx, markKey).Err(); delErr != nil {
			zap.L().Error("featured billing mark rollback", zap.Error(delErr), zap.Int("campaign_id", c.ID))
		}
		return false, err
	}
	return true, nil
}

// DenialReason maps a ledger error to a short label for metrics and logs.
func DenialReason(err error) string {
	switch {
	case errors.Is(err, ErrBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, ErrDailyCapReached):
		return "daily_cap_hit"
	default:
		return "error"
	}
}
