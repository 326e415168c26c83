package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS placements (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    inventory_type TEXT NOT NULL,
    max_slots INT NOT NULL DEFAULT 1,
    base_rate_cents BIGINT NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS campaigns (
    id SERIAL PRIMARY KEY,
    broker_slug TEXT NOT NULL,
    placement_id TEXT NOT NULL REFERENCES placements(slug),
    rate_cents BIGINT NOT NULL,
    daily_budget_cents BIGINT NULL,
    total_budget_cents BIGINT NULL,
    total_spent_cents BIGINT NOT NULL DEFAULT 0,
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP NULL,
    status TEXT NOT NULL DEFAULT 'pending_review'
);

CREATE TABLE IF NOT EXISTS daily_stats (
    campaign_id INT NOT NULL REFERENCES campaigns(id),
    stat_date DATE NOT NULL,
    impressions BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0,
    conversions BIGINT NOT NULL DEFAULT 0,
    spend_cents BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (campaign_id, stat_date)
);

-- Serve-path lookups go through the in-memory store; these indexes cover the
-- reload query and reporting reads.
CREATE INDEX IF NOT EXISTS idx_campaigns_placement_status ON campaigns (placement_id, status);
CREATE INDEX IF NOT EXISTS idx_daily_stats_date ON daily_stats (stat_date);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadCampaigns retrieves all campaigns from the database. The store keeps
// every status so admin surfaces can see paused and completed campaigns; the
// eligibility filter narrows to active ones at serve time.
func (p *Postgres) LoadCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, broker_slug, placement_id, rate_cents, daily_budget_cents, total_budget_cents, total_spent_cents, start_date, end_date, status FROM campaigns`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		var daily, total sql.NullInt64
		var end sql.NullTime
		if err := rows.Scan(&c.ID, &c.BrokerSlug, &c.PlacementID, &c.RateCents, &daily, &total, &c.TotalSpentCents, &c.StartDate, &end, &c.Status); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if daily.Valid {
			v := daily.Int64
			c.DailyBudgetCents = &v
		}
		if total.Valid {
			v := total.Int64
			c.TotalBudgetCents = &v
		}
		if end.Valid {
			c.EndDate = end.Time
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// LoadPlacements retrieves all placements from the database.
func (p *Postgres) LoadPlacements(ctx context.Context) ([]models.Placement, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, name, inventory_type, max_slots, base_rate_cents, is_active FROM placements`)
	if err != nil {
		return nil, fmt.Errorf("query placements: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var placements []models.Placement
	for rows.Next() {
		var pl models.Placement
		if err := rows.Scan(&pl.Slug, &pl.Name, &pl.InventoryType, &pl.MaxSlots, &pl.BaseRateCents, &pl.IsActive); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		placements = append(placements, pl)
	}
	return placements, rows.Err()
}

// UpdateCampaignSpend writes the ledger's live total back to the campaign
// row. Spend only moves forward; GREATEST guards against overwriting a newer
// value with a stale snapshot.
func (p *Postgres) UpdateCampaignSpend(ctx context.Context, campaignID int, spentCents int64) error {
	_, err := p.DB.ExecContext(ctx, `UPDATE campaigns SET total_spent_cents = GREATEST(total_spent_cents, $2) WHERE id = $1`, campaignID, spentCents)
	if err != nil {
		return fmt.Errorf("update campaign spend: %w", err)
	}
	return nil
}

// UpdateCampaignStatus persists a status transition.
func (p *Postgres) UpdateCampaignStatus(ctx context.Context, campaignID int, status string) error {
	res, err := p.DB.ExecContext(ctx, `UPDATE campaigns SET status = $2 WHERE id = $1`, campaignID, status)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AddDailyStat folds one event into the campaign's daily_stats row. The
// counters are additive; idempotency comes from the event store deduplicating
// first.
func (p *Postgres) AddDailyStat(ctx context.Context, campaignID int, statDate time.Time, impressions, clicks, costCents int64) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO daily_stats (campaign_id, stat_date, impressions, clicks, spend_cents)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (campaign_id, stat_date)
DO UPDATE SET impressions = daily_stats.impressions + EXCLUDED.impressions,
              clicks = daily_stats.clicks + EXCLUDED.clicks,
              spend_cents = daily_stats.spend_cents + EXCLUDED.spend_cents`,
		campaignID, statDate.Format("2006-01-02"), impressions, clicks, costCents)
	if err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

// ReplaceDailyStats overwrites one day's rollup rows with recomputed values
// from the event log. Used by the replay recovery path.
func (p *Postgres) ReplaceDailyStats(ctx context.Context, statDate time.Time, stats []models.DailyStat) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace daily stats: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	day := statDate.Format("2006-01-02")
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_stats WHERE stat_date = $1`, day); err != nil {
		return fmt.Errorf("clear daily stats: %w", err)
	}
	for _, s := range stats {
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_stats (campaign_id, stat_date, impressions, clicks, conversions, spend_cents) VALUES ($1, $2, $3, $4, $5, $6)`,
			s.CampaignID, day, s.Impressions, s.Clicks, s.Conversions, s.SpendCents); err != nil {
			return fmt.Errorf("insert daily stat: %w", err)
		}
	}
	return tx.Commit()
}

// LoadDailyStats returns rollup rows for one campaign in [from, to].
func (p *Postgres) LoadDailyStats(ctx context.Context, campaignID int, from, to time.Time) ([]models.DailyStat, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT campaign_id, stat_date, impressions, clicks, conversions, spend_cents FROM daily_stats WHERE campaign_id = $1 AND stat_date BETWEEN $2 AND $3 ORDER BY stat_date`,
		campaignID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var stats []models.DailyStat
	for rows.Next() {
		var s models.DailyStat
		if err := rows.Scan(&s.CampaignID, &s.StatDate, &s.Impressions, &s.Clicks, &s.Conversions, &s.SpendCents); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
