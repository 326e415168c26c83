// Package analytics is the append-only event log and the read side of
// attribution reporting. Events land in ClickHouse after the recorder has
// deduplicated them, so the table itself is plain append-only MergeTree and
// every aggregate over it is safe to recompute at any time.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/brokerscout/sponsorserve/internal/models"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// EventStore abstracts the event log. The ClickHouse implementation is used
// in production; tests use the in-memory MemStore.
type EventStore interface {
	// InsertEvent appends one deduplicated event.
	InsertEvent(ctx context.Context, ev models.CampaignEvent) error
	// EventsForDay returns every event that occurred on the given UTC day,
	// used by the rollup replay recovery path.
	EventsForDay(ctx context.Context, day time.Time) ([]models.CampaignEvent, error)
	// AttributionReport aggregates events grouped by page, device type or
	// placement over [from, to].
	AttributionReport(ctx context.Context, from, to time.Time, groupBy string) ([]AttributionRow, error)
}

// AttributionRow is one line of the attribution report.
type AttributionRow struct {
	Key         string `json:"key"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	SpendCents  int64  `json:"spend_cents"`
}

// groupByColumns whitelists the report dimensions. Keys are API values,
// values are ClickHouse columns.
var groupByColumns = map[string]string{
	"page":      "page",
	"device":    "device_type",
	"placement": "placement_id",
}

// ClickHouse wraps the ClickHouse connection.
type ClickHouse struct {
	DB *sql.DB
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns int) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS campaign_events (
       event_id     String,
       event_type   String,
       campaign_id  Int32,
       placement_id String,
       page         String,
       device_type  String,
       cost_cents   Int64,
       occurred_at  DateTime
   ) ENGINE=MergeTree() ORDER BY (occurred_at, campaign_id)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &ClickHouse{DB: db}, nil
}

// Close shuts down the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// InsertEvent appends one event row.
func (c *ClickHouse) InsertEvent(ctx context.Context, ev models.CampaignEvent) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO campaign_events (event_id, event_type, campaign_id, placement_id, page, device_type, cost_cents, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.EventType, int32(ev.CampaignID), ev.PlacementID, ev.Page, ev.DeviceType, ev.CostCents, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsForDay returns all events for one UTC day.
func (c *ClickHouse) EventsForDay(ctx context.Context, day time.Time) ([]models.CampaignEvent, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	rows, err := c.DB.QueryContext(ctx,
		`SELECT event_id, event_type, campaign_id, placement_id, page, device_type, cost_cents, occurred_at FROM campaign_events WHERE occurred_at >= ? AND occurred_at < ?`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []models.CampaignEvent
	for rows.Next() {
		var ev models.CampaignEvent
		var campaignID int32
		if err := rows.Scan(&ev.EventID, &ev.EventType, &campaignID, &ev.PlacementID, &ev.Page, &ev.DeviceType, &ev.CostCents, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CampaignID = int(campaignID)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AttributionReport aggregates by the requested dimension. Unknown
// dimensions return an error rather than interpolating into SQL.
func (c *ClickHouse) AttributionReport(ctx context.Context, from, to time.Time, groupBy string) ([]AttributionRow, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	col, ok := groupByColumns[groupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported group_by %q", groupBy)
	}

	query := fmt.Sprintf(`SELECT %s,
       countIf(event_type = 'impression'),
       countIf(event_type = 'click'),
       sum(cost_cents)
   FROM campaign_events
   WHERE occurred_at >= ? AND occurred_at < ?
   GROUP BY %s
   ORDER BY %s`, col, col, col)

	rows, err := c.DB.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("attribution query: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []AttributionRow
	for rows.Next() {
		var r AttributionRow
		if err := rows.Scan(&r.Key, &r.Impressions, &r.Clicks, &r.SpendCents); err != nil {
			return nil, fmt.Errorf("scan attribution row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
