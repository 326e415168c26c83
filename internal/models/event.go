package models

import "time"

// Event types recorded against campaigns.
const (
	EventImpression = "impression"
	EventClick      = "click"
)

// CampaignEvent is an immutable observed fact: a sponsored unit was shown or
// clicked. EventID is the caller-supplied idempotency key; duplicate
// deliveries of the same logical event carry the same EventID and are
// deduplicated by the recorder. Events are append-only.
type CampaignEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	CampaignID  int       `json:"campaign_id"`
	PlacementID string    `json:"placement_id"`
	Page        string    `json:"page"`
	DeviceType  string    `json:"device_type"`
	// CostCents is resolved by the recorder: zero for impressions and for
	// featured campaigns, the campaign rate for an accepted cpc click, zero
	// for a click denied by the ledger (stored for audit only).
	CostCents  int64     `json:"cost_cents"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DailyStat is one reporting row per campaign per UTC day, derived entirely
// from the deduplicated event log and regenerable by replay. The allocation
// path never reads it; live budget state comes from the ledger.
type DailyStat struct {
	CampaignID  int       `json:"campaign_id"`
	StatDate    time.Time `json:"stat_date"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	SpendCents  int64     `json:"spend_cents"`
}
