package models

// Inventory types define how campaigns in a placement are billed.
const (
	// InventoryCPC placements charge the campaign its bid on every click.
	InventoryCPC = "cpc"
	// InventoryFeatured placements charge a flat fee once per billing period
	// regardless of clicks; impressions and clicks cost nothing.
	InventoryFeatured = "featured"
)

// Placement is a named sponsored slot type on the site, such as the top row
// of the compare table or the boost position in quiz results. Placements are
// edited only through admin tooling and are immutable during a request.
type Placement struct {
	// Slug identifies the placement in serve requests (e.g. "compare-top",
	// "quiz-boost").
	Slug string `json:"slug"`
	Name string `json:"name"`
	// InventoryType is one of InventoryCPC or InventoryFeatured.
	InventoryType string `json:"inventory_type"`
	// MaxSlots is how many campaigns may win this placement per request.
	// Always at least 1.
	MaxSlots int `json:"max_slots"`
	// BaseRateCents is the minimum accepted campaign rate.
	BaseRateCents int64 `json:"base_rate_cents"`
	IsActive      bool  `json:"is_active"`
}
