package models

// NewTestCampaignStore creates a CampaignStore pre-populated for tests.
func NewTestCampaignStore(campaigns []Campaign, placements []Placement) *InMemoryCampaignStore {
	s := NewInMemoryCampaignStore()
	_ = s.ReloadAll(campaigns, placements)
	return s
}

// Int64Ptr returns a pointer to v. Convenience for nullable budget fields in
// test fixtures.
func Int64Ptr(v int64) *int64 { return &v }
