package models

import (
	"errors"
	"sync/atomic"
)

// ErrNotFound is returned when an entity is not found in the data store.
var ErrNotFound = errors.New("entity not found")

// CampaignStore provides thread-safe access to campaign and placement
// configuration. The allocation hot path only reads; writes happen on the
// periodic reload from Postgres and on status transitions.
type CampaignStore interface {
	// Read operations (hot path)
	GetCampaign(campaignID int) *Campaign
	GetPlacement(slug string) *Placement
	GetCampaignsByPlacement(slug string) []Campaign
	GetAllCampaigns() []Campaign
	GetAllPlacements() []Placement

	// Write operations (reload path)
	SetCampaigns(campaigns []Campaign) error
	SetPlacements(placements []Placement) error
	// ReloadAll swaps campaigns and placements in a single snapshot update.
	ReloadAll(campaigns []Campaign, placements []Placement) error

	// UpdateCampaignStatus transitions a campaign's status. Returns
	// ErrNotFound for an unknown campaign ID.
	UpdateCampaignStatus(campaignID int, status string) error
	// UpdateCampaignSpend refreshes the persisted spend snapshot for a
	// campaign (used by the spend persistence loop).
	UpdateCampaignSpend(campaignID int, spentCents int64) error
}

// storeSnapshot is an immutable snapshot of all campaign data. Readers load
// the pointer once and work against a consistent view.
type storeSnapshot struct {
	campaigns      []Campaign
	campaignIndex  map[int]*Campaign
	byPlacement    map[string][]Campaign
	placements     []Placement
	placementIndex map[string]*Placement
}

func newSnapshot(campaigns []Campaign, placements []Placement) *storeSnapshot {
	snap := &storeSnapshot{
		campaigns:      campaigns,
		campaignIndex:  make(map[int]*Campaign, len(campaigns)),
		byPlacement:    make(map[string][]Campaign),
		placements:     placements,
		placementIndex: make(map[string]*Placement, len(placements)),
	}
	for i := range campaigns {
		c := &snap.campaigns[i]
		snap.campaignIndex[c.ID] = c
		snap.byPlacement[c.PlacementID] = append(snap.byPlacement[c.PlacementID], *c)
	}
	for i := range placements {
		snap.placementIndex[placements[i].Slug] = &snap.placements[i]
	}
	return snap
}

// InMemoryCampaignStore implements CampaignStore with atomic snapshot swaps,
// so hot-path reads never take a lock.
type InMemoryCampaignStore struct {
	data atomic.Pointer[storeSnapshot]
}

// NewInMemoryCampaignStore creates an empty CampaignStore.
func NewInMemoryCampaignStore() *InMemoryCampaignStore {
	s := &InMemoryCampaignStore{}
	s.data.Store(newSnapshot(nil, nil))
	return s
}

// GetCampaign retrieves a campaign by ID.
func (s *InMemoryCampaignStore) GetCampaign(campaignID int) *Campaign {
	if c, ok := s.data.Load().campaignIndex[campaignID]; ok {
		return c
	}
	return nil
}

// GetPlacement retrieves a placement by slug.
func (s *InMemoryCampaignStore) GetPlacement(slug string) *Placement {
	if p, ok := s.data.Load().placementIndex[slug]; ok {
		return p
	}
	return nil
}

// GetCampaignsByPlacement returns copies of all campaigns bid into a
// placement, regardless of status.
func (s *InMemoryCampaignStore) GetCampaignsByPlacement(slug string) []Campaign {
	list := s.data.Load().byPlacement[slug]
	out := make([]Campaign, len(list))
	copy(out, list)
	return out
}

// GetAllCampaigns returns a copy of every campaign.
func (s *InMemoryCampaignStore) GetAllCampaigns() []Campaign {
	data := s.data.Load()
	out := make([]Campaign, len(data.campaigns))
	copy(out, data.campaigns)
	return out
}

// GetAllPlacements returns a copy of every placement.
func (s *InMemoryCampaignStore) GetAllPlacements() []Placement {
	data := s.data.Load()
	out := make([]Placement, len(data.placements))
	copy(out, data.placements)
	return out
}

// SetCampaigns replaces all campaigns, keeping current placements.
func (s *InMemoryCampaignStore) SetCampaigns(campaigns []Campaign) error {
	cur := s.data.Load()
	s.data.Store(newSnapshot(campaigns, cur.placements))
	return nil
}

// SetPlacements replaces all placements, keeping current campaigns.
func (s *InMemoryCampaignStore) SetPlacements(placements []Placement) error {
	cur := s.data.Load()
	s.data.Store(newSnapshot(cur.campaigns, placements))
	return nil
}

// ReloadAll atomically replaces campaigns and placements together.
func (s *InMemoryCampaignStore) ReloadAll(campaigns []Campaign, placements []Placement) error {
	s.data.Store(newSnapshot(campaigns, placements))
	return nil
}

// UpdateCampaignStatus transitions one campaign's status via copy-on-write.
func (s *InMemoryCampaignStore) UpdateCampaignStatus(campaignID int, status string) error {
	return s.mutateCampaign(campaignID, func(c *Campaign) { c.Status = status })
}

// UpdateCampaignSpend refreshes the persisted spend snapshot for a campaign.
func (s *InMemoryCampaignStore) UpdateCampaignSpend(campaignID int, spentCents int64) error {
	return s.mutateCampaign(campaignID, func(c *Campaign) { c.TotalSpentCents = spentCents })
}

func (s *InMemoryCampaignStore) mutateCampaign(campaignID int, fn func(*Campaign)) error {
	cur := s.data.Load()
	if _, ok := cur.campaignIndex[campaignID]; !ok {
		return ErrNotFound
	}
	campaigns := make([]Campaign, len(cur.campaigns))
	copy(campaigns, cur.campaigns)
	for i := range campaigns {
		if campaigns[i].ID == campaignID {
			fn(&campaigns[i])
			break
		}
	}
	s.data.Store(newSnapshot(campaigns, cur.placements))
	return nil
}
