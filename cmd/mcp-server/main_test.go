package main

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/allocation"
	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
	"github.com/brokerscout/sponsorserve/internal/pacing"
)

func newTestAdminServer(t *testing.T) (*AdminServer, *miniredis.Miniredis) {
	ms, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(ms.Close)

	rs := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: ms.Addr()}),
		Ctx:    context.Background(),
	}
	store := models.NewTestCampaignStore(
		[]models.Campaign{
			{ID: 1, BrokerSlug: "broker-a", PlacementID: "compare-top", RateCents: 500, Status: models.StatusActive},
			{ID: 2, BrokerSlug: "broker-b", PlacementID: "compare-top", RateCents: 300, Status: models.StatusPaused},
		},
		[]models.Placement{
			{Slug: "compare-top", InventoryType: models.InventoryCPC, MaxSlots: 2, IsActive: true},
		},
	)
	led := ledger.New(rs)
	filter := allocation.NewFilter(led, pacing.NewController(led, pacing.DefaultSlack))
	selector := allocation.NewSelector(store, filter, led, zap.NewNop(), observability.NewNoOpRegistry())

	return &AdminServer{
		store:    store,
		led:      led,
		selector: selector,
		logger:   zap.NewNop(),
	}, ms
}

func TestListCampaigns_IncludesLiveSpend(t *testing.T) {
	admin, ms := newTestAdminServer(t)
	if err := ms.Set("spend:total:1", "4200"); err != nil {
		t.Fatalf("failed to set key: %v", err)
	}

	_, out, err := admin.ListCampaigns(context.Background(), nil, ListCampaignsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Campaigns) != 2 {
		t.Fatalf("expected 2 campaigns, got %d", len(out.Campaigns))
	}
	if out.Campaigns[0].TotalSpentCents != 4200 {
		t.Errorf("campaign 1 live spend = %d, want 4200", out.Campaigns[0].TotalSpentCents)
	}
}

func TestListCampaigns_FiltersByStatus(t *testing.T) {
	admin, _ := newTestAdminServer(t)

	_, out, err := admin.ListCampaigns(context.Background(), nil, ListCampaignsInput{Status: models.StatusPaused})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Campaigns) != 1 || out.Campaigns[0].ID != 2 {
		t.Fatalf("campaigns = %+v", out.Campaigns)
	}
}

func TestPreviewWinners(t *testing.T) {
	admin, _ := newTestAdminServer(t)

	_, out, err := admin.PreviewWinners(context.Background(), nil, PreviewWinnersInput{PlacementID: "compare-top"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only the active campaign wins a slot.
	if len(out.Winners) != 1 || out.Winners[0].CampaignID != 1 {
		t.Fatalf("winners = %+v", out.Winners)
	}
}

func TestSetCampaignStatus_UnknownCampaign(t *testing.T) {
	admin, _ := newTestAdminServer(t)

	_, _, err := admin.SetCampaignStatus(context.Background(), nil, SetCampaignStatusInput{CampaignID: 99, Status: models.StatusPaused})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown campaign, got %v", err)
	}
}

func TestSetCampaignStatus_RejectsUnknownStatus(t *testing.T) {
	admin, _ := newTestAdminServer(t)

	_, _, err := admin.SetCampaignStatus(context.Background(), nil, SetCampaignStatusInput{CampaignID: 1, Status: "rejected"})
	if err == nil {
		t.Fatal("only pause/activate are allowed through this tool")
	}
}
