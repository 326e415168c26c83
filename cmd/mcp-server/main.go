package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/allocation"
	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/config"
	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
	"github.com/brokerscout/sponsorserve/internal/pacing"
)

type ListCampaignsInput struct {
	Status string `json:"status,omitempty"` // filter by campaign status
}

type CampaignSummary struct {
	ID              int    `json:"id"`
	BrokerSlug      string `json:"broker_slug"`
	PlacementID     string `json:"placement_id"`
	Status          string `json:"status"`
	RateCents       int64  `json:"rate_cents"`
	DailyBudget     *int64 `json:"daily_budget_cents,omitempty"`
	TotalBudget     *int64 `json:"total_budget_cents,omitempty"`
	TotalSpentCents int64  `json:"total_spent_cents"`
	DailySpentCents int64  `json:"daily_spent_cents"`
}

type ListCampaignsOutput struct {
	Campaigns []CampaignSummary `json:"campaigns"`
}

type PreviewWinnersInput struct {
	PlacementID string `json:"placement_id"`
}

type PreviewWinnersOutput struct {
	PlacementID string              `json:"placement_id"`
	Winners     []allocation.Winner `json:"winners"`
}

type CampaignStatsInput struct {
	CampaignID int    `json:"campaign_id"`
	From       string `json:"from,omitempty"` // YYYY-MM-DD
	To         string `json:"to,omitempty"`   // YYYY-MM-DD, inclusive
}

type CampaignStatsOutput struct {
	CampaignID int                `json:"campaign_id"`
	Days       []models.DailyStat `json:"days"`
}

type SetCampaignStatusInput struct {
	CampaignID int    `json:"campaign_id"`
	Status     string `json:"status"`
}

type SetCampaignStatusOutput struct {
	CampaignID int    `json:"campaign_id"`
	Status     string `json:"status"`
}

// AdminServer holds the dependencies shared by the MCP tools.
type AdminServer struct {
	pg       *db.Postgres
	store    models.CampaignStore
	led      *ledger.Ledger
	selector *allocation.Selector
	logger   *zap.Logger
}

// ListCampaigns returns every campaign with its live spend counters.
func (s *AdminServer) ListCampaigns(ctx context.Context, req *mcp.CallToolRequest, input ListCampaignsInput) (*mcp.CallToolResult, ListCampaignsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var out ListCampaignsOutput
	for _, c := range s.store.GetAllCampaigns() {
		if input.Status != "" && c.Status != input.Status {
			continue
		}
		total, err := s.led.TotalSpent(ctx, c.ID)
		if err != nil {
			s.logger.Warn("Failed to read total spend", zap.Int("campaign_id", c.ID), zap.Error(err))
			total = c.TotalSpentCents
		}
		daily, err := s.led.DailySpent(ctx, c.ID, ledger.Today())
		if err != nil {
			s.logger.Warn("Failed to read daily spend", zap.Int("campaign_id", c.ID), zap.Error(err))
		}
		out.Campaigns = append(out.Campaigns, CampaignSummary{
			ID:              c.ID,
			BrokerSlug:      c.BrokerSlug,
			PlacementID:     c.PlacementID,
			Status:          c.Status,
			RateCents:       c.RateCents,
			DailyBudget:     c.DailyBudgetCents,
			TotalBudget:     c.TotalBudgetCents,
			TotalSpentCents: total,
			DailySpentCents: daily,
		})
	}
	return nil, out, nil
}

// PreviewWinners runs the live allocation for a placement without recording anything.
func (s *AdminServer) PreviewWinners(ctx context.Context, req *mcp.CallToolRequest, input PreviewWinnersInput) (*mcp.CallToolResult, PreviewWinnersOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	winners, err := s.selector.WinnersForPlacement(ctx, input.PlacementID)
	if err != nil {
		return nil, PreviewWinnersOutput{}, fmt.Errorf("preview winners: %w", err)
	}
	return nil, PreviewWinnersOutput{PlacementID: input.PlacementID, Winners: winners}, nil
}

// CampaignStats returns the rolled-up daily stats for a campaign.
func (s *AdminServer) CampaignStats(ctx context.Context, req *mcp.CallToolRequest, input CampaignStatsInput) (*mcp.CallToolResult, CampaignStatsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if input.From != "" {
		t, err := time.Parse("2006-01-02", input.From)
		if err != nil {
			return nil, CampaignStatsOutput{}, fmt.Errorf("invalid from date: %w", err)
		}
		from = t
	}
	if input.To != "" {
		t, err := time.Parse("2006-01-02", input.To)
		if err != nil {
			return nil, CampaignStatsOutput{}, fmt.Errorf("invalid to date: %w", err)
		}
		to = t
	}

	days, err := s.pg.LoadDailyStats(ctx, input.CampaignID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, CampaignStatsOutput{}, fmt.Errorf("load daily stats: %w", err)
	}
	return nil, CampaignStatsOutput{CampaignID: input.CampaignID, Days: days}, nil
}

// SetCampaignStatus pauses or re-activates a campaign.
func (s *AdminServer) SetCampaignStatus(ctx context.Context, req *mcp.CallToolRequest, input SetCampaignStatusInput) (*mcp.CallToolResult, SetCampaignStatusOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch input.Status {
	case models.StatusActive, models.StatusPaused:
	default:
		return nil, SetCampaignStatusOutput{}, fmt.Errorf("status must be %q or %q", models.StatusActive, models.StatusPaused)
	}

	if s.store.GetCampaign(input.CampaignID) == nil {
		return nil, SetCampaignStatusOutput{}, fmt.Errorf("campaign %d: %w", input.CampaignID, models.ErrNotFound)
	}
	if err := s.pg.UpdateCampaignStatus(ctx, input.CampaignID, input.Status); err != nil {
		return nil, SetCampaignStatusOutput{}, fmt.Errorf("persist status: %w", err)
	}
	if err := s.store.UpdateCampaignStatus(input.CampaignID, input.Status); err != nil {
		return nil, SetCampaignStatusOutput{}, fmt.Errorf("update store: %w", err)
	}

	s.logger.Info("Campaign status changed via MCP",
		zap.Int("campaign_id", input.CampaignID),
		zap.String("status", input.Status))

	return nil, SetCampaignStatusOutput{CampaignID: input.CampaignID, Status: input.Status}, nil
}

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pg.Close()

	store := models.NewInMemoryCampaignStore()
	campaigns, err := pg.LoadCampaigns(context.Background())
	if err != nil {
		logger.Fatal("Failed to load campaigns", zap.Error(err))
	}
	placements, err := pg.LoadPlacements(context.Background())
	if err != nil {
		logger.Fatal("Failed to load placements", zap.Error(err))
	}
	if err := store.ReloadAll(campaigns, placements); err != nil {
		logger.Fatal("Failed to populate campaign store", zap.Error(err))
	}
	logger.Info("Loaded data from Postgres",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("placements", len(placements)))

	redisStore, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisStore.Close()

	led := ledger.New(redisStore)
	pacer := pacing.NewController(led, cfg.PacingSlack)
	filter := allocation.NewFilter(led, pacer)
	selector := allocation.NewSelector(store, filter, led, logger, observability.NewNoOpRegistry())

	if _, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns); err != nil {
		logger.Warn("ClickHouse unavailable, stats tools limited to Postgres rollups", zap.Error(err))
	}

	admin := &AdminServer{
		pg:       pg,
		store:    store,
		led:      led,
		selector: selector,
		logger:   logger,
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "sponsorserve",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_campaigns",
		Description: "List sponsorship campaigns with live total and daily spend counters",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"pending_review", "active", "paused", "completed", "rejected"},
					"description": "Only return campaigns in this status (optional)",
				},
			},
		},
	}, admin.ListCampaigns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_winners",
		Description: "Run the live winner selection for a placement without recording events",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"placement_id": map[string]interface{}{
					"type":        "string",
					"description": "Placement slug, e.g. comparison-table",
				},
			},
			"required": []string{"placement_id"},
		},
	}, admin.PreviewWinners)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "campaign_stats",
		Description: "Daily impression, click and spend rollups for a campaign",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"campaign_id": map[string]interface{}{
					"type":        "integer",
					"description": "Campaign ID",
				},
				"from": map[string]interface{}{
					"type":        "string",
					"description": "Start date YYYY-MM-DD (optional, defaults to 30 days ago)",
				},
				"to": map[string]interface{}{
					"type":        "string",
					"description": "End date YYYY-MM-DD inclusive (optional, defaults to today)",
				},
			},
			"required": []string{"campaign_id"},
		},
	}, admin.CampaignStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_campaign_status",
		Description: "Pause or re-activate a campaign",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"campaign_id": map[string]interface{}{
					"type":        "integer",
					"description": "Campaign ID",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"active", "paused"},
					"description": "Target status",
				},
			},
			"required": []string{"campaign_id", "status"},
		},
	}, admin.SetCampaignStatus)

	stdioTransport := &mcp.StdioTransport{}

	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio")

	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
