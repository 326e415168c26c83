package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/allocation"
	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/api"
	"github.com/brokerscout/sponsorserve/internal/config"
	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/events"
	"github.com/brokerscout/sponsorserve/internal/ledger"
	"github.com/brokerscout/sponsorserve/internal/middleware"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
	"github.com/brokerscout/sponsorserve/internal/pacing"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TracingEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	campaignStore := models.NewInMemoryCampaignStore()
	if err := reload(ctx, pg, campaignStore); err != nil {
		return fmt.Errorf("load campaign data: %w", err)
	}

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	eventStore, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	defer eventStore.Close()

	led := ledger.New(store)
	// Seed live counters from the persisted spend snapshots so a cold Redis
	// does not reopen exhausted budgets.
	for _, c := range campaignStore.GetAllCampaigns() {
		if err := led.SeedTotal(ctx, c.ID, c.TotalSpentCents); err != nil {
			return fmt.Errorf("seed ledger for campaign %d: %w", c.ID, err)
		}
	}

	pacer := pacing.NewController(led, cfg.PacingSlack)
	filter := allocation.NewFilter(led, pacer)
	selector := allocation.NewSelector(campaignStore, filter, led, logger, metricsRegistry)
	recorder := events.NewRecorder(campaignStore, store, led, eventStore, pg, logger, metricsRegistry)
	rollup := events.NewRollup(eventStore, pg, logger, metricsRegistry)

	srvDeps := api.NewServer(logger, store, pg, campaignStore, selector, recorder, eventStore, metricsRegistry, cfg)

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(logger))
	r.HandleFunc("/v1/placements/{slug}/winners", srvDeps.WinnersHandler).Methods("GET")
	r.HandleFunc("/v1/events", srvDeps.EventHandler).Methods("POST")
	r.HandleFunc("/v1/reports/attribution", srvDeps.AttributionReportHandler).Methods("GET")
	r.HandleFunc("/v1/campaigns/{id}/stats", srvDeps.CampaignStatsHandler).Methods("GET")
	r.HandleFunc("/v1/campaigns/{id}/status", srvDeps.CampaignStatusHandler).Methods("PUT")
	r.HandleFunc("/healthz", srvDeps.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, "sponsorserve"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Sponsorserve running", zap.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if cfg.ReloadInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.ReloadInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := reload(ctx, pg, campaignStore); err != nil {
						logger.Error("auto reload", zap.Error(err))
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if cfg.SpendPersistInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SpendPersistInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					recorder.PersistSpend(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if cfg.RollupInterval > 0 {
		go rollup.Run(ctx, cfg.RollupInterval)
	}
	if cfg.FeaturedBillingInterval > 0 {
		go recorder.RunFeaturedBilling(ctx, cfg.FeaturedBillingInterval, cfg.FeaturedBillingPeriod)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Flush spend one last time so the snapshot is at most seconds stale.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recorder.PersistSpend(flushCtx)

	if err := srv.Shutdown(flushCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// reload refreshes campaign and placement config from Postgres in one
// snapshot swap.
func reload(ctx context.Context, pg *db.Postgres, store models.CampaignStore) error {
	campaigns, err := pg.LoadCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}
	placements, err := pg.LoadPlacements(ctx)
	if err != nil {
		return fmt.Errorf("load placements: %w", err)
	}
	return store.ReloadAll(campaigns, placements)
}
