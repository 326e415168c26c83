// Package api exposes the allocation subsystem over HTTP: winner decisions
// for page renderers, the event beacon endpoint, and read-only reporting.
package api

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/allocation"
	"github.com/brokerscout/sponsorserve/internal/analytics"
	"github.com/brokerscout/sponsorserve/internal/config"
	"github.com/brokerscout/sponsorserve/internal/db"
	"github.com/brokerscout/sponsorserve/internal/events"
	"github.com/brokerscout/sponsorserve/internal/models"
	"github.com/brokerscout/sponsorserve/internal/observability"
)

var tracer = otel.Tracer("sponsorserve/api")

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger        *zap.Logger
	Store         *db.RedisStore
	PG            *db.Postgres
	CampaignStore models.CampaignStore
	Selector      *allocation.Selector
	Recorder      *events.Recorder
	Analytics     analytics.EventStore
	Metrics       observability.MetricsRegistry
	Config        config.Config
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, store *db.RedisStore, pg *db.Postgres, campaignStore models.CampaignStore, selector *allocation.Selector, recorder *events.Recorder, es analytics.EventStore, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Logger:        logger,
		Store:         store,
		PG:            pg,
		CampaignStore: campaignStore,
		Selector:      selector,
		Recorder:      recorder,
		Analytics:     es,
		Metrics:       metrics,
		Config:        cfg,
	}
}

// writeJSON encodes v with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode", zap.Error(err))
	}
}
