package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/allocation"
	"github.com/brokerscout/sponsorserve/internal/middleware"
)

// winnersResponse is the payload consumed by the page renderers. Winners are
// in rank order; an empty list means the page falls back to organic ranking.
type winnersResponse struct {
	Placement string              `json:"placement"`
	Winners   []allocation.Winner `json:"winners"`
}

// WinnersHandler handles GET /v1/placements/{slug}/winners. The decision is
// bounded by the allocation timeout; on expiry the response is an empty
// winner list, never an error, so sponsored placement can never block a page
// render.
func (s *Server) WinnersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "WinnersHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/v1/placements/{slug}/winners"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "/v1/placements/{slug}/winners"
	const method = "GET"

	slug := mux.Vars(r)["slug"]
	span.SetAttributes(attribute.String("placement", slug))

	ctx, cancel := context.WithTimeout(ctx, s.Config.AllocationTimeout)
	defer cancel()

	winners, err := s.Selector.WinnersForPlacement(ctx, slug)
	if err != nil {
		if errors.Is(err, allocation.ErrUnknownPlacement) {
			s.Metrics.IncrementRequests(endpoint, method, "404")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "unknown placement", http.StatusNotFound)
			return
		}
		// Fail open: an allocation fault degrades to organic ranking.
		logger.Warn("winner selection failed", zap.String("placement", slug), zap.Error(err))
		winners = nil
	}
	if ctx.Err() != nil {
		logger.Warn("winner selection timed out", zap.String("placement", slug))
		winners = nil
	}

	if winners == nil {
		winners = []allocation.Winner{}
	}
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.writeJSON(w, http.StatusOK, winnersResponse{Placement: slug, Winners: winners})
}
