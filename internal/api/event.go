package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avct/uasurfer"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/events"
	"github.com/brokerscout/sponsorserve/internal/middleware"
	"github.com/brokerscout/sponsorserve/internal/models"
)

// eventRequest is the beacon payload. EventID is the caller's idempotency
// key; when the beacon cannot supply one (legacy pixels) the server assigns
// a UUID, which forfeits dedup across retries for that delivery only.
type eventRequest struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	CampaignID  int       `json:"campaign_id"`
	PlacementID string    `json:"placement_id"`
	Page        string    `json:"page"`
	DeviceType  string    `json:"device_type"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// deviceTypeFromUA classifies the client device when the payload does not
// carry an explicit device_type.
func deviceTypeFromUA(uaString string) string {
	u := uasurfer.Parse(uaString)
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	default:
		return "other"
	}
}

// EventHandler handles POST /v1/events beacon requests.
func (s *Server) EventHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "EventHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/v1/events"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "/v1/events"
	const method = "POST"

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}
	if req.DeviceType == "" {
		req.DeviceType = deviceTypeFromUA(r.UserAgent())
	}

	span.SetAttributes(
		attribute.String("event_id", req.EventID),
		attribute.String("event_type", req.EventType),
		attribute.Int("campaign_id", req.CampaignID),
	)

	result, err := s.Recorder.Record(ctx, models.CampaignEvent{
		EventID:     req.EventID,
		EventType:   req.EventType,
		CampaignID:  req.CampaignID,
		PlacementID: req.PlacementID,
		Page:        req.Page,
		DeviceType:  req.DeviceType,
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, events.ErrInvalidEvent):
			s.Metrics.IncrementRequests(endpoint, method, "400")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "invalid event", http.StatusBadRequest)
		case errors.Is(err, events.ErrUnknownCampaign), errors.Is(err, events.ErrUnknownPlacement):
			// Upstream data-integrity problem; already counted and logged by
			// the recorder for alerting.
			s.Metrics.IncrementRequests(endpoint, method, "422")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "record failed")
			logger.Error("event record", zap.Error(err), zap.String("event_id", req.EventID))
			s.Metrics.IncrementRequests(endpoint, method, "500")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "record failed", http.StatusInternalServerError)
		}
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.writeJSON(w, http.StatusOK, result)
}
