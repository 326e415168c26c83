package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/middleware"
	"github.com/brokerscout/sponsorserve/internal/models"
)

// allowedTransitions encodes the review workflow: submissions are approved
// or rejected, live campaigns can be paused and resumed, and completed is
// terminal (the ledger drives that transition, not this endpoint).
var allowedTransitions = map[string]map[string]bool{
	models.StatusPendingReview: {models.StatusActive: true, models.StatusRejected: true},
	models.StatusActive:        {models.StatusPaused: true, models.StatusCompleted: true},
	models.StatusPaused:        {models.StatusActive: true, models.StatusCompleted: true},
}

type statusRequest struct {
	Status string `json:"status"`
}

// CampaignStatusHandler handles PUT /v1/campaigns/{id}/status, the only
// externally-triggered campaign mutation. Spend state is untouched.
func (s *Server) CampaignStatusHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "/v1/campaigns/{id}/status"
	const method = "PUT"

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	campaign := s.CampaignStore.GetCampaign(id)
	if campaign == nil {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown campaign", http.StatusNotFound)
		return
	}
	if !allowedTransitions[campaign.Status][req.Status] {
		s.Metrics.IncrementRequests(endpoint, method, "409")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "transition not allowed", http.StatusConflict)
		return
	}

	if s.PG != nil {
		if err := s.PG.UpdateCampaignStatus(r.Context(), id, req.Status); err != nil {
			logger.Error("status persist", zap.Error(err), zap.Int("campaign_id", id))
			s.Metrics.IncrementRequests(endpoint, method, "500")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			http.Error(w, "status update failed", http.StatusInternalServerError)
			return
		}
	}
	if err := s.CampaignStore.UpdateCampaignStatus(id, req.Status); err != nil {
		logger.Error("status update", zap.Error(err), zap.Int("campaign_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "status update failed", http.StatusInternalServerError)
		return
	}

	logger.Info("campaign status changed",
		zap.Int("campaign_id", id),
		zap.String("from", campaign.Status),
		zap.String("to", req.Status))
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}
