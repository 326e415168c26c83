package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/brokerscout/sponsorserve/internal/middleware"
)

// AttributionReportHandler handles GET /v1/reports/attribution. Query
// parameters: from, to (YYYY-MM-DD, to-exclusive defaults to tomorrow) and
// group_by (page|device|placement, default page). This is a pure read over
// the event log, off the allocation hot path.
func (s *Server) AttributionReportHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "/v1/reports/attribution"
	const method = "GET"

	if s.Analytics == nil {
		s.Metrics.IncrementRequests(endpoint, method, "503")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "analytics unavailable", http.StatusServiceUnavailable)
		return
	}

	from, to, ok := parseDateRange(r)
	if !ok {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid date range", http.StatusBadRequest)
		return
	}
	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = "page"
	}

	rows, err := s.Analytics.AttributionReport(r.Context(), from, to, groupBy)
	if err != nil {
		logger.Error("attribution report", zap.Error(err), zap.String("group_by", groupBy))
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "report failed", http.StatusBadRequest)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.writeJSON(w, http.StatusOK, rows)
}

// CampaignStatsHandler handles GET /v1/campaigns/{id}/stats, returning the
// campaign's daily rollup rows for the requested range.
func (s *Server) CampaignStatsHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "/v1/campaigns/{id}/stats"
	const method = "GET"

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	if s.CampaignStore.GetCampaign(id) == nil {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "unknown campaign", http.StatusNotFound)
		return
	}

	from, to, ok := parseDateRange(r)
	if !ok {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid date range", http.StatusBadRequest)
		return
	}

	stats, err := s.PG.LoadDailyStats(r.Context(), id, from, to)
	if err != nil {
		logger.Error("campaign stats", zap.Error(err), zap.Int("campaign_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	s.writeJSON(w, http.StatusOK, stats)
}

// parseDateRange reads from/to query params, defaulting to the last 30 days.
func parseDateRange(r *http.Request) (from, to time.Time, ok bool) {
	now := time.Now().UTC()
	from = now.AddDate(0, 0, -30)
	to = now.AddDate(0, 0, 1)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, false
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, false
		}
		to = t.AddDate(0, 0, 1)
	}
	return from, to, !to.Before(from)
}
