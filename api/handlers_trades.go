package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ai-trade-finder/database"
	"ai-trade-finder/helpers"
)

// handleListTrades returns identified trades with filters
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := database.TradeFilter{
		Symbol: strings.ToUpper(query.Get("symbol")),
		Status: strings.ToUpper(query.Get("status")),
		Limit:  getIntParam(r, "limit", 100, intPtr(1), intPtr(500)),
	}
	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "since must be RFC3339", nil)
			return
		}
		filter.Since = t
	}
	if until := query.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "until must be RFC3339", nil)
			return
		}
		filter.Until = t
	}

	trades, err := s.deps.Trades.List(r.Context(), filter)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// handleGetTrade returns one trade
func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.deps.Trades.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// handleGetTradeAlerts returns the alert intents recorded for a trade
func (s *Server) handleGetTradeAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		respondWithError(w, http.StatusServiceUnavailable, "alert log not available", nil)
		return
	}

	intents, err := s.deps.Alerts.ListIntents(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": intents,
		"count":  len(intents),
	})
}

// handleUpdateTradeStatus applies an operator status transition
func (s *Server) handleUpdateTradeStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	trade, err := s.deps.Lifecycle.Transition(requestContext(r), r.PathValue("id"), strings.ToUpper(body.Status))
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// handleTradeStats returns the trailing-window statistics
func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Lifecycle.ComputeStatistics(r.Context(), time.Now())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRunTradeFinder runs one cycle synchronously, for all configured symbols or
// the comma separated ?symbols= subset
func (s *Server) handleRunTradeFinder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Finder == nil {
		respondWithError(w, http.StatusServiceUnavailable, "trade finder not available", nil)
		return
	}

	symbols := s.deps.Finder.Symbols()
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbols = helpers.NormalizeSymbols(helpers.SplitCSV(raw))
	}
	if len(symbols) == 0 {
		respondWithError(w, http.StatusBadRequest, "no symbols to analyze", nil)
		return
	}

	report := s.deps.Finder.FindTradesFor(requestContext(r), symbols)
	writeJSON(w, http.StatusOK, report)
}

// handleListJobs describes the scheduled jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": []interface{}{}, "count": 0})
		return
	}
	jobs := s.deps.Jobs.Jobs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
