package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
	"github.com/mhalvorsen/lookout/internal/pipeline"
)

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{"error": msg})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "lookout",
	}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			response["status"] = "degraded"
			response["database"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response["database"] = "ok"
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Get()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load service status")
		s.writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// --- Watchlist ---

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	var (
		stocks []*watchlist.Stock
		err    error
	)
	if r.URL.Query().Get("all") == "true" {
		stocks, err = s.stocks.ListAll()
	} else {
		stocks, err = s.stocks.ListEnabled()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list watchlist")
		s.writeError(w, http.StatusInternalServerError, "failed to list watchlist")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stocks": stocks,
		"count":  len(stocks),
	})
}

func (s *Server) handleAddStock(w http.ResponseWriter, r *http.Request) {
	var stock watchlist.Stock
	if err := json.NewDecoder(r.Body).Decode(&stock); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.watchlist.Add(&stock); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, &stock)
}

func (s *Server) handleRemoveStock(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := s.watchlist.Remove(ticker); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": strings.ToUpper(ticker)})
}

func (s *Server) handleSetStockState(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	state := watchlist.StockState(body.State)
	if !watchlist.ValidState(state) {
		s.writeError(w, http.StatusBadRequest, "unknown state: "+body.State)
		return
	}
	if err := s.watchlist.SetState(ticker, state); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticker": strings.ToUpper(ticker),
		"state":  state,
	})
}

// --- Schedules ---

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.schedules.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list schedules")
		s.writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": list,
		"count":     len(list),
	})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched schedules.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.schedules.Create(&sched); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, &sched)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sched, err := s.schedules.Get(id)
	if err != nil {
		s.log.Error().Err(err).Int64("schedule_id", id).Msg("Failed to load schedule")
		s.writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	if sched == nil {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleSetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.schedules.SetEnabled(id, body.Enabled); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.audit.LogEvent("schedule_enabled_changed", "api", "schedule",
		strconv.FormatInt(id, 10), "success",
		map[string]any{"enabled": body.Enabled})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule_id": id,
		"enabled":     body.Enabled,
	})
}

// handleResetBreaker clears the consecutive-failure counter and
// re-enables a schedule whose circuit breaker has tripped.
func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.schedules.ResetBreaker(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.audit.LogEvent("schedule_breaker_reset", "api", "schedule",
		strconv.FormatInt(id, 10), "success", nil)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule_id": id,
		"reset":       true,
	})
}

// --- Runs ---

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}
	list, err := s.runs.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  list,
		"count": len(list),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Get(id)
	if err != nil {
		s.log.Error().Err(err).Int64("run_id", id).Msg("Failed to load run")
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRunResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	result, err := s.runs.GetResultByRunID(id)
	if err != nil {
		s.log.Error().Err(err).Int64("run_id", id).Msg("Failed to load result")
		s.writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	if result == nil {
		s.writeError(w, http.StatusNotFound, "no result for run")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.GetAll()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load settings")
		s.writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"settings": all})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value    string `json:"value"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Category == "" {
		body.Category = "general"
	}
	if err := s.settings.Set(key, body.Value, body.Category); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit.LogEvent("setting_changed", "api", "setting", key, "success",
		map[string]any{"value": body.Value})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": body.Value,
	})
}

// --- Ad-hoc analysis ---

// handleAnalyze creates an ad-hoc run and executes the analysis
// pipeline inline. The request blocks until the run reaches a
// terminal state; slow reasoning is bounded by the engine's own
// phase timeouts.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ticker string `json:"ticker"`
		Kind   string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.Ticker = strings.ToUpper(strings.TrimSpace(body.Ticker))
	if body.Ticker == "" {
		s.writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if body.Kind == "" {
		body.Kind = pipeline.KindStock
	}
	if !pipeline.ValidKind(body.Kind) {
		s.writeError(w, http.StatusBadRequest, "unknown analysis kind: "+body.Kind)
		return
	}

	runID, err := s.runs.CreateAdhoc(string(schedules.TaskAnalyzeStock), body.Ticker, body.Kind)
	if err != nil {
		s.log.Error().Err(err).Str("ticker", body.Ticker).Msg("Failed to create ad-hoc run")
		s.writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}
	s.audit.LogEvent("adhoc_analysis", "api", "run",
		strconv.FormatInt(runID, 10), "started",
		map[string]any{"ticker": body.Ticker, "kind": body.Kind})

	result, err := s.engine.RunAnalysis(r.Context(), pipeline.Request{
		RunID:  runID,
		Ticker: body.Ticker,
		Kind:   body.Kind,
	})
	if err != nil {
		s.log.Warn().Err(err).Int64("run_id", runID).Msg("Ad-hoc analysis failed")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"run_id": runID,
			"status": string(runs.StatusFailed),
			"error":  err.Error(),
		})
		return
	}

	run, err := s.runs.Get(runID)
	if err != nil || run == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"status": run.Status,
		"result": result,
	})
}

// --- Audit ---

func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}
	events, err := s.audit.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list audit events")
		s.writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
