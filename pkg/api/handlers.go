package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mcptap/mcptap/pkg/analyzer"
	"github.com/mcptap/mcptap/pkg/logstore"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Entries int    `json:"entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Entries: s.store.Count(),
	})
}

// handleLogs handles GET /logs. Filters: method, direction, type, session,
// q (case-insensitive content search), limit, offset.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &logstore.Filter{
		Method:     q.Get("method"),
		Direction:  logstore.Direction(q.Get("direction")),
		Type:       logstore.EntryType(q.Get("type")),
		SessionID:  q.Get("session"),
		SearchText: q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a nonnegative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_offset", "offset must be a nonnegative integer")
			return
		}
		filter.Offset = n
	}

	entries := s.store.Query(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.List(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown_session", "no such session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleGlobalStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agg.GlobalStats())
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.agg.SessionStats(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_session", "no statistics for session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearAllStats(w http.ResponseWriter, _ *http.Request) {
	s.agg.ClearAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleClearSessionStats(w http.ResponseWriter, r *http.Request) {
	if !s.agg.ClearSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "unknown_session", "no statistics for session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// EstimateRequest is the POST /estimate body.
type EstimateRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be JSON with a text field")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"tokens": s.agg.Estimator().Estimate(req.Text),
	})
}

// AnalyzeRequest is the POST /analyze body.
type AnalyzeRequest struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be JSON")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "command is required")
		return
	}

	timeout := s.cfg.AnalyzeTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	analysis, err := analyzer.AnalyzeServer(ctx, analyzer.Options{
		Command:   req.Command,
		Args:      req.Args,
		Env:       req.Env,
		Timeout:   timeout,
		Estimator: s.agg.Estimator(),
		Logger:    s.log,
	})
	if err != nil {
		var aerr *analyzer.AnalysisError
		if errors.As(err, &aerr) {
			writeError(w, http.StatusBadGateway, "analysis_failed", aerr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "analysis_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
