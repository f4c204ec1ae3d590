package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sydlexius/ratingsync/internal/history"
	"github.com/sydlexius/ratingsync/internal/provider"
	"github.com/sydlexius/ratingsync/internal/scan"
	"github.com/sydlexius/ratingsync/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleProgress(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.tracker.Snapshot())
}

func (r *Router) handleClearProgress(w http.ResponseWriter, req *http.Request) {
	r.tracker.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	sessions := r.history.Sessions()

	page := queryInt(req, "page", 1)
	pageSize := queryInt(req, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start > len(sessions) {
		start = len(sessions)
	}
	end := start + pageSize
	if end > len(sessions) {
		end = len(sessions)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":  sessions[start:end],
		"total":     len(sessions),
		"page":      page,
		"page_size": pageSize,
	})
}

func (r *Router) handleSessionReport(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("id")

	report, err := r.history.ReportFor(sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if report == nil {
		// Older sessions predate report files; the inline summary is all
		// there is.
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report for session"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleDeleteSession(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("id")

	err := r.history.DeleteSession(sessionID)
	switch {
	case errors.Is(err, history.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, history.ErrSessionInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session in progress"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// sourceUsage is one source's slice of the counters response: today's call
// count against its daily cap, plus whether the source can be used at all.
type sourceUsage struct {
	Used   int  `json:"used"`
	Limit  int  `json:"limit"`
	HasKey bool `json:"has_key"`
	// Enabled means a key is configured for API sources, or that
	// scraping is switched on for the IMDb web source.
	Enabled bool `json:"enabled"`
}

func (r *Router) handleCounters(w http.ResponseWriter, req *http.Request) {
	cfg := r.settings.Get()

	sources := make(map[string]sourceUsage, 3)
	for _, name := range provider.AllSourceNames() {
		u := sourceUsage{Used: r.history.TodayCount(string(name))}
		switch name {
		case provider.NameOMDb:
			u.Limit = cfg.OMDbDailyLimit
			u.HasKey = cfg.OMDbAPIKey != ""
			u.Enabled = u.HasKey
		case provider.NameMDBList:
			u.Limit = cfg.MDBListDailyLimit
			u.HasKey = cfg.MDBListAPIKey != ""
			u.Enabled = u.HasKey
		case provider.NameIMDbWeb:
			u.Enabled = cfg.EnableScraping
		}
		sources[string(name)] = u
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":    time.Now().UTC().Format("2006-01-02"),
		"sources": sources,
	})
}

func (r *Router) handleScanRun(w http.ResponseWriter, req *http.Request) {
	if r.scanService.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scan already running"})
		return
	}

	// The run outlives the request.
	go func() {
		if err := r.scanService.Run(context.Background()); err != nil && !errors.Is(err, scan.ErrAlreadyRunning) {
			r.logger.Error("scan run failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (r *Router) handleScanCancel(w http.ResponseWriter, req *http.Request) {
	if !r.scanService.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no scan running"})
		return
	}
	r.scanService.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (r *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": r.scanService.Running(),
	})
}

func (r *Router) handleGetSettings(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.settings.Get())
}

func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	current := r.settings.Get()
	if err := json.NewDecoder(req.Body).Decode(&current); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := r.settings.Update(req.Context(), current); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, r.settings.Get())
}

func queryInt(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
