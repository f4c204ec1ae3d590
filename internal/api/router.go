// Package api exposes the HTTP surface: progress and history reads, catalog
// browsing for scan target selection, scan control, and settings.
package api

import (
	"log/slog"
	"net/http"

	"github.com/sydlexius/ratingsync/internal/api/middleware"
	"github.com/sydlexius/ratingsync/internal/catalog"
	"github.com/sydlexius/ratingsync/internal/history"
	"github.com/sydlexius/ratingsync/internal/progress"
	"github.com/sydlexius/ratingsync/internal/scan"
	"github.com/sydlexius/ratingsync/internal/settings"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Catalog     catalog.Catalog
	Tracker     *progress.Tracker
	History     *history.Store
	ScanService *scan.Service
	Settings    *settings.Service
	Logger      *slog.Logger
	BasePath    string
	APIToken    string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	catalog     catalog.Catalog
	tracker     *progress.Tracker
	history     *history.Store
	scanService *scan.Service
	settings    *settings.Service
	logger      *slog.Logger
	basePath    string
	apiToken    string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		catalog:     deps.Catalog,
		tracker:     deps.Tracker,
		history:     deps.History,
		scanService: deps.ScanService,
		settings:    deps.Settings,
		logger:      deps.Logger,
		basePath:    deps.BasePath,
		apiToken:    deps.APIToken,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	authMw := middleware.Auth(r.apiToken)
	mux := http.NewServeMux()
	bp := r.basePath

	// Public routes (no auth)
	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	// Progress routes
	mux.HandleFunc("GET "+bp+"/api/v1/progress", wrapAuth(r.handleProgress, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/progress/clear", wrapAuth(r.handleClearProgress, authMw))

	// History routes
	mux.HandleFunc("GET "+bp+"/api/v1/history", wrapAuth(r.handleListSessions, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/history/{id}/report", wrapAuth(r.handleSessionReport, authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/history/{id}", wrapAuth(r.handleDeleteSession, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/counters", wrapAuth(r.handleCounters, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/items/missing", wrapAuth(r.handleMissingData, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/items/history", wrapAuth(r.handleItemHistory, authMw))

	// Catalog browse routes (used to build scan target selections)
	mux.HandleFunc("GET "+bp+"/api/v1/libraries", wrapAuth(r.handleListLibraries, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/libraries/{id}/movies", wrapAuth(r.handleLibraryMovies, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/libraries/{id}/series", wrapAuth(r.handleLibrarySeries, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/series/{id}/seasons", wrapAuth(r.handleSeriesSeasons, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/seasons/{id}/episodes", wrapAuth(r.handleSeasonEpisodes, authMw))

	// Scan control routes
	mux.HandleFunc("POST "+bp+"/api/v1/scan/run", wrapAuth(r.handleScanRun, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/scan/cancel", wrapAuth(r.handleScanCancel, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/scan/status", wrapAuth(r.handleScanStatus, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/scan/selected", wrapAuth(r.handleScanSelected, authMw))

	// Settings routes
	mux.HandleFunc("GET "+bp+"/api/v1/settings", wrapAuth(r.handleGetSettings, authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/settings", wrapAuth(r.handleUpdateSettings, authMw))

	// Apply logging to all requests
	return middleware.Logging(r.logger)(mux)
}

// wrapAuth wraps a handler function with auth middleware.
func wrapAuth(fn http.HandlerFunc, authMw func(http.Handler) http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authMw(fn).ServeHTTP(w, r)
	}
}
