package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sydlexius/ratingsync/internal/catalog"
	"github.com/sydlexius/ratingsync/internal/scan"
)

func (r *Router) handleListLibraries(w http.ResponseWriter, req *http.Request) {
	libraries, err := r.catalog.Libraries(req.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, libraries)
}

func (r *Router) handleLibraryMovies(w http.ResponseWriter, req *http.Request) {
	movies, err := r.catalog.MoviesIn(req.Context(), req.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, movies)
}

func (r *Router) handleLibrarySeries(w http.ResponseWriter, req *http.Request) {
	series, err := r.catalog.SeriesIn(req.Context(), req.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (r *Router) handleSeriesSeasons(w http.ResponseWriter, req *http.Request) {
	seasons, err := r.catalog.Seasons(req.Context(), req.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, seasons)
}

func (r *Router) handleSeasonEpisodes(w http.ResponseWriter, req *http.Request) {
	episodes, err := r.catalog.EpisodesIn(req.Context(), req.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, scan.DropSpecials(episodes))
}

// selectedRequest names one scan target. Exactly one ID is used, checked
// from most to least specific; added_within_days applies only to the
// library-wide and no-target cases.
type selectedRequest struct {
	MovieID   string `json:"movie_id,omitempty"`
	EpisodeID string `json:"episode_id,omitempty"`
	SeasonID  string `json:"season_id,omitempty"`
	SeriesID  string `json:"series_id,omitempty"`
	LibraryID string `json:"library_id,omitempty"`

	AddedWithinDays int `json:"added_within_days,omitempty"`
}

func (r *Router) handleScanSelected(w http.ResponseWriter, req *http.Request) {
	var body selectedRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	items, specific, err := r.buildSelection(req, body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	items = scan.DropSpecials(items)
	if !specific && body.AddedWithinDays > 0 {
		items = scan.FilterAddedSince(items, body.AddedWithinDays)
	}

	if len(items) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"queued": 0})
		return
	}

	r.scanService.Mailbox().Set(items)
	if !specific && body.AddedWithinDays > 0 {
		r.tracker.SetMessage(fmt.Sprintf("Queued %d items (added last %d day(s))", len(items), body.AddedWithinDays))
	} else {
		r.tracker.SetMessage(fmt.Sprintf("Queued %d items for selected scan", len(items)))
	}

	writeJSON(w, http.StatusOK, map[string]any{"queued": len(items)})
}

// buildSelection expands the request into concrete items. A series target
// includes the series itself plus every episode; a TV library includes all
// of its series expanded the same way.
func (r *Router) buildSelection(req *http.Request, body selectedRequest) (items []catalog.Item, specific bool, err error) {
	ctx := req.Context()

	switch {
	case body.MovieID != "":
		item, err := r.catalog.Item(ctx, body.MovieID)
		if err != nil {
			return nil, true, err
		}
		return []catalog.Item{item}, true, nil

	case body.EpisodeID != "":
		item, err := r.catalog.Item(ctx, body.EpisodeID)
		if err != nil {
			return nil, true, err
		}
		return []catalog.Item{item}, true, nil

	case body.SeasonID != "":
		episodes, err := r.catalog.EpisodesIn(ctx, body.SeasonID)
		if err != nil {
			return nil, true, err
		}
		return episodes, true, nil

	case body.SeriesID != "":
		items, err := r.expandSeries(req, body.SeriesID)
		return items, true, err

	case body.LibraryID != "":
		items, err := r.expandLibrary(req, body.LibraryID)
		return items, false, err

	default:
		return nil, false, nil
	}
}

func (r *Router) expandSeries(req *http.Request, seriesID string) ([]catalog.Item, error) {
	ctx := req.Context()

	series, err := r.catalog.Item(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	items := []catalog.Item{series}

	seasons, err := r.catalog.Seasons(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	for _, season := range seasons {
		if season.SeasonNumber != nil && *season.SeasonNumber == 0 {
			continue
		}
		episodes, err := r.catalog.EpisodesIn(ctx, season.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, episodes...)
	}
	return items, nil
}

func (r *Router) expandLibrary(req *http.Request, libraryID string) ([]catalog.Item, error) {
	ctx := req.Context()

	movies, err := r.catalog.MoviesIn(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	if len(movies) > 0 {
		return movies, nil
	}

	allSeries, err := r.catalog.SeriesIn(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	var items []catalog.Item
	for _, series := range allSeries {
		expanded, err := r.expandSeries(req, series.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, expanded...)
	}
	return items, nil
}
