package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sydlexius/ratingsync/internal/catalog"
)

// maxMissingResults caps the missing-data listing; the config page shows a
// bounded table.
const maxMissingResults = 500

// missingDataItem describes an item the resolver cannot fully serve yet.
type missingDataItem struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Type catalog.ItemType `json:"type"`
	Year int              `json:"year,omitempty"`

	SeriesName    string `json:"series_name,omitempty"`
	SeasonNumber  *int   `json:"season_number,omitempty"`
	SeasonName    string `json:"season_name,omitempty"`
	EpisodeNumber *int   `json:"episode_number,omitempty"`

	IMDBID             string   `json:"imdb_id,omitempty"`
	HasIMDBID          bool     `json:"has_imdb_id"`
	HasCommunityRating bool     `json:"has_community_rating"`
	HasCriticRating    bool     `json:"has_critic_rating"`
	CommunityRating    *float32 `json:"community_rating,omitempty"`
	CriticRating       *float32 `json:"critic_rating,omitempty"`

	MissingReason string `json:"missing_reason"`
}

func (r *Router) handleMissingData(w http.ResponseWriter, req *http.Request) {
	var types []catalog.ItemType
	switch req.URL.Query().Get("type") {
	case "movies":
		types = []catalog.ItemType{catalog.TypeMovie}
	case "series":
		types = []catalog.ItemType{catalog.TypeSeries}
	case "episodes":
		types = []catalog.ItemType{catalog.TypeEpisode}
	default:
		types = []catalog.ItemType{catalog.TypeMovie, catalog.TypeSeries, catalog.TypeEpisode}
	}

	items, err := r.catalog.Items(req.Context(), types)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	results := make([]missingDataItem, 0)
	for _, item := range items {
		isEpisode := item.Type == catalog.TypeEpisode
		if isEpisode && (item.SeasonNumber == nil || *item.SeasonNumber == 0) {
			continue
		}

		hasIMDB := item.IMDBID != ""
		hasRating := item.CommunityRating != nil
		hasCritic := item.CriticRating != nil

		// Episodes rarely carry their own IMDb ID, so only a missing
		// rating flags them.
		var reason string
		if isEpisode {
			if hasRating {
				continue
			}
			reason = "No Community Rating"
		} else {
			var reasons []string
			if !hasIMDB {
				reasons = append(reasons, "No IMDb ID")
			}
			if !hasRating {
				reasons = append(reasons, "No Community Rating")
			}
			if !hasCritic {
				reasons = append(reasons, "No Critic Rating")
			}
			if len(reasons) == 0 {
				continue
			}
			reason = strings.Join(reasons, "; ")
		}

		results = append(results, missingDataItem{
			ID:                 item.ID,
			Name:               item.Name,
			Type:               item.Type,
			Year:               item.Year,
			SeriesName:         item.SeriesName,
			SeasonNumber:       item.SeasonNumber,
			SeasonName:         item.SeasonName,
			EpisodeNumber:      item.EpisodeNumber,
			IMDBID:             item.IMDBID,
			HasIMDBID:          hasIMDB,
			HasCommunityRating: hasRating,
			HasCriticRating:    hasCritic,
			CommunityRating:    item.CommunityRating,
			CriticRating:       item.CriticRating,
			MissingReason:      reason,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Type != results[j].Type {
			return results[i].Type < results[j].Type
		}
		return results[i].Name < results[j].Name
	})
	if len(results) > maxMissingResults {
		results = results[:maxMissingResults]
	}
	writeJSON(w, http.StatusOK, results)
}

// itemHistoryEntry joins an item's last-scan record with its current
// catalog ratings.
type itemHistoryEntry struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Type catalog.ItemType `json:"type"`

	LastScanned      time.Time `json:"last_scanned"`
	LastRating       *float32  `json:"last_rating,omitempty"`
	LastCriticRating *float32  `json:"last_critic_rating,omitempty"`
	LastChange       string    `json:"last_change,omitempty"`

	CurrentRating       *float32 `json:"current_rating,omitempty"`
	CurrentCriticRating *float32 `json:"current_critic_rating,omitempty"`
}

func (r *Router) handleItemHistory(w http.ResponseWriter, req *http.Request) {
	search := strings.ToLower(req.URL.Query().Get("search"))
	limit := queryInt(req, "limit", 100)
	if limit < 1 {
		limit = 100
	}

	results := make([]itemHistoryEntry, 0)
	for id, entry := range r.history.AllEntries() {
		item, err := r.catalog.Item(req.Context(), id)
		if err != nil {
			// Entry outlived the item; skip it.
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
			continue
		}
		results = append(results, itemHistoryEntry{
			ID:                  id,
			Name:                item.Name,
			Type:                item.Type,
			LastScanned:         entry.LastScanned,
			LastRating:          entry.LastRating,
			LastCriticRating:    entry.LastCriticRating,
			LastChange:          entry.LastChangeDescription,
			CurrentRating:       item.CommunityRating,
			CurrentCriticRating: item.CriticRating,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].LastScanned.After(results[j].LastScanned)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	writeJSON(w, http.StatusOK, results)
}
