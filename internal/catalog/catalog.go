// Package catalog defines the media-catalog domain model and the interface a
// catalog server implementation must satisfy.
package catalog

import (
	"context"
	"fmt"
	"time"
)

// ItemType identifies the kind of media item.
type ItemType string

const (
	TypeMovie   ItemType = "Movie"
	TypeSeries  ItemType = "Series"
	TypeEpisode ItemType = "Episode"
)

// Item is a single catalog entry eligible for rating reconciliation.
type Item struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type ItemType `json:"type"`
	Year int      `json:"year,omitempty"`

	IMDBID string `json:"imdb_id,omitempty"`

	CommunityRating *float32 `json:"community_rating,omitempty"`
	CriticRating    *float32 `json:"critic_rating,omitempty"`

	// Episode-only fields.
	SeriesID      string `json:"series_id,omitempty"`
	SeriesName    string `json:"series_name,omitempty"`
	SeriesIMDBID  string `json:"series_imdb_id,omitempty"`
	SeasonNumber  *int   `json:"season_number,omitempty"`
	EpisodeNumber *int   `json:"episode_number,omitempty"`
	SeasonName    string `json:"season_name,omitempty"`

	DateCreated time.Time `json:"date_created,omitempty"`
}

// DisplayName returns the name used in progress output and reports. Episodes
// are qualified with their series and position.
func (i Item) DisplayName() string {
	if i.Type == TypeEpisode && i.SeriesName != "" {
		s, e := 0, 0
		if i.SeasonNumber != nil {
			s = *i.SeasonNumber
		}
		if i.EpisodeNumber != nil {
			e = *i.EpisodeNumber
		}
		return formatEpisodeName(i.SeriesName, s, e, i.Name)
	}
	return i.Name
}

// Library is a top-level media collection on the catalog server.
type Library struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Season groups episodes within a series.
type Season struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SeasonNumber *int   `json:"season_number,omitempty"`
}

// RatingUpdate carries new rating values for a single item. Nil fields are
// left untouched on the server.
type RatingUpdate struct {
	CommunityRating *float32
	CriticRating    *float32
}

// Catalog is the media server the engine reconciles ratings against.
type Catalog interface {
	// Items returns all items of the given types across the whole catalog.
	Items(ctx context.Context, types []ItemType) ([]Item, error)

	// Item fetches a single item by ID.
	Item(ctx context.Context, id string) (Item, error)

	// UpdateRatings writes new rating values back to the server.
	UpdateRatings(ctx context.Context, id string, update RatingUpdate) error

	// Libraries lists the server's media libraries.
	Libraries(ctx context.Context) ([]Library, error)

	// SeriesIn lists series in a library.
	SeriesIn(ctx context.Context, libraryID string) ([]Item, error)

	// MoviesIn lists movies in a library.
	MoviesIn(ctx context.Context, libraryID string) ([]Item, error)

	// Seasons lists the seasons of a series.
	Seasons(ctx context.Context, seriesID string) ([]Season, error)

	// EpisodesIn lists the episodes of a season.
	EpisodesIn(ctx context.Context, seasonID string) ([]Item, error)
}

func formatEpisodeName(series string, season, episode int, name string) string {
	return fmt.Sprintf("%s S%02dE%02d - %s", series, season, episode, name)
}
