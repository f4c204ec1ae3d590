package provider

import (
	"context"
	"log/slog"
	"strings"
)

// Preference selects which API sources to consult and in what order.
type Preference string

// Preference values.
const (
	PreferPrimary   Preference = "primary"
	PreferSecondary Preference = "secondary"
	PreferBoth      Preference = "both"
)

// EpisodeRef identifies one episode by its parent series and position.
type EpisodeRef struct {
	SeriesIMDBID string
	Season       int
	Episode      int
}

// Request describes one item's rating lookup.
type Request struct {
	// IMDBID is the item's own IMDb ID. May be empty for episodes when the
	// catalog does not track per-episode IDs.
	IMDBID string

	// Episode is set for episode items; nil for movies and series.
	Episode *EpisodeRef

	// Preferred selects the API source order for non-episode items.
	Preferred Preference

	// WantCritic requests the critic rating in addition to the community one.
	WantCritic bool

	// ScrapeEnabled permits the web scrape fallback for episodes.
	ScrapeEnabled bool

	// Allowed reports whether a source may be called; sources over their
	// daily cap or without configured keys return false.
	Allowed func(SourceName) bool
}

// Outcome is the merged result of one item's lookup. Nil fields mean no
// source had a value, which is a valid non-error result.
type Outcome struct {
	Community *float32
	Critic    *float32

	// Sources lists every source that was called, in call order.
	Sources []SourceName

	// Scraped is true when the web fallback supplied the community rating.
	Scraped bool

	// Calls counts call attempts per source for daily-limit accounting.
	Calls map[SourceName]int
}

// SourceLabel renders the consulted sources for display, e.g. "OMDb+MDBList"
// or "Scraped".
func (o Outcome) SourceLabel() string {
	if o.Scraped && len(o.Sources) == 1 {
		return "Scraped"
	}
	names := make([]string, 0, len(o.Sources))
	for _, s := range o.Sources {
		if s == NameIMDbWeb {
			names = append(names, "Scraped")
			continue
		}
		names = append(names, s.DisplayName())
	}
	return strings.Join(names, "+")
}

// Resolver merges ratings from the configured sources with fallback. A
// failed source call never fails the item: it contributes nothing and the
// remaining sources are still consulted.
type Resolver struct {
	primary   EpisodeSource
	secondary TitleSource
	scraper   EpisodeSource
	logger    *slog.Logger
}

// NewResolver wires the three sources together. primary must support direct
// episode lookups; scraper is used only as the episode fallback.
func NewResolver(primary EpisodeSource, secondary TitleSource, scraper EpisodeSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		primary:   primary,
		secondary: secondary,
		scraper:   scraper,
		logger:    logger.With(slog.String("component", "resolver")),
	}
}

// Resolve runs the lookup strategy for one item.
func (r *Resolver) Resolve(ctx context.Context, req Request) Outcome {
	out := Outcome{Calls: make(map[SourceName]int)}

	if req.Allowed == nil {
		req.Allowed = func(SourceName) bool { return true }
	}

	if req.Episode != nil {
		r.resolveEpisode(ctx, req, &out)
		return out
	}

	r.resolveTitle(ctx, req, &out)
	return out
}

// resolveEpisode consults the primary source only; the secondary API has no
// episode-level lookup. The scraper fills in when the API finds nothing.
func (r *Resolver) resolveEpisode(ctx context.Context, req Request, out *Outcome) {
	ep := req.Episode

	if req.Allowed(r.primary.Name()) {
		data := r.callEpisode(ctx, r.primary, ep, out)
		out.Community = data.IMDB
		out.Critic = data.Tomatoes
	}

	if out.Community == nil && req.ScrapeEnabled && req.Allowed(r.scraper.Name()) {
		var data RatingData
		if req.IMDBID != "" {
			data = r.callTitle(ctx, r.scraper, req.IMDBID, out)
		} else {
			data = r.callEpisode(ctx, r.scraper, ep, out)
		}
		if data.IMDB != nil {
			out.Community = data.IMDB
			out.Scraped = true
		}
	}
}

// resolveTitle runs the preference branch for movies and series. The second
// source only ever fills fields the first one left empty.
func (r *Resolver) resolveTitle(ctx context.Context, req Request, out *Outcome) {
	first, second := r.order(req.Preferred)

	if req.Allowed(first.Name()) {
		data := r.callTitle(ctx, first, req.IMDBID, out)
		out.Community = data.IMDB
		out.Critic = data.Tomatoes
	}

	needsFallback := out.Community == nil || (req.WantCritic && out.Critic == nil)
	if req.Preferred == PreferBoth {
		needsFallback = out.Community == nil || out.Critic == nil
	}
	if !needsFallback || !req.Allowed(second.Name()) {
		return
	}

	data := r.callTitle(ctx, second, req.IMDBID, out)
	if out.Community == nil && data.IMDB != nil {
		out.Community = data.IMDB
	}
	if out.Critic == nil && data.Tomatoes != nil {
		out.Critic = data.Tomatoes
	}
}

func (r *Resolver) order(pref Preference) (TitleSource, TitleSource) {
	if pref == PreferSecondary {
		return r.secondary, r.primary
	}
	return r.primary, r.secondary
}

func (r *Resolver) callTitle(ctx context.Context, src TitleSource, imdbID string, out *Outcome) RatingData {
	out.Sources = append(out.Sources, src.Name())
	out.Calls[src.Name()]++

	data, err := src.Ratings(ctx, imdbID)
	if err != nil {
		r.logger.Debug("source returned nothing",
			slog.String("source", string(src.Name())),
			slog.String("imdb_id", imdbID),
			slog.Any("error", err))
		return RatingData{}
	}
	return data
}

func (r *Resolver) callEpisode(ctx context.Context, src EpisodeSource, ep *EpisodeRef, out *Outcome) RatingData {
	out.Sources = append(out.Sources, src.Name())
	out.Calls[src.Name()]++

	data, err := src.EpisodeRatings(ctx, ep.SeriesIMDBID, ep.Season, ep.Episode)
	if err != nil {
		r.logger.Debug("source returned nothing",
			slog.String("source", string(src.Name())),
			slog.String("series", ep.SeriesIMDBID),
			slog.Int("season", ep.Season),
			slog.Int("episode", ep.Episode),
			slog.Any("error", err))
		return RatingData{}
	}
	return data
}
