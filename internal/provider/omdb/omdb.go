// Package omdb implements the OMDb API rating source. OMDb serves both title
// and direct episode lookups, making it the only source that never needs the
// episode ID resolver.
package omdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/ratingsync/internal/provider"
)

const defaultBaseURL = "https://www.omdbapi.com"

// Adapter implements provider.EpisodeSource for the OMDb API.
type Adapter struct {
	client   *http.Client
	limiter  *provider.RateLimiterMap
	keychain provider.Keychain
	logger   *slog.Logger
	baseURL  string
}

// New creates an OMDb adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, keychain provider.Keychain, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, keychain, logger, defaultBaseURL)
}

// NewWithBaseURL creates an OMDb adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, keychain provider.Keychain, logger *slog.Logger, baseURL string) *Adapter {
	return &Adapter{
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
		keychain: keychain,
		logger:   logger.With(slog.String("source", "omdb")),
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the source name.
func (a *Adapter) Name() provider.SourceName { return provider.NameOMDb }

// RequiresAuth returns true because OMDb requires an API key.
func (a *Adapter) RequiresAuth() bool { return true }

// Ratings fetches ratings for a movie or series by IMDb ID.
func (a *Adapter) Ratings(ctx context.Context, imdbID string) (provider.RatingData, error) {
	query := url.Values{"i": {imdbID}}
	return a.fetch(ctx, imdbID, query)
}

// EpisodeRatings fetches ratings for one episode using OMDb's series lookup
// with Season and Episode parameters.
func (a *Adapter) EpisodeRatings(ctx context.Context, seriesIMDBID string, season, episode int) (provider.RatingData, error) {
	query := url.Values{
		"i":       {seriesIMDBID},
		"Season":  {strconv.Itoa(season)},
		"Episode": {strconv.Itoa(episode)},
	}
	id := fmt.Sprintf("%s S%dE%d", seriesIMDBID, season, episode)
	return a.fetch(ctx, id, query)
}

func (a *Adapter) fetch(ctx context.Context, id string, query url.Values) (provider.RatingData, error) {
	apiKey := a.keychain.APIKey(provider.NameOMDb)
	if apiKey == "" {
		return provider.RatingData{}, &provider.ErrAuthRequired{Source: provider.NameOMDb}
	}
	query.Set("apikey", apiKey)

	if err := a.limiter.Wait(ctx, provider.NameOMDb); err != nil {
		return provider.RatingData{}, &provider.CallError{
			Source: provider.NameOMDb,
			Reason: provider.FailTimeout,
			Cause:  fmt.Errorf("rate limiter: %w", err),
		}
	}

	reqURL := a.baseURL + "/?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return provider.RatingData{}, fmt.Errorf("creating request: %w", err)
	}

	a.logger.Debug("requesting", slog.String("id", id))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + API params
	if err != nil {
		return provider.RatingData{}, provider.ClassifyTransport(provider.NameOMDb, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return provider.RatingData{}, &provider.CallError{
			Source: provider.NameOMDb,
			Reason: provider.FailHTTP,
			Cause:  fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.RatingData{}, &provider.CallError{
			Source: provider.NameOMDb,
			Reason: provider.FailHTTP,
			Cause:  fmt.Errorf("reading response: %w", err),
		}
	}

	var title titleResponse
	if err := json.Unmarshal(body, &title); err != nil {
		return provider.RatingData{}, &provider.CallError{
			Source: provider.NameOMDb,
			Reason: provider.FailParse,
			Cause:  err,
		}
	}

	if !strings.EqualFold(title.Response, "True") {
		return provider.RatingData{}, &provider.ErrNotFound{Source: provider.NameOMDb, ID: id}
	}

	return mapRatings(&title), nil
}

// mapRatings extracts ratings from an OMDb response. "N/A" and zero values
// are treated as absent.
func mapRatings(title *titleResponse) provider.RatingData {
	data := provider.RatingData{Source: provider.NameOMDb}

	if v, ok := parseRating(title.IMDBRating); ok {
		data.IMDB = &v
	}

	for _, entry := range title.Ratings {
		if !strings.EqualFold(entry.Source, "Rotten Tomatoes") {
			continue
		}
		if v, ok := parseRating(strings.TrimSuffix(entry.Value, "%")); ok {
			data.Tomatoes = &v
		}
	}

	return data
}

func parseRating(s string) (float32, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil || f <= 0 {
		return 0, false
	}
	return float32(f), true
}
