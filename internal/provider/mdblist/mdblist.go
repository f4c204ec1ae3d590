// Package mdblist implements the MDBList rating source. MDBList keys lookups
// by IMDb ID under a media type path, so a show lookup that comes back empty
// is retried as a movie.
package mdblist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/ratingsync/internal/provider"
)

const defaultBaseURL = "https://api.mdblist.com"

// Adapter implements provider.TitleSource for the MDBList API.
type Adapter struct {
	client   *http.Client
	limiter  *provider.RateLimiterMap
	keychain provider.Keychain
	logger   *slog.Logger
	baseURL  string
}

// New creates an MDBList adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, keychain provider.Keychain, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, keychain, logger, defaultBaseURL)
}

// NewWithBaseURL creates an MDBList adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, keychain provider.Keychain, logger *slog.Logger, baseURL string) *Adapter {
	return &Adapter{
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
		keychain: keychain,
		logger:   logger.With(slog.String("source", "mdblist")),
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the source name.
func (a *Adapter) Name() provider.SourceName { return provider.NameMDBList }

// RequiresAuth returns true because MDBList requires an API key.
func (a *Adapter) RequiresAuth() bool { return true }

// Ratings fetches ratings by IMDb ID, trying the show endpoint first and
// falling back to the movie endpoint when the show lookup has no ratings.
func (a *Adapter) Ratings(ctx context.Context, imdbID string) (provider.RatingData, error) {
	apiKey := a.keychain.APIKey(provider.NameMDBList)
	if apiKey == "" {
		return provider.RatingData{}, &provider.ErrAuthRequired{Source: provider.NameMDBList}
	}

	media, found, err := a.fetch(ctx, "show", imdbID, apiKey)
	if err != nil {
		return provider.RatingData{}, err
	}
	if !found || len(media.Ratings) == 0 {
		media, found, err = a.fetch(ctx, "movie", imdbID, apiKey)
		if err != nil {
			return provider.RatingData{}, err
		}
	}
	if !found {
		return provider.RatingData{}, &provider.ErrNotFound{Source: provider.NameMDBList, ID: imdbID}
	}

	data := mapRatings(media)
	if !data.HasAny() {
		return provider.RatingData{}, &provider.ErrNotFound{Source: provider.NameMDBList, ID: imdbID}
	}
	return data, nil
}

// fetch performs one lookup. A 404 or an empty body reports found=false so
// the caller can try the other media type.
func (a *Adapter) fetch(ctx context.Context, mediaType, imdbID, apiKey string) (*mediaResponse, bool, error) {
	if err := a.limiter.Wait(ctx, provider.NameMDBList); err != nil {
		return nil, false, &provider.CallError{
			Source: provider.NameMDBList,
			Reason: provider.FailTimeout,
			Cause:  fmt.Errorf("rate limiter: %w", err),
		}
	}

	reqURL := fmt.Sprintf("%s/imdb/%s/%s?apikey=%s", a.baseURL, mediaType, url.PathEscape(imdbID), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}

	a.logger.Debug("requesting", slog.String("media_type", mediaType), slog.String("imdb_id", imdbID))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + API params
	if err != nil {
		return nil, false, provider.ClassifyTransport(provider.NameMDBList, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, &provider.CallError{
			Source: provider.NameMDBList,
			Reason: provider.FailHTTP,
			Cause:  fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &provider.CallError{
			Source: provider.NameMDBList,
			Reason: provider.FailHTTP,
			Cause:  fmt.Errorf("reading response: %w", err),
		}
	}
	if len(body) == 0 {
		return nil, false, nil
	}

	var media mediaResponse
	if err := json.Unmarshal(body, &media); err != nil {
		return nil, false, &provider.CallError{
			Source: provider.NameMDBList,
			Reason: provider.FailParse,
			Cause:  err,
		}
	}
	if media.Title == "" && media.Ratings == nil && media.Score == nil {
		return nil, false, nil
	}

	return &media, true, nil
}

// mapRatings extracts ratings. The imdb entry wins for the community value;
// without one the overall score (0-100) is scaled down to the 0-10 range.
// Zero values are treated as absent.
func mapRatings(media *mediaResponse) provider.RatingData {
	data := provider.RatingData{Source: provider.NameMDBList}

	for _, entry := range media.Ratings {
		if entry.Value == nil || *entry.Value <= 0 {
			continue
		}
		switch strings.ToLower(entry.Source) {
		case "imdb":
			v := *entry.Value
			data.IMDB = &v
		case "tomatoes":
			v := *entry.Value
			data.Tomatoes = &v
		}
	}

	if data.IMDB == nil && media.Score != nil && *media.Score > 0 {
		v := *media.Score / 10
		data.IMDB = &v
	}

	return data
}
