// Package imdbweb scrapes ratings from IMDb title pages. It is the fallback
// source when the API-backed sources return nothing, and the only one able
// to rate episodes the APIs do not know about.
package imdbweb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sydlexius/ratingsync/internal/provider"
)

const defaultBaseURL = "https://www.imdb.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Scraper implements provider.EpisodeSource by fetching and parsing IMDb
// HTML pages. Scraping is inherently flaky, so requests go through a
// retrying HTTP client.
type Scraper struct {
	client  *retryablehttp.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string

	episodes *episodeResolver
}

// New creates an IMDb scraper with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Scraper {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates an IMDb scraper with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Scraper {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil

	s := &Scraper{
		client:  client,
		limiter: limiter,
		logger:  logger.With(slog.String("source", "imdbweb")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	s.episodes = newEpisodeResolver(s)
	return s
}

// Name returns the source name.
func (s *Scraper) Name() provider.SourceName { return provider.NameIMDbWeb }

// RequiresAuth returns false; scraping needs no API key.
func (s *Scraper) RequiresAuth() bool { return false }

// Ratings scrapes the aggregate rating from the title page for imdbID. IMDb
// pages carry no critic score, so only the community value is ever set.
func (s *Scraper) Ratings(ctx context.Context, imdbID string) (provider.RatingData, error) {
	html, err := s.fetchPage(ctx, "/title/"+imdbID+"/")
	if err != nil {
		return provider.RatingData{}, err
	}

	rating, ok := parseTitleRating(html, imdbID)
	if !ok {
		return provider.RatingData{}, &provider.ErrNotFound{Source: provider.NameIMDbWeb, ID: imdbID}
	}

	return provider.RatingData{IMDB: &rating, Source: provider.NameIMDbWeb}, nil
}

// EpisodeRatings resolves the episode's own IMDb ID from the series episodes
// page, then scrapes that episode's title page.
func (s *Scraper) EpisodeRatings(ctx context.Context, seriesIMDBID string, season, episode int) (provider.RatingData, error) {
	if seriesIMDBID == "" || season <= 0 || episode <= 0 {
		return provider.RatingData{}, &provider.ErrNotFound{
			Source: provider.NameIMDbWeb,
			ID:     fmt.Sprintf("%s S%dE%d", seriesIMDBID, season, episode),
		}
	}

	episodeID, err := s.episodes.resolve(ctx, seriesIMDBID, season, episode)
	if err != nil {
		return provider.RatingData{}, err
	}

	return s.Ratings(ctx, episodeID)
}

// fetchPage retrieves one IMDb page as a string, respecting the rate limiter.
func (s *Scraper) fetchPage(ctx context.Context, path string) (string, error) {
	if err := s.limiter.Wait(ctx, provider.NameIMDbWeb); err != nil {
		return "", &provider.CallError{
			Source: provider.NameIMDbWeb,
			Reason: provider.FailTimeout,
			Cause:  fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	s.logger.Debug("fetching", slog.String("path", path))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", provider.ClassifyTransport(provider.NameIMDbWeb, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", &provider.CallError{
			Source: provider.NameIMDbWeb,
			Reason: provider.FailHTTP,
			Cause:  fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &provider.CallError{
			Source: provider.NameIMDbWeb,
			Reason: provider.FailHTTP,
			Cause:  fmt.Errorf("reading response: %w", err),
		}
	}

	return string(body), nil
}
