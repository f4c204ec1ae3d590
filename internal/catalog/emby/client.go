// Package emby implements the catalog.Catalog interface against an
// Emby-compatible media server (Emby, Jellyfin).
package emby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/ratingsync/internal/catalog"
)

const pageSize = 500

// Client communicates with an Emby server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// New creates an Emby client with default HTTP settings.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	return NewWithHTTPClient(baseURL, apiKey, &http.Client{Timeout: 30 * time.Second}, logger)
}

// NewWithHTTPClient creates an Emby client with a custom HTTP client (for testing).
func NewWithHTTPClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.With(slog.String("integration", "emby")),
	}
}

// TestConnection verifies connectivity by calling GET /System/Info.
func (c *Client) TestConnection(ctx context.Context) error {
	var info SystemInfo
	if err := c.get(ctx, "/System/Info", &info); err != nil {
		return fmt.Errorf("testing connection: %w", err)
	}
	c.logger.Debug("emby connection ok", "server", info.ServerName, "version", info.Version)
	return nil
}

// Items returns every item of the given types across the catalog, paging
// until the server reports no more results.
func (c *Client) Items(ctx context.Context, types []catalog.ItemType) ([]catalog.Item, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	var out []catalog.Item
	for start := 0; ; start += pageSize {
		path := fmt.Sprintf("/Items?Recursive=true&IncludeItemTypes=%s&Fields=%s&StartIndex=%d&Limit=%d",
			strings.Join(names, ","), itemFields, start, pageSize)

		var resp ItemsResponse
		if err := c.get(ctx, path, &resp); err != nil {
			return nil, fmt.Errorf("listing items: %w", err)
		}

		for _, it := range resp.Items {
			out = append(out, toCatalogItem(it))
		}
		if start+len(resp.Items) >= resp.TotalRecordCount || len(resp.Items) == 0 {
			break
		}
	}
	return out, nil
}

// Item fetches a single item by ID.
func (c *Client) Item(ctx context.Context, id string) (catalog.Item, error) {
	var resp ItemsResponse
	path := fmt.Sprintf("/Items?Ids=%s&Fields=%s", url.QueryEscape(id), itemFields)
	if err := c.get(ctx, path, &resp); err != nil {
		return catalog.Item{}, fmt.Errorf("fetching item %s: %w", id, err)
	}
	if len(resp.Items) == 0 {
		return catalog.Item{}, fmt.Errorf("item %s not found", id)
	}
	return toCatalogItem(resp.Items[0]), nil
}

// UpdateRatings writes new rating values back to the server. The full item
// DTO is fetched and posted back with ratings replaced, which is what Emby's
// item update endpoint expects.
func (c *Client) UpdateRatings(ctx context.Context, id string, update catalog.RatingUpdate) error {
	var raw map[string]any
	if err := c.get(ctx, "/Items/"+url.PathEscape(id), &raw); err != nil {
		return fmt.Errorf("fetching item %s for update: %w", id, err)
	}

	if update.CommunityRating != nil {
		raw["CommunityRating"] = *update.CommunityRating
	}
	if update.CriticRating != nil {
		raw["CriticRating"] = *update.CriticRating
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding item %s: %w", id, err)
	}
	if err := c.post(ctx, "/Items/"+url.PathEscape(id), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}
	return nil
}

// Libraries lists virtual folders holding movies or TV shows.
func (c *Client) Libraries(ctx context.Context) ([]catalog.Library, error) {
	var folders []VirtualFolder
	if err := c.get(ctx, "/Library/VirtualFolders", &folders); err != nil {
		return nil, fmt.Errorf("getting virtual folders: %w", err)
	}

	var libs []catalog.Library
	for _, f := range folders {
		if strings.EqualFold(f.CollectionType, "movies") || strings.EqualFold(f.CollectionType, "tvshows") {
			libs = append(libs, catalog.Library{ID: f.ItemID, Name: f.Name, Type: f.CollectionType})
		}
	}
	return libs, nil
}

// SeriesIn lists series in a library.
func (c *Client) SeriesIn(ctx context.Context, libraryID string) ([]catalog.Item, error) {
	return c.itemsUnder(ctx, libraryID, catalog.TypeSeries)
}

// MoviesIn lists movies in a library.
func (c *Client) MoviesIn(ctx context.Context, libraryID string) ([]catalog.Item, error) {
	return c.itemsUnder(ctx, libraryID, catalog.TypeMovie)
}

// Seasons lists the seasons of a series.
func (c *Client) Seasons(ctx context.Context, seriesID string) ([]catalog.Season, error) {
	var resp ItemsResponse
	path := fmt.Sprintf("/Shows/%s/Seasons", url.PathEscape(seriesID))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("listing seasons for %s: %w", seriesID, err)
	}

	seasons := make([]catalog.Season, 0, len(resp.Items))
	for _, it := range resp.Items {
		seasons = append(seasons, catalog.Season{
			ID:           it.ID,
			Name:         it.Name,
			SeasonNumber: it.IndexNumber,
		})
	}
	return seasons, nil
}

// EpisodesIn lists the episodes of a season.
func (c *Client) EpisodesIn(ctx context.Context, seasonID string) ([]catalog.Item, error) {
	var resp ItemsResponse
	path := fmt.Sprintf("/Items?ParentId=%s&IncludeItemTypes=Episode&Fields=%s", url.QueryEscape(seasonID), itemFields)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("listing episodes for %s: %w", seasonID, err)
	}

	items := make([]catalog.Item, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, toCatalogItem(it))
	}
	return items, nil
}

const itemFields = "ProviderIds,DateCreated,CriticRating,CommunityRating,ProductionYear"

func (c *Client) itemsUnder(ctx context.Context, parentID string, typ catalog.ItemType) ([]catalog.Item, error) {
	var resp ItemsResponse
	path := fmt.Sprintf("/Items?ParentId=%s&Recursive=true&IncludeItemTypes=%s&Fields=%s",
		url.QueryEscape(parentID), typ, itemFields)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("listing %s under %s: %w", typ, parentID, err)
	}

	items := make([]catalog.Item, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, toCatalogItem(it))
	}
	return items, nil
}

func toCatalogItem(it BaseItem) catalog.Item {
	item := catalog.Item{
		ID:              it.ID,
		Name:            it.Name,
		Type:            catalog.ItemType(it.Type),
		Year:            it.ProductionYear,
		CommunityRating: it.CommunityRating,
		CriticRating:    it.CriticRating,
		SeriesID:        it.SeriesID,
		SeriesName:      it.SeriesName,
		SeasonNumber:    it.ParentIndexNumber,
		EpisodeNumber:   it.IndexNumber,
		SeasonName:      it.SeasonName,
	}
	if it.ProviderIDs != nil {
		for k, v := range it.ProviderIDs {
			if strings.EqualFold(k, "Imdb") {
				item.IMDBID = v
			}
		}
	}
	if it.DateCreated != "" {
		if t, err := time.Parse(time.RFC3339, it.DateCreated); err == nil {
			item.DateCreated = t
		}
	}
	return item
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from trusted base + API path
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from trusted base + API path
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("X-Emby-Token", c.apiKey)
}
