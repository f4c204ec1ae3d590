package imdbweb

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sydlexius/ratingsync/internal/provider"
)

// maxCachedSeasons bounds the episode ID cache. A scan touching more seasons
// than this simply re-fetches; correctness does not depend on the cache.
const maxCachedSeasons = 200

// episodeResolver maps (series, season, episode) to the episode's own IMDb
// ID by parsing the series episodes page, caching one map per season.
type episodeResolver struct {
	scraper *Scraper

	mu    sync.Mutex
	cache map[string]map[int]string
}

func newEpisodeResolver(s *Scraper) *episodeResolver {
	return &episodeResolver{
		scraper: s,
		cache:   make(map[string]map[int]string),
	}
}

func (r *episodeResolver) resolve(ctx context.Context, seriesIMDBID string, season, episode int) (string, error) {
	cacheKey := seriesIMDBID + "|S" + strconv.Itoa(season)

	r.mu.Lock()
	if ids, ok := r.cache[cacheKey]; ok {
		if id, ok := ids[episode]; ok && id != "" {
			r.mu.Unlock()
			return id, nil
		}
	}
	r.mu.Unlock()

	path := fmt.Sprintf("/title/%s/episodes?season=%d", seriesIMDBID, season)
	html, err := r.scraper.fetchPage(ctx, path)
	if err != nil {
		return "", err
	}

	ids := parseEpisodeIDs(html)
	if len(ids) > 0 {
		r.mu.Lock()
		if len(r.cache) > maxCachedSeasons {
			r.cache = make(map[string]map[int]string)
		}
		r.cache[cacheKey] = ids
		r.mu.Unlock()

		if id, ok := ids[episode]; ok && id != "" {
			return id, nil
		}
	}

	if id, ok := findEpisodeIDNear(html, episode); ok {
		return id, nil
	}

	return "", &provider.ErrNotFound{
		Source: provider.NameIMDbWeb,
		ID:     fmt.Sprintf("%s S%dE%d", seriesIMDBID, season, episode),
	}
}
