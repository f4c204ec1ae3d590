package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/sydlexius/ratingsync/internal/catalog"
	"github.com/sydlexius/ratingsync/internal/settings"
)

// selectItems builds the item list for a full scan: enumerate the enabled
// types, drop items without a usable IMDb ID, drop specials, then apply the
// incremental and priority filters.
func (s *Service) selectItems(ctx context.Context, cfg settings.SyncSettings) ([]catalog.Item, error) {
	types := enabledTypes(cfg)

	all, err := s.catalog.Items(ctx, types)
	if err != nil {
		return nil, fmt.Errorf("enumerating catalog: %w", err)
	}

	candidates := make([]catalog.Item, 0, len(all))
	for _, item := range all {
		if isSpecial(item) {
			continue
		}
		candidates = append(candidates, item)
	}
	candidates = s.fillSeriesIMDBIDs(ctx, candidates)

	items := make([]catalog.Item, 0, len(candidates))
	for _, item := range candidates {
		if !hasUsableID(item) {
			continue
		}
		items = append(items, item)
	}

	items = s.applyHistoryFilters(items, cfg)

	if cfg.PrioritizeRecentlyAdded {
		items = partitionRecent(items, time.Now().UTC().AddDate(0, 0, -cfg.RecentlyAddedDays))
	}

	if cfg.TestMode && len(items) > 1 {
		s.logger.Warn("test mode: processing only first item")
		items = items[:1]
	}

	return items, nil
}

// applyHistoryFilters drops recently scanned items and, when configured,
// items that already carry a community rating.
func (s *Service) applyHistoryFilters(items []catalog.Item, cfg settings.SyncSettings) []catalog.Item {
	rescanCutoff := time.Now().UTC().AddDate(0, 0, -cfg.RescanIntervalDays)

	skippedByHistory := 0
	skippedHasRating := 0

	kept := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if entry, ok := s.history.Entry(item.ID); ok && entry.LastScanned.After(rescanCutoff) {
			skippedByHistory++
			continue
		}
		if cfg.SkipRatedItems && item.CommunityRating != nil {
			skippedHasRating++
			continue
		}
		kept = append(kept, item)
	}

	if skippedByHistory > 0 || skippedHasRating > 0 {
		s.logger.Info("incremental filter applied",
			"skipped_recently_scanned", skippedByHistory,
			"skipped_already_rated", skippedHasRating,
			"remaining", len(kept))
	}
	return kept
}

// fillSeriesIMDBIDs resolves the parent series IMDb ID for episodes that
// carry neither their own nor the series ID yet. The catalog API does not
// inline parent provider IDs, so this costs one item lookup per distinct
// series.
func (s *Service) fillSeriesIMDBIDs(ctx context.Context, items []catalog.Item) []catalog.Item {
	cache := make(map[string]string)
	for i, item := range items {
		if item.Type != catalog.TypeEpisode || item.IMDBID != "" || item.SeriesIMDBID != "" || item.SeriesID == "" {
			continue
		}
		id, ok := cache[item.SeriesID]
		if !ok {
			series, err := s.catalog.Item(ctx, item.SeriesID)
			if err != nil {
				s.logger.Warn("looking up series for episode",
					"series_id", item.SeriesID, "episode", item.Name, "error", err)
			} else {
				id = series.IMDBID
			}
			cache[item.SeriesID] = id
		}
		items[i].SeriesIMDBID = id
	}
	return items
}

// partitionRecent moves items created after cutoff to the front, keeping
// relative order within both groups (stable partition, not a sort).
func partitionRecent(items []catalog.Item, cutoff time.Time) []catalog.Item {
	recent := make([]catalog.Item, 0, len(items))
	older := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if item.DateCreated.After(cutoff) {
			recent = append(recent, item)
		} else {
			older = append(older, item)
		}
	}
	if len(recent) == 0 {
		return items
	}
	return append(recent, older...)
}

// FilterAddedSince keeps items created on or after the day boundary N-1 days
// back from today's UTC midnight, so "added within 1 day" means today.
func FilterAddedSince(items []catalog.Item, days int) []catalog.Item {
	if days <= 0 {
		return items
	}
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := midnight.AddDate(0, 0, -(days - 1))

	kept := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if !item.DateCreated.Before(cutoff) {
			kept = append(kept, item)
		}
	}
	return kept
}

// DropSpecials removes season-zero episodes. Applies to every selection
// path, targeted runs included.
func DropSpecials(items []catalog.Item) []catalog.Item {
	kept := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if isSpecial(item) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func enabledTypes(cfg settings.SyncSettings) []catalog.ItemType {
	var types []catalog.ItemType
	if cfg.UpdateMovies {
		types = append(types, catalog.TypeMovie)
	}
	if cfg.UpdateSeries {
		types = append(types, catalog.TypeSeries)
	}
	if cfg.UpdateEpisodes {
		types = append(types, catalog.TypeEpisode)
	}
	return types
}

// hasUsableID reports whether the item can be looked up at all: a direct
// IMDb ID, or for episodes an IMDb ID on the parent series.
func hasUsableID(item catalog.Item) bool {
	if item.IMDBID != "" {
		return true
	}
	return item.Type == catalog.TypeEpisode && item.SeriesIMDBID != ""
}

func isSpecial(item catalog.Item) bool {
	if item.Type != catalog.TypeEpisode {
		return false
	}
	return item.SeasonNumber == nil || *item.SeasonNumber == 0
}
