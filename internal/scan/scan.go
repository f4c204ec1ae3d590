// Package scan drives the reconciliation run: item selection, per-item
// rating resolution, progress and history bookkeeping, and session
// finalization. One run at a time; items are processed sequentially to keep
// rate-limit accounting deterministic.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/ratingsync/internal/catalog"
	"github.com/sydlexius/ratingsync/internal/event"
	"github.com/sydlexius/ratingsync/internal/history"
	"github.com/sydlexius/ratingsync/internal/progress"
	"github.com/sydlexius/ratingsync/internal/provider"
	"github.com/sydlexius/ratingsync/internal/settings"
)

const (
	keepHistoryDays = 90
	keepReports     = 20
	saveInterval    = 10

	defaultItemDelay = 1 * time.Second
)

// Run preflight errors.
var (
	ErrAlreadyRunning  = errors.New("scan already running")
	ErrNoAPIKeys       = errors.New("no API keys configured")
	ErrNoItemTypes     = errors.New("no item types enabled")
	ErrAllSourcesAtCap = errors.New("all sources at their daily limit")
)

// Service orchestrates scan runs.
type Service struct {
	catalog  catalog.Catalog
	resolver *provider.Resolver
	tracker  *progress.Tracker
	history  *history.Store
	settings *settings.Service
	bus      *event.Bus
	logger   *slog.Logger
	mailbox  *Mailbox

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	// itemDelay spaces out items to stay polite to providers. Shortened in
	// tests.
	itemDelay time.Duration
}

// NewService creates the scan orchestrator.
func NewService(
	cat catalog.Catalog,
	resolver *provider.Resolver,
	tracker *progress.Tracker,
	hist *history.Store,
	set *settings.Service,
	bus *event.Bus,
	logger *slog.Logger,
) *Service {
	return &Service{
		catalog:   cat,
		resolver:  resolver,
		tracker:   tracker,
		history:   hist,
		settings:  set,
		bus:       bus,
		logger:    logger.With(slog.String("component", "scan")),
		mailbox:   NewMailbox(),
		itemDelay: defaultItemDelay,
	}
}

// Mailbox exposes the ad-hoc selection slot for the API layer.
func (s *Service) Mailbox() *Mailbox { return s.mailbox }

// Running reports whether a run is in flight.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cancel requests cooperative cancellation of the in-flight run, if any.
// The current item is allowed to finish.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Run executes one scan. Preflight failures (no keys, no types, all sources
// capped) return before any session is created.
func (s *Service) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	cfg := s.settings.Get()

	if cfg.OMDbAPIKey == "" && cfg.MDBListAPIKey == "" {
		s.logger.Error("no API keys configured, skipping run")
		return ErrNoAPIKeys
	}

	run := newRunState(cfg, s.history)
	s.logUsage(cfg, run)

	if !run.anySourceUsable() {
		s.logger.Warn("all configured sources at their daily limit, run will resume tomorrow")
		return ErrAllSourcesAtCap
	}

	items, targeted, err := s.buildItemList(runCtx, cfg)
	if err != nil {
		return err
	}
	if targeted {
		s.logger.Info("running targeted scan", "items", len(items))
	} else {
		s.logger.Info("running full scan", "items", len(items))
	}

	s.tracker.Start(len(items))
	session := s.history.StartSession(len(items))
	s.bus.Publish(event.Event{Type: event.ScanStarted, Data: map[string]any{
		"session_id": session.ID,
		"items":      len(items),
	}})

	finalized := false
	finalize := func() {
		if finalized {
			return
		}
		finalized = true
		s.finalize(session, run)
	}
	defer finalize()

	// A panic anywhere in the run must still close out the session, marked
	// cancelled with the failure recorded, before it surfaces as an error.
	defer func() {
		if r := recover(); r != nil {
			run.cancelled = true
			run.failure = fmt.Sprint(r)
			s.logger.Error("scan aborted", "panic", r)
			finalize()
			err = fmt.Errorf("scan aborted: %v", r)
		}
	}()

	s.processItems(runCtx, cfg, items, run)
	finalize()

	s.logger.Info("scan finished",
		"processed", run.processed,
		"updated", run.updated,
		"skipped", run.skipped,
		"errors", run.errors,
		"cancelled", run.cancelled)
	return nil
}

// buildItemList consumes the mailbox selection if one is pending, otherwise
// enumerates the catalog with filters. Specials are dropped on both paths.
func (s *Service) buildItemList(ctx context.Context, cfg settings.SyncSettings) (items []catalog.Item, targeted bool, err error) {
	if s.mailbox.HasItems() {
		return s.fillSeriesIMDBIDs(ctx, DropSpecials(s.mailbox.TakeAll())), true, nil
	}

	if len(enabledTypes(cfg)) == 0 {
		s.logger.Error("no item types enabled in settings")
		return nil, false, ErrNoItemTypes
	}

	items, err = s.selectItems(ctx, cfg)
	if err != nil {
		return nil, false, err
	}
	return items, false, nil
}

// runState accumulates per-run counters and the call ledger.
type runState struct {
	cfg     settings.SyncSettings
	history *history.Store

	processed int
	updated   int
	skipped   int
	errors    int
	cancelled bool
	failure   string // non-empty when the run aborted instead of finishing

	updatedNames []string
	calls        map[string]int // calls made this run, per source
	baseline     map[string]int // today's counts before the run started
}

func newRunState(cfg settings.SyncSettings, hist *history.Store) *runState {
	return &runState{
		cfg:     cfg,
		history: hist,
		calls:   make(map[string]int),
		baseline: map[string]int{
			string(provider.NameOMDb):    hist.TodayCount(string(provider.NameOMDb)),
			string(provider.NameMDBList): hist.TodayCount(string(provider.NameMDBList)),
		},
	}
}

// allowed reports whether a source may still be called: configured key and
// daily headroom, counting calls made earlier today and during this run.
func (r *runState) allowed(name provider.SourceName) bool {
	switch name {
	case provider.NameOMDb:
		if r.cfg.OMDbAPIKey == "" {
			return false
		}
		return r.underLimit(name, r.cfg.OMDbDailyLimit)
	case provider.NameMDBList:
		if r.cfg.MDBListAPIKey == "" {
			return false
		}
		return r.underLimit(name, r.cfg.MDBListDailyLimit)
	case provider.NameIMDbWeb:
		return r.cfg.EnableScraping
	default:
		return false
	}
}

func (r *runState) underLimit(name provider.SourceName, limit int) bool {
	if limit <= 0 {
		return true // 0 disables the cap
	}
	return r.baseline[string(name)]+r.calls[string(name)] < limit
}

// anySourceUsable reports whether at least one API source can be called.
func (r *runState) anySourceUsable() bool {
	return r.allowed(provider.NameOMDb) || r.allowed(provider.NameMDBList)
}

func (r *runState) recordCalls(calls map[string]int) {
	for source, n := range calls {
		r.calls[source] += n
		r.history.IncrementCount(source, n)
	}
}

// processItems is the scan loop. Cancellation is checked once per item; the
// loop also halts when every API source crosses its daily cap mid-run.
func (s *Service) processItems(ctx context.Context, cfg settings.SyncSettings, items []catalog.Item, run *runState) {
	for _, item := range items {
		if ctx.Err() != nil {
			s.logger.Warn("scan cancelled")
			run.cancelled = true
			return
		}

		if !run.anySourceUsable() {
			s.logger.Warn("all sources reached their daily limits, stopping for today")
			return
		}

		s.processItem(ctx, cfg, item, run)

		if run.processed%saveInterval == 0 {
			if err := s.history.Save(); err != nil {
				s.logger.Error("saving scan history", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			run.cancelled = true
			return
		case <-time.After(s.itemDelay):
		}
	}
}

func (s *Service) processItem(ctx context.Context, cfg settings.SyncSettings, item catalog.Item, run *runState) {
	itemName := item.DisplayName()

	var episode *provider.EpisodeRef
	if item.Type == catalog.TypeEpisode {
		episode = episodeRef(item)
		if episode == nil {
			run.skipped++
			run.processed++
			s.tracker.AddSkipped(item.Name, "Missing season/episode info")
			s.updateTracker(run, itemName)
			return
		}
	}

	s.updateTracker(run, itemName)
	s.logger.Info("processing", "item", itemName, "imdb_id", lookupID(item, episode))

	outcome := s.resolver.Resolve(ctx, provider.Request{
		IMDBID:        item.IMDBID,
		Episode:       episode,
		Preferred:     preference(cfg.PreferredSource),
		WantCritic:    cfg.UpdateCriticRating,
		ScrapeEnabled: cfg.EnableScraping,
		Allowed:       run.allowed,
	})
	run.recordCalls(stringKeys(outcome.Calls))

	changes, update := diffRatings(item, outcome, cfg.UpdateCriticRating)
	changeDetails := strings.Join(changes, ", ")

	// The history entry is written whether or not anything changed, so the
	// next run's rescan-interval check sees this attempt.
	newCommunity, newCritic := effectiveRatings(item, update)
	entryChange := ""
	if len(changes) > 0 {
		entryChange = changeDetails
	}
	s.history.UpsertEntry(item.ID, newCommunity, newCritic, entryChange)

	if len(changes) > 0 {
		if err := s.catalog.UpdateRatings(ctx, item.ID, update); err != nil {
			run.errors++
			run.processed++
			s.tracker.AddFailure(itemName, err.Error())
			s.logger.Error("updating item", "item", itemName, "error", err)
			s.updateTracker(run, itemName)
			return
		}
		run.updated++
		run.processed++
		run.updatedNames = append(run.updatedNames, itemName)
		s.tracker.AddUpdated(itemName, changeDetails)
		s.bus.Publish(event.Event{Type: event.ItemUpdated, Data: map[string]any{
			"item":    itemName,
			"changes": changeDetails,
		}})
		s.logger.Info("updated", "item", itemName, "changes", changeDetails)
	} else {
		run.skipped++
		run.processed++
		reason := skipReason(item, outcome, cfg.UpdateCriticRating)
		s.tracker.AddSkipped(itemName, reason)
		s.logger.Debug("skipped", "item", itemName, "reason", reason)
	}

	s.updateTracker(run, itemName)
}

func (s *Service) updateTracker(run *runState, itemName string) {
	s.tracker.Update(run.processed, run.updated, run.skipped, run.errors, itemName)
}

// finalize closes out the session exactly once: ledger entry, full report,
// retention cleanup, tracker stop, completion event.
func (s *Service) finalize(session history.Session, run *runState) {
	snapshot := s.tracker.Snapshot()
	summary := history.EndSummary{
		Processed:      run.processed,
		Updated:        run.updated,
		Skipped:        run.skipped,
		Errors:         run.errors,
		Cancelled:      run.cancelled,
		APICalls:       run.calls,
		UpdatedNames:   run.updatedNames,
		UpdatedDetails: snapshot.UpdatedDetails,
		SkippedDetails: snapshot.SkippedDetails,
		FailureDetails: snapshot.FailureDetails,
	}

	s.history.EndSession(session.ID, summary)
	if err := s.history.SaveReport(session, summary); err != nil {
		s.logger.Error("saving session report", "error", err)
	}
	s.history.CleanupOldEntries(keepHistoryDays)
	s.history.CleanupOldReports(keepReports)
	if err := s.history.Save(); err != nil {
		s.logger.Error("saving scan history", "error", err)
	}

	s.tracker.Stop()

	eventType := event.ScanCompleted
	data := map[string]any{
		"session_id": session.ID,
		"processed":  run.processed,
		"updated":    run.updated,
		"skipped":    run.skipped,
		"errors":     run.errors,
	}
	switch {
	case run.failure != "":
		eventType = event.ScanFailed
		data["error"] = run.failure
	case run.cancelled:
		eventType = event.ScanCancelled
	}
	s.bus.Publish(event.Event{Type: eventType, Data: data})
}

// diffRatings compares the outcome against stored values. Only genuine
// changes produce an update; an identical value counts as unchanged.
func diffRatings(item catalog.Item, outcome provider.Outcome, wantCritic bool) ([]string, catalog.RatingUpdate) {
	var changes []string
	var update catalog.RatingUpdate

	label := outcome.SourceLabel()
	if label == "" {
		label = "API"
	}

	if outcome.Community != nil && (item.CommunityRating == nil || *item.CommunityRating != *outcome.Community) {
		update.CommunityRating = outcome.Community
		changes = append(changes, fmt.Sprintf("IMDb: %s → %.1f (%s)",
			formatRating(item.CommunityRating, "%.1f"), *outcome.Community, label))
	}

	if wantCritic && outcome.Critic != nil && (item.CriticRating == nil || *item.CriticRating != *outcome.Critic) {
		update.CriticRating = outcome.Critic
		criticLabel := label
		for _, src := range outcome.Sources {
			if src == provider.NameMDBList {
				criticLabel = provider.NameMDBList.DisplayName()
			}
		}
		changes = append(changes, fmt.Sprintf("RT: %s → %.0f%% (%s)",
			formatPercent(item.CriticRating), *outcome.Critic, criticLabel))
	}

	return changes, update
}

// skipReason explains why an item saw no update, mirroring the comparisons
// in diffRatings.
func skipReason(item catalog.Item, outcome provider.Outcome, wantCritic bool) string {
	var reasons []string

	if outcome.Community == nil && outcome.Critic == nil {
		reasons = append(reasons, "No ratings found")
	} else {
		if outcome.Community != nil && item.CommunityRating != nil && *item.CommunityRating == *outcome.Community {
			reasons = append(reasons, fmt.Sprintf("IMDb unchanged (%.1f)", *item.CommunityRating))
		}
		if wantCritic && outcome.Critic != nil && item.CriticRating != nil && *item.CriticRating == *outcome.Critic {
			reasons = append(reasons, fmt.Sprintf("RT unchanged (%.0f%%)", *item.CriticRating))
		}
		if outcome.Community == nil {
			reasons = append(reasons, "No IMDb rating from sources")
		}
		if wantCritic && outcome.Critic == nil {
			reasons = append(reasons, "No RT rating from sources")
		}
	}

	if len(reasons) == 0 {
		return "No changes needed"
	}
	return strings.Join(reasons, ", ")
}

// effectiveRatings returns the item's ratings as they stand after the
// update, for the history entry.
func effectiveRatings(item catalog.Item, update catalog.RatingUpdate) (*float32, *float32) {
	community := item.CommunityRating
	if update.CommunityRating != nil {
		community = update.CommunityRating
	}
	critic := item.CriticRating
	if update.CriticRating != nil {
		critic = update.CriticRating
	}
	return community, critic
}

// episodeRef builds the lookup context for an episode, or nil when the
// series ID or position is missing; such episodes are skipped, not attempted.
func episodeRef(item catalog.Item) *provider.EpisodeRef {
	if item.SeriesIMDBID == "" {
		return nil
	}
	if item.SeasonNumber == nil || *item.SeasonNumber == 0 {
		return nil
	}
	if item.EpisodeNumber == nil || *item.EpisodeNumber == 0 {
		return nil
	}
	return &provider.EpisodeRef{
		SeriesIMDBID: item.SeriesIMDBID,
		Season:       *item.SeasonNumber,
		Episode:      *item.EpisodeNumber,
	}
}

func lookupID(item catalog.Item, episode *provider.EpisodeRef) string {
	if item.IMDBID != "" {
		return item.IMDBID
	}
	if episode != nil {
		return episode.SeriesIMDBID
	}
	return ""
}

func preference(source string) provider.Preference {
	switch source {
	case settings.SourceMDBList:
		return provider.PreferSecondary
	case settings.SourceBoth:
		return provider.PreferBoth
	default:
		return provider.PreferPrimary
	}
}

func formatRating(v *float32, format string) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf(format, *v)
}

func formatPercent(v *float32) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%.0f%%", *v)
}

func stringKeys(calls map[provider.SourceName]int) map[string]int {
	out := make(map[string]int, len(calls))
	for k, v := range calls {
		out[string(k)] = v
	}
	return out
}

func (s *Service) logUsage(cfg settings.SyncSettings, run *runState) {
	if cfg.OMDbAPIKey != "" && cfg.OMDbDailyLimit > 0 {
		s.logger.Info("daily usage",
			"source", "omdb",
			"used", run.baseline[string(provider.NameOMDb)],
			"limit", cfg.OMDbDailyLimit)
	}
	if cfg.MDBListAPIKey != "" && cfg.MDBListDailyLimit > 0 {
		s.logger.Info("daily usage",
			"source", "mdblist",
			"used", run.baseline[string(provider.NameMDBList)],
			"limit", cfg.MDBListDailyLimit)
	}
}
