package scan

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sydlexius/ratingsync/internal/catalog"
	"github.com/sydlexius/ratingsync/internal/encryption"
	"github.com/sydlexius/ratingsync/internal/event"
	"github.com/sydlexius/ratingsync/internal/history"
	"github.com/sydlexius/ratingsync/internal/progress"
	"github.com/sydlexius/ratingsync/internal/provider"
	"github.com/sydlexius/ratingsync/internal/settings"
)

func f32(v float32) *float32 { return &v }

func iptr(v int) *int { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeCatalog serves a fixed item list and records rating writes.
type fakeCatalog struct {
	items      []catalog.Item
	itemsCalls int
	updates    map[string]catalog.RatingUpdate
	updateErr  error
}

func newFakeCatalog(items ...catalog.Item) *fakeCatalog {
	return &fakeCatalog{items: items, updates: make(map[string]catalog.RatingUpdate)}
}

func (c *fakeCatalog) Items(_ context.Context, types []catalog.ItemType) ([]catalog.Item, error) {
	c.itemsCalls++
	want := make(map[catalog.ItemType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []catalog.Item
	for _, item := range c.items {
		if want[item.Type] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Item(_ context.Context, id string) (catalog.Item, error) {
	for _, item := range c.items {
		if item.ID == id {
			return item, nil
		}
	}
	return catalog.Item{}, nil
}

func (c *fakeCatalog) UpdateRatings(_ context.Context, id string, update catalog.RatingUpdate) error {
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updates[id] = update
	return nil
}

func (c *fakeCatalog) Libraries(context.Context) ([]catalog.Library, error) { return nil, nil }

func (c *fakeCatalog) SeriesIn(context.Context, string) ([]catalog.Item, error) { return nil, nil }

func (c *fakeCatalog) MoviesIn(context.Context, string) ([]catalog.Item, error) { return nil, nil }

func (c *fakeCatalog) Seasons(context.Context, string) ([]catalog.Season, error) { return nil, nil }

func (c *fakeCatalog) EpisodesIn(context.Context, string) ([]catalog.Item, error) { return nil, nil }

// fakeSource scripts a provider for the resolver.
type fakeSource struct {
	name   provider.SourceName
	data   provider.RatingData
	err    error
	calls  int
	onCall func()
}

func (f *fakeSource) Name() provider.SourceName { return f.name }

func (f *fakeSource) RequiresAuth() bool { return false }

func (f *fakeSource) Ratings(context.Context, string) (provider.RatingData, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	return f.data, f.err
}

func (f *fakeSource) EpisodeRatings(context.Context, string, int, int) (provider.RatingData, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	return f.data, f.err
}

type harness struct {
	service *Service
	catalog *fakeCatalog
	tracker *progress.Tracker
	history *history.Store
	primary *fakeSource
	scraper *fakeSource
	bus     *event.Bus
}

func newHarness(t *testing.T, cfg settings.SyncSettings, items ...catalog.Item) *harness {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	_, err = db.ExecContext(context.Background(),
		`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL DEFAULT (datetime('now')))`)
	if err != nil {
		t.Fatalf("creating settings table: %v", err)
	}

	enc, err := encryption.NewEncryptor(t.TempDir())
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	settingsService, err := settings.NewService(db, enc)
	if err != nil {
		t.Fatalf("creating settings service: %v", err)
	}
	if err := settingsService.Update(context.Background(), cfg); err != nil {
		t.Fatalf("storing test settings: %v", err)
	}

	logger := testLogger()
	hist, err := history.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("creating history store: %v", err)
	}

	primary := &fakeSource{name: provider.NameOMDb}
	secondary := &fakeSource{name: provider.NameMDBList}
	scraper := &fakeSource{name: provider.NameIMDbWeb}
	resolver := provider.NewResolver(primary, secondary, scraper, logger)

	cat := newFakeCatalog(items...)
	tracker := progress.NewTracker()
	bus := event.NewBus(logger, 16)

	svc := NewService(cat, resolver, tracker, hist, settingsService, bus, logger)
	svc.itemDelay = time.Millisecond

	return &harness{
		service: svc,
		catalog: cat,
		tracker: tracker,
		history: hist,
		primary: primary,
		scraper: scraper,
		bus:     bus,
	}
}

func baseSettings() settings.SyncSettings {
	cfg := settings.Defaults()
	cfg.OMDbAPIKey = "omdb-key"
	cfg.MDBListAPIKey = "mdblist-key"
	return cfg
}

func movie(id, name string, rating *float32) catalog.Item {
	return catalog.Item{
		ID:              id,
		Name:            name,
		Type:            catalog.TypeMovie,
		IMDBID:          "tt" + id,
		CommunityRating: rating,
	}
}

func TestRunUpdatesAndSkips(t *testing.T) {
	h := newHarness(t, baseSettings(),
		movie("0000001", "Heat", nil),
		movie("0000002", "Se7en", f32(8.3)),
	)
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := h.tracker.Snapshot()
	if snap.ProcessedItems != 2 {
		t.Errorf("processed = %d, want 2", snap.ProcessedItems)
	}
	if snap.UpdatedItems != 1 || snap.SkippedItems != 1 || snap.ErrorItems != 0 {
		t.Errorf("updated/skipped/errors = %d/%d/%d, want 1/1/0",
			snap.UpdatedItems, snap.SkippedItems, snap.ErrorItems)
	}
	if snap.ProcessedItems != snap.UpdatedItems+snap.SkippedItems+snap.ErrorItems {
		t.Error("counter invariant broken")
	}

	update, ok := h.catalog.updates["0000001"]
	if !ok {
		t.Fatal("unrated movie not written back")
	}
	if update.CommunityRating == nil || *update.CommunityRating != 8.3 {
		t.Errorf("written rating = %v, want 8.3", update.CommunityRating)
	}
	if _, ok := h.catalog.updates["0000002"]; ok {
		t.Error("unchanged movie written back")
	}

	if len(snap.UpdatedDetails) != 1 || snap.UpdatedDetails[0].Detail != "IMDb: none → 8.3 (OMDb)" {
		t.Errorf("change description = %v", snap.UpdatedDetails)
	}
	if len(snap.SkippedDetails) != 1 || snap.SkippedDetails[0].Detail != "IMDb unchanged (8.3)" {
		t.Errorf("skip reason = %v", snap.SkippedDetails)
	}
}

func TestRunRecordsSession(t *testing.T) {
	h := newHarness(t, baseSettings(), movie("0000001", "Heat", nil))
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sessions := h.history.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	sess := sessions[0]
	if sess.EndTime == nil {
		t.Error("session not finalized")
	}
	if sess.UpdatedItems != 1 {
		t.Errorf("session updated = %d, want 1", sess.UpdatedItems)
	}
	if sess.APICalls["omdb"] != 1 {
		t.Errorf("session api calls = %v, want omdb:1", sess.APICalls)
	}
	if h.history.TodayCount("omdb") != 1 {
		t.Errorf("daily counter = %d, want 1", h.history.TodayCount("omdb"))
	}

	report, err := h.history.ReportFor(sess.ID)
	if err != nil || report == nil {
		t.Fatalf("ReportFor: %v, %v", report, err)
	}
	if len(report.UpdatedDetails) != 1 {
		t.Errorf("report details = %v", report.UpdatedDetails)
	}
}

func TestRunNoAPIKeys(t *testing.T) {
	cfg := settings.Defaults()
	h := newHarness(t, cfg, movie("0000001", "Heat", nil))

	if err := h.service.Run(context.Background()); err != ErrNoAPIKeys {
		t.Errorf("err = %v, want ErrNoAPIKeys", err)
	}
	if len(h.history.Sessions()) != 0 {
		t.Error("preflight failure created a session")
	}
}

func TestRunNoItemTypes(t *testing.T) {
	cfg := baseSettings()
	cfg.UpdateMovies = false
	cfg.UpdateSeries = false
	cfg.UpdateEpisodes = false
	h := newHarness(t, cfg, movie("0000001", "Heat", nil))

	if err := h.service.Run(context.Background()); err != ErrNoItemTypes {
		t.Errorf("err = %v, want ErrNoItemTypes", err)
	}
}

func TestRunAllSourcesAtCap(t *testing.T) {
	cfg := baseSettings()
	cfg.OMDbDailyLimit = 5
	cfg.MDBListAPIKey = ""
	h := newHarness(t, cfg, movie("0000001", "Heat", nil))
	h.history.IncrementCount("omdb", 5)

	if err := h.service.Run(context.Background()); err != ErrAllSourcesAtCap {
		t.Errorf("err = %v, want ErrAllSourcesAtCap", err)
	}
}

func TestRunStopsWhenCapReachedMidRun(t *testing.T) {
	cfg := baseSettings()
	cfg.OMDbDailyLimit = 1
	cfg.MDBListAPIKey = ""
	cfg.EnableScraping = false
	h := newHarness(t, cfg,
		movie("0000001", "Heat", nil),
		movie("0000002", "Se7en", nil),
		movie("0000003", "Ronin", nil),
	)
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.primary.calls != 1 {
		t.Errorf("api calls = %d, want 1 before the cap halts the run", h.primary.calls)
	}
	snap := h.tracker.Snapshot()
	if snap.ProcessedItems != 1 {
		t.Errorf("processed = %d, want 1", snap.ProcessedItems)
	}
	sess := h.history.Sessions()[0]
	if sess.Cancelled {
		t.Error("cap halt recorded as cancellation")
	}
	if sess.EndTime == nil {
		t.Error("session not finalized after cap halt")
	}
}

func TestRunCancellation(t *testing.T) {
	h := newHarness(t, baseSettings(),
		movie("0000001", "Heat", nil),
		movie("0000002", "Se7en", nil),
		movie("0000003", "Ronin", nil),
	)
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}
	h.primary.onCall = func() { h.service.Cancel() }

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := h.tracker.Snapshot()
	if snap.ProcessedItems >= 3 {
		t.Errorf("processed = %d, want early stop", snap.ProcessedItems)
	}
	// The in-flight item still completed and was written back.
	if _, ok := h.catalog.updates["0000001"]; !ok {
		t.Error("current item abandoned instead of finishing")
	}
	sess := h.history.Sessions()[0]
	if !sess.Cancelled {
		t.Error("session not marked cancelled")
	}
	if sess.EndTime == nil {
		t.Error("cancelled session not finalized")
	}
	if h.service.Running() {
		t.Error("service still running after cancelled run returned")
	}
}

func TestRunPanicFinalizesSession(t *testing.T) {
	h := newHarness(t, baseSettings(), movie("0000001", "Heat", nil))
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}
	h.primary.onCall = func() { panic("provider blew up") }

	var mu sync.Mutex
	var failed []event.Event
	h.bus.Subscribe(event.ScanFailed, func(e event.Event) {
		mu.Lock()
		failed = append(failed, e)
		mu.Unlock()
	})
	go h.bus.Start()
	t.Cleanup(h.bus.Stop)

	err := h.service.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "scan aborted") {
		t.Fatalf("Run error = %v, want aborted run", err)
	}

	sess := h.history.Sessions()[0]
	if !sess.Cancelled {
		t.Error("session not marked cancelled after aborted run")
	}
	if sess.EndTime == nil {
		t.Error("session left open after aborted run")
	}
	if h.service.Running() {
		t.Error("service still running after aborted run returned")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(failed)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no failure event delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 {
		t.Fatalf("failure events = %d, want 1", len(failed))
	}
	if failed[0].Data["error"] != "provider blew up" {
		t.Errorf("failure payload = %v", failed[0].Data)
	}

	// A fresh run is possible once the aborted one has been closed out.
	h.primary.onCall = nil
	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run after aborted run: %v", err)
	}
}
	h := newHarness(t, baseSettings(), catalog.Item{
		ID:           "ep1",
		Name:         "Pilot",
		Type:         catalog.TypeEpisode,
		SeriesName:   "Breaking Bad",
		SeriesIMDBID: "tt0903747",
		SeasonNumber: iptr(1),
	})

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := h.tracker.Snapshot()
	if snap.SkippedItems != 1 {
		t.Fatalf("skipped = %d, want 1", snap.SkippedItems)
	}
	if snap.SkippedDetails[0].Detail != "Missing season/episode info" {
		t.Errorf("skip reason = %q", snap.SkippedDetails[0].Detail)
	}
	if h.primary.calls != 0 {
		t.Error("sources consulted for an episode without a position")
	}
}

func TestRunResolvesSeriesIMDbID(t *testing.T) {
	cfg := baseSettings()
	cfg.UpdateMovies = false
	cfg.UpdateSeries = false
	h := newHarness(t, cfg,
		catalog.Item{
			ID:     "series-1",
			Name:   "Breaking Bad",
			Type:   catalog.TypeSeries,
			IMDBID: "tt0903747",
		},
		catalog.Item{
			ID:            "ep1",
			Name:          "Pilot",
			Type:          catalog.TypeEpisode,
			SeriesID:      "series-1",
			SeriesName:    "Breaking Bad",
			SeasonNumber:  iptr(1),
			EpisodeNumber: iptr(1),
		},
	)
	h.primary.data = provider.RatingData{IMDB: f32(9.0), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The episode carries no IMDb ID of its own; the parent series lookup
	// supplies it.
	update, ok := h.catalog.updates["ep1"]
	if !ok {
		t.Fatal("episode not written back")
	}
	if update.CommunityRating == nil || *update.CommunityRating != 9.0 {
		t.Errorf("written rating = %v, want 9.0", update.CommunityRating)
	}
	if h.primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", h.primary.calls)
	}
}

func TestRunDropsSpecials(t *testing.T) {
	h := newHarness(t, baseSettings(), catalog.Item{
		ID:            "sp1",
		Name:          "Christmas Special",
		Type:          catalog.TypeEpisode,
		SeriesName:    "Doctor Who",
		SeriesIMDBID:  "tt0436992",
		SeasonNumber:  iptr(0),
		EpisodeNumber: iptr(1),
	})
	h.primary.data = provider.RatingData{IMDB: f32(8.0), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if snap := h.tracker.Snapshot(); snap.TotalItems != 0 {
		t.Errorf("total = %d, want season-zero episode excluded", snap.TotalItems)
	}
}

func TestRunTargetedMailbox(t *testing.T) {
	h := newHarness(t, baseSettings(), movie("0000009", "Catalog Movie", nil))
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}

	selected := []catalog.Item{
		movie("0000001", "Heat", nil),
		{
			ID:            "sp1",
			Name:          "Special",
			Type:          catalog.TypeEpisode,
			SeriesIMDBID:  "tt0000000",
			SeasonNumber:  iptr(0),
			EpisodeNumber: iptr(1),
		},
	}
	h.service.Mailbox().Set(selected)

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.catalog.itemsCalls != 0 {
		t.Error("targeted run enumerated the catalog")
	}
	if snap := h.tracker.Snapshot(); snap.TotalItems != 1 {
		t.Errorf("total = %d, want 1 after dropping the special", snap.TotalItems)
	}
	if h.service.Mailbox().HasItems() {
		t.Error("mailbox not drained")
	}
}

func TestRunTestModeSingleItem(t *testing.T) {
	cfg := baseSettings()
	cfg.TestMode = true
	h := newHarness(t, cfg,
		movie("0000001", "Heat", nil),
		movie("0000002", "Se7en", nil),
	)
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if snap := h.tracker.Snapshot(); snap.ProcessedItems != 1 {
		t.Errorf("processed = %d, want 1 in test mode", snap.ProcessedItems)
	}
}

func TestRunSkipsRecentlyScanned(t *testing.T) {
	h := newHarness(t, baseSettings(), movie("0000001", "Heat", nil))
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}
	h.history.UpsertEntry("0000001", f32(8.3), nil, "")

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if snap := h.tracker.Snapshot(); snap.TotalItems != 0 {
		t.Errorf("total = %d, want recently scanned item filtered out", snap.TotalItems)
	}
	if h.primary.calls != 0 {
		t.Error("sources consulted for a filtered item")
	}
}

func TestRunSkipRatedItems(t *testing.T) {
	cfg := baseSettings()
	cfg.SkipRatedItems = true
	h := newHarness(t, cfg,
		movie("0000001", "Heat", f32(8.3)),
		movie("0000002", "Se7en", nil),
	)
	h.primary.data = provider.RatingData{IMDB: f32(8.6), Source: provider.NameOMDb}

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if snap := h.tracker.Snapshot(); snap.TotalItems != 1 {
		t.Errorf("total = %d, want already-rated item filtered out", snap.TotalItems)
	}
}

func TestRunCatalogWriteFailure(t *testing.T) {
	h := newHarness(t, baseSettings(), movie("0000001", "Heat", nil))
	h.primary.data = provider.RatingData{IMDB: f32(8.3), Source: provider.NameOMDb}
	h.catalog.updateErr = context.DeadlineExceeded

	if err := h.service.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := h.tracker.Snapshot()
	if snap.ErrorItems != 1 || snap.UpdatedItems != 0 {
		t.Errorf("errors/updated = %d/%d, want 1/0", snap.ErrorItems, snap.UpdatedItems)
	}
	if len(snap.FailureDetails) != 1 {
		t.Errorf("failure details = %v", snap.FailureDetails)
	}
}

func TestRunRejectsConcurrent(t *testing.T) {
	h := newHarness(t, baseSettings())

	h.service.mu.Lock()
	h.service.running = true
	h.service.mu.Unlock()

	if err := h.service.Run(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}
