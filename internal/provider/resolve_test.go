package provider

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func f32(v float32) *float32 { return &v }

// fakeSource scripts a rating source for resolver tests.
type fakeSource struct {
	name         SourceName
	data         RatingData
	err          error
	titleCalls   int
	episodeCalls int
}

func (f *fakeSource) Name() SourceName { return f.name }

func (f *fakeSource) RequiresAuth() bool { return false }

func (f *fakeSource) Ratings(_ context.Context, _ string) (RatingData, error) {
	f.titleCalls++
	return f.data, f.err
}

func (f *fakeSource) EpisodeRatings(_ context.Context, _ string, _, _ int) (RatingData, error) {
	f.episodeCalls++
	return f.data, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestResolver(primary, secondary, scraper *fakeSource) *Resolver {
	return NewResolver(primary, secondary, scraper, testLogger())
}

func TestResolveTitlePrimaryHasEverything(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(7.5), Tomatoes: f32(88)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{IMDB: f32(6.0)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{IMDBID: "tt0111161", Preferred: PreferPrimary, WantCritic: true})

	if out.Community == nil || *out.Community != 7.5 {
		t.Errorf("community = %v, want 7.5", out.Community)
	}
	if out.Critic == nil || *out.Critic != 88 {
		t.Errorf("critic = %v, want 88", out.Critic)
	}
	if secondary.titleCalls != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.titleCalls)
	}
	if out.Calls[NameOMDb] != 1 {
		t.Errorf("omdb call count = %d, want 1", out.Calls[NameOMDb])
	}
}

func TestResolveTitleFallbackFillsOnlyMissing(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(7.5)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{IMDB: f32(6.0), Tomatoes: f32(71)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{IMDBID: "tt0111161", Preferred: PreferPrimary, WantCritic: true})

	if out.Community == nil || *out.Community != 7.5 {
		t.Errorf("community = %v, want 7.5 from primary", out.Community)
	}
	if out.Critic == nil || *out.Critic != 71 {
		t.Errorf("critic = %v, want 71 from fallback", out.Critic)
	}
	if secondary.titleCalls != 1 {
		t.Errorf("secondary called %d times, want 1", secondary.titleCalls)
	}
}

func TestResolveTitleNoFallbackWithoutCritic(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(7.5)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{Tomatoes: f32(71)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{IMDBID: "tt0111161", Preferred: PreferPrimary, WantCritic: false})

	if secondary.titleCalls != 0 {
		t.Errorf("secondary called %d times, want 0 when critic not wanted", secondary.titleCalls)
	}
	if out.Critic != nil {
		t.Errorf("critic = %v, want nil", out.Critic)
	}
}

func TestResolveTitlePreferSecondaryOrder(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(7.5)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{IMDB: f32(6.0)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{IMDBID: "tt0111161", Preferred: PreferSecondary})

	if out.Community == nil || *out.Community != 6.0 {
		t.Errorf("community = %v, want 6.0 from mdblist", out.Community)
	}
	if primary.titleCalls != 0 {
		t.Errorf("primary called %d times, want 0", primary.titleCalls)
	}
}

func TestResolveTitlePreferBothConsultsBoth(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(7.5)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{Tomatoes: f32(71)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{IMDBID: "tt0111161", Preferred: PreferBoth})

	if out.Community == nil || *out.Community != 7.5 {
		t.Errorf("community = %v, want 7.5", out.Community)
	}
	if out.Critic == nil || *out.Critic != 71 {
		t.Errorf("critic = %v, want 71", out.Critic)
	}
	if len(out.Sources) != 2 {
		t.Errorf("sources = %v, want both", out.Sources)
	}
}

func TestResolveTitleSourceErrorDoesNotFailItem(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, err: &ErrNotFound{Source: NameOMDb, ID: "tt0111161"}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{IMDB: f32(6.0)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{IMDBID: "tt0111161", Preferred: PreferPrimary})

	if out.Community == nil || *out.Community != 6.0 {
		t.Errorf("community = %v, want 6.0 from fallback after primary miss", out.Community)
	}
	if out.Calls[NameOMDb] != 1 || out.Calls[NameMDBList] != 1 {
		t.Errorf("calls = %v, want one attempt each", out.Calls)
	}
}

func TestResolveTitleRespectsAllowed(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(7.5)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{IMDB: f32(6.0)}}
	r := newTestResolver(primary, secondary, &fakeSource{name: NameIMDbWeb})

	out := r.Resolve(context.Background(), Request{
		IMDBID:    "tt0111161",
		Preferred: PreferPrimary,
		Allowed:   func(n SourceName) bool { return n != NameOMDb },
	})

	if primary.titleCalls != 0 {
		t.Errorf("primary called %d times, want 0 when capped", primary.titleCalls)
	}
	if out.Community == nil || *out.Community != 6.0 {
		t.Errorf("community = %v, want 6.0", out.Community)
	}
}

func TestResolveEpisodePrimaryOnly(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, data: RatingData{IMDB: f32(8.2)}}
	secondary := &fakeSource{name: NameMDBList, data: RatingData{IMDB: f32(6.0)}}
	scraper := &fakeSource{name: NameIMDbWeb, data: RatingData{IMDB: f32(9.9)}}
	r := newTestResolver(primary, secondary, scraper)

	out := r.Resolve(context.Background(), Request{
		Episode:       &EpisodeRef{SeriesIMDBID: "tt0903747", Season: 5, Episode: 14},
		ScrapeEnabled: true,
	})

	if out.Community == nil || *out.Community != 8.2 {
		t.Errorf("community = %v, want 8.2", out.Community)
	}
	if secondary.titleCalls != 0 || secondary.episodeCalls != 0 {
		t.Error("secondary must never be consulted for episodes")
	}
	if scraper.titleCalls != 0 && scraper.episodeCalls != 0 {
		t.Error("scraper must not run when the API found a rating")
	}
	if out.Scraped {
		t.Error("Scraped = true, want false")
	}
}

func TestResolveEpisodeScrapeFallback(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, err: &ErrNotFound{Source: NameOMDb, ID: "tt0903747"}}
	scraper := &fakeSource{name: NameIMDbWeb, data: RatingData{IMDB: f32(9.9)}}
	r := newTestResolver(primary, &fakeSource{name: NameMDBList}, scraper)

	out := r.Resolve(context.Background(), Request{
		Episode:       &EpisodeRef{SeriesIMDBID: "tt0903747", Season: 5, Episode: 14},
		ScrapeEnabled: true,
	})

	if out.Community == nil || *out.Community != 9.9 {
		t.Errorf("community = %v, want 9.9 from scrape", out.Community)
	}
	if !out.Scraped {
		t.Error("Scraped = false, want true")
	}
	if scraper.episodeCalls != 1 {
		t.Errorf("scraper episode calls = %d, want 1", scraper.episodeCalls)
	}
}

func TestResolveEpisodeScrapePrefersDirectID(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, err: &ErrNotFound{Source: NameOMDb, ID: "tt2301451"}}
	scraper := &fakeSource{name: NameIMDbWeb, data: RatingData{IMDB: f32(9.9)}}
	r := newTestResolver(primary, &fakeSource{name: NameMDBList}, scraper)

	r.Resolve(context.Background(), Request{
		IMDBID:        "tt2301451",
		Episode:       &EpisodeRef{SeriesIMDBID: "tt0903747", Season: 5, Episode: 14},
		ScrapeEnabled: true,
	})

	if scraper.titleCalls != 1 {
		t.Errorf("scraper title calls = %d, want direct lookup by episode ID", scraper.titleCalls)
	}
	if scraper.episodeCalls != 0 {
		t.Errorf("scraper episode calls = %d, want 0", scraper.episodeCalls)
	}
}

func TestResolveEpisodeScrapeDisabled(t *testing.T) {
	primary := &fakeSource{name: NameOMDb, err: &ErrNotFound{Source: NameOMDb, ID: "tt0903747"}}
	scraper := &fakeSource{name: NameIMDbWeb, data: RatingData{IMDB: f32(9.9)}}
	r := newTestResolver(primary, &fakeSource{name: NameMDBList}, scraper)

	out := r.Resolve(context.Background(), Request{
		Episode:       &EpisodeRef{SeriesIMDBID: "tt0903747", Season: 5, Episode: 14},
		ScrapeEnabled: false,
	})

	if scraper.titleCalls != 0 || scraper.episodeCalls != 0 {
		t.Error("scraper must not run when scraping is disabled")
	}
	if out.Community != nil {
		t.Errorf("community = %v, want nil", out.Community)
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		name string
		out  Outcome
		want string
	}{
		{"single api", Outcome{Sources: []SourceName{NameOMDb}}, "OMDb"},
		{"both apis", Outcome{Sources: []SourceName{NameOMDb, NameMDBList}}, "OMDb+MDBList"},
		{"scrape only", Outcome{Sources: []SourceName{NameIMDbWeb}, Scraped: true}, "Scraped"},
		{"api then scrape", Outcome{Sources: []SourceName{NameOMDb, NameIMDbWeb}, Scraped: true}, "OMDb+Scraped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.out.SourceLabel(); got != tt.want {
				t.Errorf("SourceLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}
