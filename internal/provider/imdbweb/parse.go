package imdbweb

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Rating extraction patterns, tried in order. The first targets the
// ratingsSummary blob present on episode pages, the second the JSON-LD
// structured data on title pages, the third a bare aggregateRating object.
var (
	reRatingsSummary = regexp.MustCompile(`"ratingsSummary"[^}]*"aggregateRating"\s*:\s*([\d.]+)`)
	reJSONLD         = regexp.MustCompile(`"AggregateRating"[^}]*"ratingValue"\s*:\s*([\d.]+)`)
	reAggregate      = regexp.MustCompile(`"aggregateRating"\s*:\s*\{[^}]*"ratingValue"\s*:\s*([\d.]+)`)
)

// gjson paths into the Next.js page payload where the aggregate rating lives.
var nextDataPaths = []string{
	"props.pageProps.aboveTheFoldData.ratingsSummary.aggregateRating",
	"props.pageProps.contentData.entityMetadata.ratingsSummary.aggregateRating",
}

// parseTitleRating extracts the aggregate rating from an IMDb title page.
// It prefers the embedded Next.js JSON payload and falls back to pattern
// matching scoped near the page's own tconst, so an episode page never
// yields its parent series rating.
func parseTitleRating(html, imdbID string) (float32, bool) {
	if v, ok := parseNextData(html); ok {
		return v, true
	}

	scoped := scopeToTconst(html, imdbID)
	for _, re := range []*regexp.Regexp{reRatingsSummary, reJSONLD, reAggregate} {
		m := re.FindStringSubmatch(scoped)
		if m == nil {
			continue
		}
		if v, ok := validRating(m[1]); ok {
			return v, true
		}
	}
	return 0, false
}

// parseNextData pulls the rating out of the #__NEXT_DATA__ script block.
func parseNextData(html string) (float32, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}

	payload := doc.Find("script#__NEXT_DATA__").Text()
	if payload == "" {
		return 0, false
	}

	for _, path := range nextDataPaths {
		result := gjson.Get(payload, path)
		if !result.Exists() {
			continue
		}
		if v, ok := validRating(result.String()); ok {
			return v, true
		}
	}
	return 0, false
}

// scopeToTconst narrows html to a window around the page's own tconst
// marker. Episode pages embed the parent series data too, and an unscoped
// match could pick up the wrong rating.
func scopeToTconst(html, imdbID string) string {
	needle := `"tconst":"` + imdbID + `"`
	idx := strings.Index(html, needle)
	if idx < 0 {
		return html
	}
	start := idx - 2000
	if start < 0 {
		start = 0
	}
	end := start + 25000
	if end > len(html) {
		end = len(html)
	}
	return html[start:end]
}

// validRating parses s and accepts only the 1-10 range IMDb uses.
func validRating(s string) (float32, bool) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil || f < 1 || f > 10 {
		return 0, false
	}
	return float32(f), true
}

var reEpisodeLink = regexp.MustCompile(`(?i)href\s*=\s*"/title/(tt\d{7,8})/\?ref_=ttep_ep_(\d+)\b`)

var reAnyTitleLink = regexp.MustCompile(`(?i)/title/(tt\d{7,8})/`)

// parseEpisodeIDs builds an episode number to IMDb ID map from a series
// episodes page by scanning its ttep_ep_{N} card links.
func parseEpisodeIDs(html string) map[int]string {
	ids := make(map[int]string)
	for _, m := range reEpisodeLink.FindAllStringSubmatch(html, -1) {
		ep, err := strconv.Atoi(m[2])
		if err != nil || ep <= 0 {
			continue
		}
		ids[ep] = m[1]
	}
	return ids
}

// findEpisodeIDNear is a fallback when the ref format changes: it locates
// the episode marker and takes the nearest title link around it.
func findEpisodeIDNear(html string, episode int) (string, bool) {
	for _, needle := range []string{
		"ttep_ep_" + strconv.Itoa(episode),
		"ttep_ep" + strconv.Itoa(episode),
	} {
		idx := strings.Index(strings.ToLower(html), needle)
		if idx < 0 {
			continue
		}
		start := idx - 1000
		if start < 0 {
			start = 0
		}
		end := start + 3000
		if end > len(html) {
			end = len(html)
		}
		if m := reAnyTitleLink.FindStringSubmatch(html[start:end]); m != nil {
			return m[1], true
		}
	}
	return "", false
}
