// Package provider defines the rating source abstraction and shared types
// used by the source adapters (OMDb, MDBList, IMDb web).
package provider

import (
	"context"
	"errors"
	"fmt"
)

// SourceName uniquely identifies a rating source.
type SourceName string

// Known source names.
const (
	NameOMDb    SourceName = "omdb"
	NameMDBList SourceName = "mdblist"
	NameIMDbWeb SourceName = "imdbweb"
)

// AllSourceNames returns all known source names in display order.
func AllSourceNames() []SourceName {
	return []SourceName{NameOMDb, NameMDBList, NameIMDbWeb}
}

// DisplayName returns a human-readable name for the source.
func (n SourceName) DisplayName() string {
	switch n {
	case NameOMDb:
		return "OMDb"
	case NameMDBList:
		return "MDBList"
	case NameIMDbWeb:
		return "IMDb"
	default:
		return string(n)
	}
}

// RatingData is the set of ratings a source returned for one title. Nil
// fields mean the source had no value; a zero rating is never reported.
type RatingData struct {
	// IMDB is the community rating on a 0-10 scale.
	IMDB *float32 `json:"imdb,omitempty"`

	// Tomatoes is the critic rating on a 0-100 scale.
	Tomatoes *float32 `json:"tomatoes,omitempty"`

	// Source identifies where the values came from.
	Source SourceName `json:"source"`
}

// HasAny reports whether at least one rating value is present.
func (r RatingData) HasAny() bool {
	return r.IMDB != nil || r.Tomatoes != nil
}

// Keychain supplies API keys for sources that require them. The settings
// service satisfies this through a thin adapter at wiring time.
type Keychain interface {
	APIKey(name SourceName) string
}

// TitleSource fetches ratings for a movie or series by IMDb ID.
type TitleSource interface {
	// Name returns the unique source identifier.
	Name() SourceName

	// RequiresAuth returns true if this source needs an API key to function.
	RequiresAuth() bool

	// Ratings fetches ratings for the title with the given IMDb ID.
	Ratings(ctx context.Context, imdbID string) (RatingData, error)
}

// EpisodeSource is a TitleSource that can also look up individual episodes
// by series IMDb ID and position.
type EpisodeSource interface {
	TitleSource

	// EpisodeRatings fetches ratings for one episode of a series.
	EpisodeRatings(ctx context.Context, seriesIMDBID string, season, episode int) (RatingData, error)
}

// FailureReason classifies why a source call failed.
type FailureReason string

// Failure reasons recorded in scan reports.
const (
	FailTimeout FailureReason = "timeout"
	FailHTTP    FailureReason = "http"
	FailParse   FailureReason = "parse"
)

// CallError is a classified source failure.
type CallError struct {
	Source SourceName
	Reason FailureReason
	Cause  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("source %s: %s failure: %v", e.Source, e.Reason, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// ClassifyTransport wraps an HTTP client error as a CallError, detecting
// timeouts so they can be reported distinctly from other transport failures.
func ClassifyTransport(source SourceName, err error) *CallError {
	reason := FailHTTP
	var timeoutErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeoutErr) && timeoutErr.Timeout()) {
		reason = FailTimeout
	}
	return &CallError{Source: source, Reason: reason, Cause: err}
}

// ErrNotFound indicates the source has no data for the requested ID.
type ErrNotFound struct {
	Source SourceName
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("source %s: %s not found", e.Source, e.ID)
}

// ErrAuthRequired indicates the source needs an API key but none is configured.
type ErrAuthRequired struct {
	Source SourceName
}

func (e *ErrAuthRequired) Error() string {
	return fmt.Sprintf("source %s: API key not configured", e.Source)
}
