// Package history persists per-item scan state, daily API call counters,
// and the session ledger with drill-down reports. The aggregate state lives
// in one JSON document; full reports are one JSON file per session so the
// aggregate stays small.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/ratingsync/internal/progress"
)

const (
	historyFileName = "scan_history.json"
	reportsDirName  = "scan_reports"

	// counterRetentionDays bounds the daily counter maps.
	counterRetentionDays = 7

	// Caps on inline session samples. Full details live in the report file.
	maxUpdatedNames   = 100
	maxDetailSamples  = 100
	maxFailureSamples = 200

	// maxSessions bounds the session ledger during cleanup.
	maxSessions = 50
)

// Sentinel errors for DeleteSession.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionInProgress = errors.New("session in progress")
)

// Entry is the last-scan state for one catalog item.
type Entry struct {
	LastScanned           time.Time `json:"last_scanned"`
	LastRating            *float32  `json:"last_rating,omitempty"`
	LastCriticRating      *float32  `json:"last_critic_rating,omitempty"`
	LastChangeDescription string    `json:"last_change_description,omitempty"`
}

// Session is one scan run in the ledger, most recent first.
type Session struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	TotalItems     int  `json:"total_items"`
	ProcessedItems int  `json:"processed_items"`
	UpdatedItems   int  `json:"updated_items"`
	SkippedItems   int  `json:"skipped_items"`
	ErrorItems     int  `json:"error_items"`
	Cancelled      bool `json:"cancelled"`

	// Calls made during this session, keyed by source name.
	APICalls map[string]int `json:"api_calls,omitempty"`

	UpdatedNames   []string          `json:"updated_names,omitempty"`
	UpdatedDetails []progress.Detail `json:"updated_details,omitempty"`
	SkippedDetails []progress.Detail `json:"skipped_details,omitempty"`
	FailureDetails []progress.Detail `json:"failure_details,omitempty"`
}

// Report is the uncapped per-session record, stored in its own file.
type Report struct {
	SessionID   string    `json:"session_id"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalItems     int  `json:"total_items"`
	ProcessedItems int  `json:"processed_items"`
	UpdatedItems   int  `json:"updated_items"`
	SkippedItems   int  `json:"skipped_items"`
	ErrorItems     int  `json:"error_items"`
	Cancelled      bool `json:"cancelled"`

	UpdatedDetails []progress.Detail `json:"updated_details"`
	SkippedDetails []progress.Detail `json:"skipped_details"`
	FailureDetails []progress.Detail `json:"failure_details"`
}

// EndSummary carries everything needed to finalize a session.
type EndSummary struct {
	Processed int
	Updated   int
	Skipped   int
	Errors    int
	Cancelled bool

	APICalls map[string]int

	UpdatedNames   []string
	UpdatedDetails []progress.Detail
	SkippedDetails []progress.Detail
	FailureDetails []progress.Detail
}

// document is the on-disk shape of the aggregate history file.
type document struct {
	Entries  map[string]Entry          `json:"entries"`
	Counters map[string]map[string]int `json:"counters"` // source -> day -> count
	Sessions []Session                 `json:"sessions"`
}

// Store owns the scan history state. One mutex serializes all access;
// readers get defensive copies.
type Store struct {
	mu sync.Mutex

	doc         document
	historyPath string
	reportsDir  string
	logger      *slog.Logger
}

// NewStore loads the history document from dataDir. A missing or corrupt
// file starts empty rather than failing.
func NewStore(dataDir string, logger *slog.Logger) (*Store, error) {
	reportsDir := filepath.Join(dataDir, reportsDirName)
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reports dir: %w", err)
	}

	s := &Store{
		historyPath: filepath.Join(dataDir, historyFileName),
		reportsDir:  reportsDir,
		logger:      logger.With(slog.String("component", "history")),
	}
	s.doc = s.load()
	return s, nil
}

func (s *Store) load() document {
	doc := emptyDocument()

	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("could not read history file, starting empty", "error", err)
		}
		return doc
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("history file corrupt, starting empty", "error", err)
		return emptyDocument()
	}

	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	if doc.Counters == nil {
		doc.Counters = make(map[string]map[string]int)
	}
	return doc
}

func emptyDocument() document {
	return document{
		Entries:  make(map[string]Entry),
		Counters: make(map[string]map[string]int),
	}
}

// Entry returns the history entry for an item, if present.
func (s *Store) Entry(itemID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[itemID]
	return e, ok
}

// AllEntries returns a copy of every item entry, keyed by item ID.
func (s *Store) AllEntries() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]Entry, len(s.doc.Entries))
	for id, e := range s.doc.Entries {
		entries[id] = e
	}
	return entries
}

// UpsertEntry records the result of one item's scan attempt. Called after
// every attempt, changed or not, so rescan-interval checks stay accurate.
func (s *Store) UpsertEntry(itemID string, rating, criticRating *float32, changeDescription string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Entries[itemID] = Entry{
		LastScanned:           time.Now().UTC(),
		LastRating:            rating,
		LastCriticRating:      criticRating,
		LastChangeDescription: changeDescription,
	}
}

// TodayCount returns today's call count for a source.
func (s *Store) TodayCount(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Counters[source][dayKey(time.Now().UTC())]
}

// IncrementCount adds to today's counter for a source, purging days past
// the retention window.
func (s *Store) IncrementCount(source string, amount int) {
	if amount <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	days := s.doc.Counters[source]
	if days == nil {
		days = make(map[string]int)
		s.doc.Counters[source] = days
	}

	now := time.Now().UTC()
	days[dayKey(now)] += amount

	cutoff := dayKey(now.AddDate(0, 0, -counterRetentionDays))
	for _, perDay := range s.doc.Counters {
		for day := range perDay {
			if day < cutoff {
				delete(perDay, day)
			}
		}
	}
}

// StartSession creates a new session at the head of the ledger and persists
// it immediately so a crash mid-run still leaves a trace.
func (s *Store) StartSession(totalItems int) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := Session{
		ID:         uuid.NewString(),
		StartTime:  time.Now().UTC(),
		TotalItems: totalItems,
	}
	s.doc.Sessions = append([]Session{session}, s.doc.Sessions...)

	if err := s.persist(); err != nil {
		s.logger.Error("persisting session start", "error", err)
	}
	return session
}

// EndSession finalizes a session exactly once, capping the inline samples.
// Finalizing an already-finalized or unknown session is a no-op.
func (s *Store) EndSession(sessionID string, summary EndSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Sessions {
		if s.doc.Sessions[i].ID != sessionID {
			continue
		}
		if s.doc.Sessions[i].EndTime != nil {
			return
		}

		now := time.Now().UTC()
		sess := &s.doc.Sessions[i]
		sess.EndTime = &now
		sess.ProcessedItems = summary.Processed
		sess.UpdatedItems = summary.Updated
		sess.SkippedItems = summary.Skipped
		sess.ErrorItems = summary.Errors
		sess.Cancelled = summary.Cancelled
		sess.APICalls = summary.APICalls
		sess.UpdatedNames = capStrings(summary.UpdatedNames, maxUpdatedNames)
		sess.UpdatedDetails = capDetails(summary.UpdatedDetails, maxDetailSamples)
		sess.SkippedDetails = capDetails(summary.SkippedDetails, maxDetailSamples)
		sess.FailureDetails = capDetails(summary.FailureDetails, maxFailureSamples)

		if err := s.persist(); err != nil {
			s.logger.Error("persisting session end", "error", err)
		}
		return
	}
}

// Sessions returns a copy of the ledger, most recent first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.doc.Sessions))
	copy(out, s.doc.Sessions)
	return out
}

// DeleteSession removes a session and its report file. A live session (no
// end time and not cancelled) is never deleted. Report file removal is
// best-effort.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Sessions {
		if s.doc.Sessions[i].ID != sessionID {
			continue
		}
		if s.doc.Sessions[i].EndTime == nil && !s.doc.Sessions[i].Cancelled {
			return ErrSessionInProgress
		}

		s.doc.Sessions = append(s.doc.Sessions[:i], s.doc.Sessions[i+1:]...)
		if err := os.Remove(s.reportPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("could not delete report file", "session_id", sessionID, "error", err)
		}

		if err := s.persist(); err != nil {
			s.logger.Error("persisting session delete", "error", err)
		}
		return nil
	}
	return ErrSessionNotFound
}

// CleanupOldEntries prunes item entries last scanned before keepDays ago
// and trims the session ledger to the most recent entries.
func (s *Store) CleanupOldEntries(keepDays int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)
	for id, entry := range s.doc.Entries {
		if entry.LastScanned.Before(cutoff) {
			delete(s.doc.Entries, id)
		}
	}

	if len(s.doc.Sessions) > maxSessions {
		s.doc.Sessions = s.doc.Sessions[:maxSessions]
	}
}

// Save persists the aggregate document via atomic whole-file rewrite.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	return atomicWrite(s.historyPath, data)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func capStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

func capDetails(in []progress.Detail, n int) []progress.Detail {
	if len(in) <= n {
		return in
	}
	return in[:n]
}
