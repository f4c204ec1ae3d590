package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sydlexius/ratingsync/internal/progress"
)

// SaveReport writes the uncapped report for a session to its own file.
func (s *Store) SaveReport(session Session, summary EndSummary) error {
	report := Report{
		SessionID:      session.ID,
		GeneratedAt:    time.Now().UTC(),
		TotalItems:     session.TotalItems,
		ProcessedItems: summary.Processed,
		UpdatedItems:   summary.Updated,
		SkippedItems:   summary.Skipped,
		ErrorItems:     summary.Errors,
		Cancelled:      summary.Cancelled,
		UpdatedDetails: orEmpty(summary.UpdatedDetails),
		SkippedDetails: orEmpty(summary.SkippedDetails),
		FailureDetails: orEmpty(summary.FailureDetails),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(s.reportPath(session.ID), data)
}

// ReportFor reads a session's report back. A missing report returns
// (nil, nil): older sessions predate report files and only carry their
// inline summary.
func (s *Store) ReportFor(sessionID string) (*Report, error) {
	s.mu.Lock()
	path := s.reportPath(sessionID)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return &report, nil
}

// CleanupOldReports deletes report files whose session is not among the
// keepSessions most recent in the ledger.
func (s *Store) CleanupOldReports(keepSessions int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]bool, keepSessions)
	for i, sess := range s.doc.Sessions {
		if i >= keepSessions {
			break
		}
		keep[sess.ID] = true
	}

	entries, err := os.ReadDir(s.reportsDir)
	if err != nil {
		s.logger.Warn("could not list reports dir", "error", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		id := name[:len(name)-len(".json")]
		if keep[id] {
			continue
		}
		if err := os.Remove(filepath.Join(s.reportsDir, name)); err != nil {
			s.logger.Warn("could not delete old report", "file", name, "error", err)
		}
	}
}

func (s *Store) reportPath(sessionID string) string {
	return filepath.Join(s.reportsDir, sessionID+".json")
}

func orEmpty(details []progress.Detail) []progress.Detail {
	if details == nil {
		return []progress.Detail{}
	}
	return details
}
