// Package progress tracks the state of an in-flight scan for concurrent
// observers. A single Tracker instance lives for the process; the scan loop
// mutates it and any number of readers take snapshots.
package progress

import (
	"sync"
	"time"
)

// Detail is one item outcome: a display label and a human-readable note.
type Detail struct {
	Label  string `json:"label"`
	Detail string `json:"detail"`
}

// DetailList preserves insertion order while keeping label lookups O(1).
// Re-adding a label overwrites the detail in place without reordering.
type DetailList struct {
	entries []Detail
	index   map[string]int
}

func newDetailList() *DetailList {
	return &DetailList{index: make(map[string]int)}
}

func (l *DetailList) add(label, detail string) {
	if i, ok := l.index[label]; ok {
		l.entries[i].Detail = detail
		return
	}
	l.index[label] = len(l.entries)
	l.entries = append(l.entries, Detail{Label: label, Detail: detail})
}

func (l *DetailList) copyEntries() []Detail {
	out := make([]Detail, len(l.entries))
	copy(out, l.entries)
	return out
}

// Snapshot is an immutable copy of the tracker state.
type Snapshot struct {
	IsRunning       bool       `json:"is_running"`
	TotalItems      int        `json:"total_items"`
	ProcessedItems  int        `json:"processed_items"`
	UpdatedItems    int        `json:"updated_items"`
	SkippedItems    int        `json:"skipped_items"`
	ErrorItems      int        `json:"error_items"`
	PercentComplete float64    `json:"percent_complete"`
	CurrentItem     string     `json:"current_item,omitempty"`
	Message         string     `json:"message,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`

	// EstimatedSecondsRemaining is derived from throughput so far; nil
	// until at least one item has been processed.
	EstimatedSecondsRemaining *float64 `json:"estimated_seconds_remaining,omitempty"`

	UpdatedDetails []Detail `json:"updated_details"`
	SkippedDetails []Detail `json:"skipped_details"`
	FailureDetails []Detail `json:"failure_details"`
}

// Tracker is the mutable scan progress state, guarded by one mutex.
type Tracker struct {
	mu sync.Mutex

	isRunning      bool
	totalItems     int
	processedItems int
	updatedItems   int
	skippedItems   int
	errorItems     int
	currentItem    string
	message        string
	startTime      *time.Time
	endTime        *time.Time

	updated *DetailList
	skipped *DetailList
	failed  *DetailList
}

// NewTracker creates an empty, not-running tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.reset()
	return t
}

// Start resets the tracker for a fresh run of totalItems.
func (t *Tracker) Start(totalItems int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reset()
	now := time.Now().UTC()
	t.isRunning = true
	t.totalItems = totalItems
	t.startTime = &now
}

// Update overwrites the scalar counters and the current item label.
func (t *Tracker) Update(processed, updated, skipped, errors int, currentItem string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processedItems = processed
	t.updatedItems = updated
	t.skippedItems = skipped
	t.errorItems = errors
	t.currentItem = currentItem
}

// AddUpdated records an updated item with its change description.
func (t *Tracker) AddUpdated(label, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updated.add(label, detail)
}

// AddSkipped records a skipped item with its skip reason.
func (t *Tracker) AddSkipped(label, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped.add(label, detail)
}

// AddFailure records a failed item with its error message.
func (t *Tracker) AddFailure(label, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed.add(label, detail)
}

// SetMessage sets a free-form status line shown alongside the counters,
// e.g. after queueing a targeted selection.
func (t *Tracker) SetMessage(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = message
}

// Stop marks the run finished.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.isRunning = false
	t.endTime = &now
}

// Clear resets the tracker to an empty, not-running state.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// Snapshot returns a deep copy of the current state with derived fields.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		IsRunning:      t.isRunning,
		TotalItems:     t.totalItems,
		ProcessedItems: t.processedItems,
		UpdatedItems:   t.updatedItems,
		SkippedItems:   t.skippedItems,
		ErrorItems:     t.errorItems,
		CurrentItem:    t.currentItem,
		Message:        t.message,
		UpdatedDetails: t.updated.copyEntries(),
		SkippedDetails: t.skipped.copyEntries(),
		FailureDetails: t.failed.copyEntries(),
	}

	if t.startTime != nil {
		st := *t.startTime
		snap.StartTime = &st
	}
	if t.endTime != nil {
		et := *t.endTime
		snap.EndTime = &et
	}

	if t.totalItems > 0 {
		snap.PercentComplete = float64(t.processedItems) / float64(t.totalItems) * 100
	}

	if t.isRunning && t.processedItems > 0 && t.startTime != nil {
		elapsed := time.Since(*t.startTime).Seconds()
		perItem := elapsed / float64(t.processedItems)
		remaining := perItem * float64(t.totalItems-t.processedItems)
		snap.EstimatedSecondsRemaining = &remaining
	}

	return snap
}

func (t *Tracker) reset() {
	t.isRunning = false
	t.totalItems = 0
	t.processedItems = 0
	t.updatedItems = 0
	t.skippedItems = 0
	t.errorItems = 0
	t.currentItem = ""
	t.message = ""
	t.startTime = nil
	t.endTime = nil
	t.updated = newDetailList()
	t.skipped = newDetailList()
	t.failed = newDetailList()
}
