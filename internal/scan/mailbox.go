package scan

import (
	"sync"

	"github.com/sydlexius/ratingsync/internal/catalog"
)

// Mailbox is a single-slot holder for an ad-hoc item selection. Set replaces
// any pending selection; TakeAll atomically drains it, so of two concurrent
// consumers only one sees the items.
type Mailbox struct {
	mu    sync.Mutex
	items []catalog.Item
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Set replaces the pending selection.
func (m *Mailbox) Set(items []catalog.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// HasItems reports whether a selection is pending.
func (m *Mailbox) HasItems() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) > 0
}

// TakeAll returns the pending selection and clears the slot.
func (m *Mailbox) TakeAll() []catalog.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
