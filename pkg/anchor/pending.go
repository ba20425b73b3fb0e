package anchor

import (
	"sync"
	"time"
)

// Pending tracks unanchored mutations of one status list.
type Pending struct {
	ListID         string    `json:"listId"`
	UpdateCount    uint64    `json:"updateCount"`
	LastAnchoredAt time.Time `json:"lastAnchoredAt"`
	Dirty          bool      `json:"dirty"`
}

// Tracker holds Pending bookkeeping for every list and guards against
// concurrent anchors of the same list.
type Tracker struct {
	mu       sync.Mutex
	pending  map[string]*Pending
	inFlight map[string]bool
}

func NewTracker() *Tracker {
	return &Tracker{
		pending:  make(map[string]*Pending),
		inFlight: make(map[string]bool),
	}
}

// entry returns the bookkeeping for listID, creating it with since as the
// reference time for the first anchor.
func (t *Tracker) entry(listID string, since time.Time) *Pending {
	p, ok := t.pending[listID]
	if !ok {
		p = &Pending{ListID: listID, LastAnchoredAt: since}
		t.pending[listID] = p
	}
	return p
}

// RecordMutation counts one mutation and returns the updated state.
func (t *Tracker) RecordMutation(listID string, since time.Time) Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.entry(listID, since)
	p.UpdateCount++
	p.Dirty = true
	return *p
}

// Get returns the current state for listID.
func (t *Tracker) Get(listID string, since time.Time) Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entry(listID, since)
}

// Tracked reports whether listID has bookkeeping.
func (t *Tracker) Tracked(listID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[listID]
	return ok
}

// Seed installs recovered bookkeeping for a list that has none yet. It
// returns false, leaving the current entry alone, if the list is tracked.
func (t *Tracker) Seed(p Pending) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[p.ListID]; ok {
		return false
	}
	p.Dirty = p.UpdateCount > 0
	t.pending[p.ListID] = &p
	return true
}

// TryBegin marks an anchor of listID as in flight. It returns false if one
// already is.
func (t *Tracker) TryBegin(listID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[listID] {
		return false
	}
	t.inFlight[listID] = true
	return true
}

// End clears the in-flight mark set by TryBegin.
func (t *Tracker) End(listID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, listID)
}

// MarkAnchored subtracts the mutations covered by an anchor. Mutations that
// arrived while the anchor was being written keep the list dirty.
func (t *Tracker) MarkAnchored(listID string, covered uint64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.entry(listID, at)
	if covered > p.UpdateCount {
		covered = p.UpdateCount
	}
	p.UpdateCount -= covered
	p.Dirty = p.UpdateCount > 0
	p.LastAnchoredAt = at
}
