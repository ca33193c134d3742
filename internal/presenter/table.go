package presenter

import (
	"errors"

	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/signaling"
)

// DefaultMaxPresenters is the room-wide cap on simultaneous presenters.
const DefaultMaxPresenters = 2

var (
	ErrPresenterLimit  = errors.New("presenter limit reached")
	ErrShareInProgress = errors.New("share already starting")
)

// Entry is one active presenter.
type Entry struct {
	ID   string
	Name string
	Kind media.Kind
}

// Table is the ordered set of active presenters, bounded by a cap that
// existing members are exempt from.
type Table struct {
	max     int
	entries []Entry
}

func NewTable(max int) *Table {
	if max <= 0 {
		max = DefaultMaxPresenters
	}
	return &Table{max: max}
}

func (t *Table) Max() int   { return t.max }
func (t *Table) Len() int   { return len(t.entries) }
func (t *Table) Full() bool { return len(t.entries) >= t.max }

func (t *Table) index(id string) int {
	for i, e := range t.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) Has(id string) bool { return t.index(id) >= 0 }

// Get returns the entry for id.
func (t *Table) Get(id string) (Entry, bool) {
	if i := t.index(id); i >= 0 {
		return t.entries[i], true
	}
	return Entry{}, false
}

// Entries returns a copy of the table in registration order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Add registers e. A presenter already in the table is updated in place
// regardless of the cap.
func (t *Table) Add(e Entry) error {
	if i := t.index(e.ID); i >= 0 {
		t.entries[i] = e
		return nil
	}
	if t.Full() {
		return ErrPresenterLimit
	}
	t.entries = append(t.entries, e)
	return nil
}

// Remove deletes id and reports whether it was present.
func (t *Table) Remove(id string) bool {
	i := t.index(id)
	if i < 0 {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// Replace installs an authoritative snapshot from the server.
func (t *Table) Replace(snapshot []signaling.Presenter) {
	t.entries = t.entries[:0]
	for _, p := range snapshot {
		kind, err := media.ParseShareKind(p.ShareType)
		if err != nil {
			kind = media.Screen
		}
		if t.Has(p.UserID) {
			continue
		}
		t.entries = append(t.entries, Entry{ID: p.UserID, Name: p.Username, Kind: kind})
	}
}
