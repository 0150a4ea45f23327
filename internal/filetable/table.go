// Package filetable is the in-memory canonical file table (L4): an
// ordered collection of entries keyed by id with a secondary name index,
// serialized to (and sealed for) the container and sidecar (spec §3,
// §4.5).
package filetable

import (
	"fmt"
	"time"

	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

// State is a file entry's lifecycle state (spec §3 "Lifecycle").
type State uint8

const (
	Active State = iota
	SoftDeleted
	PendingPurge
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case SoftDeleted:
		return "soft-deleted"
	case PendingPurge:
		return "pending-purge"
	default:
		return "unknown"
	}
}

// Locator addresses an opaque byte run in the data region.
type Locator struct {
	Offset int64
	Length int64
}

// Entry is one member of the volume's file table (spec §3 "File entry").
type Entry struct {
	ID             uint64
	Name           string
	OriginalSize   int64
	CiphertextSize int64
	ImportedAt     time.Time
	Salt           [16]byte
	Protected      bool   // true iff a file secret guards this entry
	WrappedKey     []byte // present iff Protected
	Digest         [crypto.DigestSize]byte
	Locator        Locator
	State          State
	DeletedAt      time.Time // valid iff State != Active
}

// Table is the ordered, id-keyed collection of entries plus a secondary
// name index over Active entries only.
type Table struct {
	nextID  uint64
	entries []*Entry        // ordered by id ascending, creation order
	byID    map[uint64]*Entry
	byName  map[string]*Entry // Active entries only
}

// New returns an empty table.
func New() *Table {
	return &Table{
		nextID: 1,
		byID:   make(map[uint64]*Entry),
		byName: make(map[string]*Entry),
	}
}

// NextID allocates the next monotonic entry id without consuming it
// until the entry is actually inserted.
func (t *Table) NextID() uint64 { return t.nextID }

// Insert adds a new entry to the table. Requires the name be unique
// among Active entries (spec §3 invariant, §4.5). The entry's ID must
// equal t.NextID(); callers build the entry with that id before
// inserting (entries are created in Active state by Import).
func (t *Table) Insert(e *Entry) error {
	if e.ID != t.nextID {
		return fmt.Errorf("filetable: entry id %d out of order, expected %d", e.ID, t.nextID)
	}
	if e.State == Active {
		if _, taken := t.byName[e.Name]; taken {
			return fmt.Errorf("%w: %q", merrors.ErrNameTaken, e.Name)
		}
	}
	t.entries = append(t.entries, e)
	t.byID[e.ID] = e
	if e.State == Active {
		t.byName[e.Name] = e
	}
	t.nextID++
	return nil
}

// FindByName looks up an entry by display name. If includeDeleted is
// false only Active entries are considered (O(1) via the name index);
// otherwise a linear scan also considers SoftDeleted/PendingPurge
// entries, which may collide in name with an Active one (spec §3).
func (t *Table) FindByName(name string, includeDeleted bool) (*Entry, bool) {
	if e, ok := t.byName[name]; ok {
		return e, true
	}
	if !includeDeleted {
		return nil, false
	}
	for _, e := range t.entries {
		if e.Name == name && e.State != Active {
			return e, true
		}
	}
	return nil, false
}

// FindByID looks up an entry by its stable id.
func (t *Table) FindByID(id uint64) (*Entry, bool) {
	e, ok := t.byID[id]
	return e, ok
}

// List returns entries in id order, optionally including non-Active ones.
func (t *Table) List(includeDeleted bool) []*Entry {
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.State == Active || includeDeleted {
			out = append(out, e)
		}
	}
	return out
}

// Transition moves entry id to the new state, enforcing the lifecycle
// graph of spec §3: Active <-> SoftDeleted, Active -> PendingPurge.
// Recovering (SoftDeleted -> Active) additionally requires no Active
// name collision, checked by the caller (internal/volume) because it
// needs to produce a NameTaken error with access to the colliding name.
func (t *Table) Transition(id uint64, to State) error {
	e, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%w: entry id %d", merrors.ErrNotFound, id)
	}

	switch {
	case e.State == Active && to == SoftDeleted:
		delete(t.byName, e.Name)
		e.State = SoftDeleted
		e.DeletedAt = nowFunc()
	case e.State == SoftDeleted && to == Active:
		if _, taken := t.byName[e.Name]; taken {
			return fmt.Errorf("%w: %q", merrors.ErrNameTaken, e.Name)
		}
		e.State = Active
		e.DeletedAt = time.Time{}
		t.byName[e.Name] = e
	case e.State == Active && to == PendingPurge:
		delete(t.byName, e.Name)
		e.State = PendingPurge
		e.DeletedAt = nowFunc()
	default:
		return fmt.Errorf("filetable: illegal transition %s -> %s for entry %d", e.State, to, id)
	}
	return nil
}

// Remove deletes an entry from the table entirely (used by Purge after
// its data has been dropped from the data region).
func (t *Table) Remove(id uint64) {
	e, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if e.State == Active {
		delete(t.byName, e.Name)
	}
	for i, cur := range t.entries {
		if cur.ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
}

// Relocation describes one entry's data-region move during compaction.
type Relocation struct {
	EntryID    uint64
	OldLocator Locator
	NewLocator Locator
}

// Compact returns a rewrite plan moving every Active/SoftDeleted entry's
// payload into a contiguous run starting at 0, preserving creation
// order, and applies the new locators to the table in place (spec
// §4.5/§4.7). Entries still PendingPurge at compaction time are expected
// to have already been dropped by the caller before calling Compact.
func (t *Table) Compact() []Relocation {
	var plan []Relocation
	var cursor int64
	for _, e := range t.entries {
		if e.State == PendingPurge {
			continue
		}
		old := e.Locator
		newLoc := Locator{Offset: cursor, Length: old.Length}
		plan = append(plan, Relocation{EntryID: e.ID, OldLocator: old, NewLocator: newLoc})
		e.Locator = newLoc
		cursor += old.Length
	}
	return plan
}

// nowFunc is overridable in tests.
var nowFunc = time.Now
