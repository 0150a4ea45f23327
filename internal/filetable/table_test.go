package filetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

func newEntry(t *Table, name string) *Entry {
	return &Entry{
		ID:           t.NextID(),
		Name:         name,
		OriginalSize: 11,
		ImportedAt:   time.Now(),
		State:        Active,
	}
}

func TestInsertRejectsDuplicateActiveName(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Insert(newEntry(tbl, "greet.txt")))

	err := tbl.Insert(newEntry(tbl, "greet.txt"))
	require.ErrorIs(t, err, merrors.ErrNameTaken)
}

func TestInsertAllowsCollisionWithSoftDeleted(t *testing.T) {
	tbl := New()
	e := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(e))
	require.NoError(t, tbl.Transition(e.ID, SoftDeleted))

	e2 := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(e2))
}

func TestFindByNameRespectsIncludeDeleted(t *testing.T) {
	tbl := New()
	a := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(a))
	require.NoError(t, tbl.Transition(a.ID, SoftDeleted))

	_, ok := tbl.FindByName("a.txt", false)
	require.False(t, ok)

	found, ok := tbl.FindByName("a.txt", true)
	require.True(t, ok)
	require.Equal(t, a.ID, found.ID)
}

func TestRecoverFailsOnActiveNameCollision(t *testing.T) {
	tbl := New()
	a := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(a))
	require.NoError(t, tbl.Transition(a.ID, SoftDeleted))

	b := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(b))

	err := tbl.Transition(a.ID, Active)
	require.ErrorIs(t, err, merrors.ErrNameTaken)
}

func TestIllegalTransitionRejected(t *testing.T) {
	tbl := New()
	a := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(a))
	require.NoError(t, tbl.Transition(a.ID, PendingPurge))

	err := tbl.Transition(a.ID, Active)
	require.Error(t, err)
}

func TestSoftDeletedCannotGoDirectlyToPendingPurge(t *testing.T) {
	tbl := New()
	a := newEntry(tbl, "a.txt")
	require.NoError(t, tbl.Insert(a))
	require.NoError(t, tbl.Transition(a.ID, SoftDeleted))

	err := tbl.Transition(a.ID, PendingPurge)
	require.Error(t, err)
}

func TestCompactPreservesOrderAndDropsPurged(t *testing.T) {
	tbl := New()
	a := newEntry(tbl, "a.txt")
	a.Locator = Locator{Offset: 100, Length: 10}
	require.NoError(t, tbl.Insert(a))

	b := newEntry(tbl, "b.txt")
	b.Locator = Locator{Offset: 200, Length: 20}
	require.NoError(t, tbl.Insert(b))
	require.NoError(t, tbl.Transition(b.ID, PendingPurge))

	c := newEntry(tbl, "c.txt")
	c.Locator = Locator{Offset: 300, Length: 30}
	require.NoError(t, tbl.Insert(c))

	plan := tbl.Compact()
	require.Len(t, plan, 2)
	require.Equal(t, a.ID, plan[0].EntryID)
	require.Equal(t, int64(0), plan[0].NewLocator.Offset)
	require.Equal(t, c.ID, plan[1].EntryID)
	require.Equal(t, int64(10), plan[1].NewLocator.Offset)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tbl := New()
	e := newEntry(tbl, "secret.bin")
	e.Protected = true
	e.WrappedKey = []byte{1, 2, 3, 4}
	e.Digest[0] = 0xAB
	e.Locator = Locator{Offset: 42, Length: 256}
	require.NoError(t, tbl.Insert(e))
	require.NoError(t, tbl.Transition(e.ID, SoftDeleted))

	data := tbl.Marshal()
	parsed, err := Unmarshal(data)
	require.NoError(t, err)

	got, ok := parsed.FindByID(e.ID)
	require.True(t, ok)
	require.Equal(t, e.Name, got.Name)
	require.Equal(t, e.Protected, got.Protected)
	require.Equal(t, e.WrappedKey, got.WrappedKey)
	require.Equal(t, e.Digest, got.Digest)
	require.Equal(t, e.Locator, got.Locator)
	require.Equal(t, SoftDeleted, got.State)
}

func TestSealOpenRoundTrip(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Insert(newEntry(tbl, "a.txt")))

	masterKey := make([]byte, 32)
	volumeID := []byte("0123456789abcdef")

	sealed, err := tbl.Seal(masterKey, volumeID)
	require.NoError(t, err)

	opened, err := Open(sealed, masterKey, volumeID)
	require.NoError(t, err)
	require.Len(t, opened.List(false), 1)
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Insert(newEntry(tbl, "a.txt")))

	masterKey := make([]byte, 32)
	otherKey := make([]byte, 32)
	otherKey[0] = 1
	volumeID := []byte("0123456789abcdef")

	sealed, err := tbl.Seal(masterKey, volumeID)
	require.NoError(t, err)

	_, err = Open(sealed, otherKey, volumeID)
	require.ErrorIs(t, err, merrors.ErrTableCorrupt)
}
