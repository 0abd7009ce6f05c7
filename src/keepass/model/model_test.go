package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
)

func sampleDocument(t *testing.T) (*Document, *Group, *Entry) {
	doc := NewDocument("Root")
	work := NewGroup("Work")
	require.Nil(t, doc.AddGroup(doc.Root, work))
	entry, err := doc.NewEntry(work)
	require.Nil(t, err)
	require.Nil(t, entry.Strings.SetString(TitleField, "Server", false))
	require.Nil(t, entry.Strings.SetString(UserNameField, "admin", false))
	require.Nil(t, entry.Strings.SetString(PasswordField, "s3cr3t", true))
	entry.SetTags("prod;db")
	return doc, work, entry
}

func TestDocumentIndex(t *testing.T) {
	assert := assert.New(t)
	doc, work, entry := sampleDocument(t)

	p, ok := doc.Parent(entry.UUID)
	assert.True(ok)
	assert.Same(work, p)
	p, ok = doc.Parent(work.UUID)
	assert.True(ok)
	assert.Same(doc.Root, p)
	_, ok = doc.Parent(doc.Root.UUID)
	assert.False(ok)

	g, ok := doc.FindGroup(work.UUID)
	assert.True(ok)
	assert.Same(work, g)
	e, ok := doc.FindEntry(entry.UUID)
	assert.True(ok)
	assert.Same(entry, e)

	path, ok := doc.FindPath(entry.UUID)
	assert.True(ok)
	assert.Equal([]uuids.UUID{doc.Root.UUID, work.UUID, entry.UUID}, path)

	item, err := doc.GetItem(path)
	assert.Nil(err)
	assert.Same(entry, item)
	item, err = doc.GetItem(path[:2])
	assert.Nil(err)
	assert.Same(work, item)

	_, err = doc.GetItem([]uuids.UUID{doc.Root.UUID, entry.UUID})
	assert.True(errors.Is(err, ErrPathNotFound))

	// direct edits are picked up by Reindex
	loose := NewGroup("Loose")
	work.Groups.Add(loose)
	_, ok = doc.FindGroup(loose.UUID)
	assert.False(ok)
	assert.Nil(doc.Reindex())
	p, ok = doc.Parent(loose.UUID)
	assert.True(ok)
	assert.Same(work, p)
}

func TestDocumentDuplicateID(t *testing.T) {
	doc, work, entry := sampleDocument(t)
	dup := NewEntry(DefaultMemoryProtection())
	dup.UUID = entry.UUID
	err := doc.AddEntry(work, dup)
	assert.True(t, errors.Is(err, ErrDuplicateID))

	err = doc.AddEntry(NewGroup("detached"), NewEntry(DefaultMemoryProtection()))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDocumentMoveDelete(t *testing.T) {
	assert := assert.New(t)
	doc, work, entry := sampleDocument(t)

	assert.Nil(doc.Move(entry.UUID, doc.Root))
	p, _ := doc.Parent(entry.UUID)
	assert.Same(doc.Root, p)
	assert.Equal(0, work.Entries.Len())

	sub := NewGroup("Sub")
	assert.Nil(doc.AddGroup(work, sub))
	assert.NotNil(doc.Move(work.UUID, sub), "cycle")
	assert.True(errors.Is(doc.Move(doc.Root.UUID, work), ErrRootGroup))

	assert.Nil(doc.Move(entry.UUID, sub))
	assert.Nil(doc.Delete(work.UUID))
	assert.Equal(3, doc.DeletedObjects.Len())
	_, ok := doc.FindEntry(entry.UUID)
	assert.False(ok)
	assert.True(errors.Is(doc.Delete(work.UUID), ErrNotFound))
}

func TestEntryStrings(t *testing.T) {
	assert := assert.New(t)
	_, _, entry := sampleDocument(t)

	assert.Equal("s3cr3t", entry.Strings.ReadAsString("password"), "keys ignore case")
	assert.Equal("Server", entry.Title())
	assert.Equal([]string{"prod", "db"}, entry.Tags)
	assert.Equal("prod;db", entry.TagString())
	assert.Equal([]string{"Notes", "Password", "Title", "URL", "UserName"}, entry.Strings.Keys())

	pw, _ := entry.Strings.Get(PasswordField)
	assert.True(pw.Sensitive())
	title, _ := entry.Strings.Get(TitleField)
	assert.False(title.Sensitive())

	assert.Equal([]string{"a", "b", "c"}, SplitTags(" a; b,,c ;"))
}

func TestCreateHistorySnapshot(t *testing.T) {
	assert := assert.New(t)
	_, _, entry := sampleDocument(t)

	for i := 0; i < 4; i++ {
		assert.Nil(entry.CreateHistorySnapshot(3))
	}
	assert.Equal(3, entry.History.Len())
	snap := entry.History.At(0)
	assert.True(snap.IsHistorical)
	assert.Equal(0, snap.History.Len())
	assert.Equal("s3cr3t", snap.Strings.ReadAsString(PasswordField))

	// snapshots are independent copies
	entry.Strings.SetString(PasswordField, "changed", true)
	assert.Equal("s3cr3t", snap.Strings.ReadAsString(PasswordField))
}

func TestHistorySnapshotReleasesClonedHistory(t *testing.T) {
	_, _, entry := sampleDocument(t)
	protected := 0
	for _, k := range entry.Strings.Keys() {
		if v, _ := entry.Strings.Get(k); v.Sensitive() {
			protected++
		}
	}
	require.True(t, protected > 0)

	for i := 0; i < 3; i++ {
		require.Nil(t, entry.CreateHistorySnapshot(-1))
	}
	// Only the new snapshot's own values stay protected in memory. Values
	// released by finalizers meanwhile can only lower the count.
	_, before := uuids.Tracked()
	require.Nil(t, entry.CreateHistorySnapshot(-1))
	_, after := uuids.Tracked()
	assert.LessOrEqual(t, after-before, protected)
	assert.Equal(t, 4, entry.History.Len())
}

func TestNotImplemented(t *testing.T) {
	doc, work, entry := sampleDocument(t)
	assert.True(t, errors.Is(entry.CopyTo(work), ErrNotImplemented))
	assert.True(t, errors.Is(entry.MergeTo(entry), ErrNotImplemented))
	assert.True(t, errors.Is(entry.ExportTo(doc), ErrNotImplemented))
	assert.True(t, errors.Is(work.CopyTo(doc.Root), ErrNotImplemented))
	assert.True(t, errors.Is(work.MergeTo(doc.Root), ErrNotImplemented))
	assert.True(t, errors.Is(work.ExportTo(doc), ErrNotImplemented))
}

func TestBinaryMap(t *testing.T) {
	assert := assert.New(t)

	m := NewBinaryMap()
	a := protect.MustBytes([]byte("attachment"), false)
	same := protect.MustBytes([]byte("attachment"), true)
	other := protect.MustBytes([]byte("other"), false)

	m.Set(1, other)
	assert.Equal(0, m.Add(a))
	assert.Equal(0, m.Add(same), "equal payloads share an index")
	assert.Equal(2, m.Add(protect.MustBytes([]byte("third"), false)), "index 1 is taken")
	assert.Equal([]int{0, 1, 2}, m.Indexes())

	m.Close()
	assert.True(a.IsDisposed())
	assert.Equal(0, m.Len())
}

func TestCollectBinaries(t *testing.T) {
	assert := assert.New(t)
	doc, work, entry := sampleDocument(t)

	shared := protect.MustBytes([]byte("payload"), false)
	orphan := protect.MustBytes([]byte("orphan"), false)
	doc.Binaries.Set(7, orphan)
	doc.Binaries.Set(3, shared)

	entry.Binaries.Set("b.txt", shared)
	entry.Binaries.Set("a.txt", protect.MustBytes([]byte("first"), false))
	second, err := doc.NewEntry(work)
	require.Nil(t, err)
	second.Binaries.Set("copy.txt", protect.MustBytes([]byte("payload"), false))

	pool := doc.CollectBinaries()
	assert.Equal(2, pool.Len())
	first, _ := pool.Get(0)
	b, _ := first.ToArray()
	assert.Equal("first", string(b))
	i, ok := pool.IndexOf(shared)
	assert.True(ok)
	assert.Equal(1, i)
	assert.False(orphan.IsDisposed(), "dropped payloads live until Close")
	assert.False(shared.IsDisposed())

	// A reference restored later is picked up by the next collection
	entry.Binaries.Set("orphan.txt", orphan)
	pool = doc.CollectBinaries()
	assert.Equal(3, pool.Len())
	_, ok = pool.IndexOf(orphan)
	assert.True(ok)

	copied, _ := second.Binaries.Get("copy.txt")
	doc.Close()
	assert.True(orphan.IsDisposed())
	assert.True(shared.IsDisposed())
	assert.True(copied.IsDisposed())
}

func TestGroupClone(t *testing.T) {
	assert := assert.New(t)
	doc, _, entry := sampleDocument(t)

	c, err := doc.Root.Clone()
	require.Nil(t, err)
	clonedEntry := c.Groups.At(0).Entries.At(0)
	assert.Equal(entry.UUID, clonedEntry.UUID)
	assert.NotSame(entry, clonedEntry)
	assert.True(entry.Strings.Equal(clonedEntry.Strings))
}
