// Package model is the in-memory object graph of a KeePass database: the
// document with its metadata, the group tree, entries and attachments.
//
// Groups own their children directly. Parent relations live in an index
// kept by the Document, so nodes carry no back-pointers.
package model

import (
	"errors"
	"fmt"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
)

var (
	ErrDuplicateID  = errors.New("duplicate UUID in document")
	ErrNotFound     = errors.New("no item with this UUID")
	ErrPathNotFound = errors.New("path not found")
	ErrRootGroup    = errors.New("operation not allowed on the root group")
)

type Document struct {
	Meta           *Meta
	Root           *Group
	DeletedObjects *MoveableList[*DeletedObject]
	Binaries       *BinaryMap

	// Payloads dropped from Binaries, disposed on Close.
	retired []*protect.Bytes

	parents map[uuids.UUID]uuids.UUID
	groups  map[uuids.UUID]*Group
	entries map[uuids.UUID]*Entry
}

// NewDocument creates a document with default metadata and an empty root
// group.
func NewDocument(rootName string) *Document {
	d := NewEmptyDocument()
	d.Meta.DatabaseName = rootName
	d.Root = NewGroup(rootName)
	d.Reindex()
	return d
}

// NewEmptyDocument has no root group; it is filled in by the XML reader.
func NewEmptyDocument() *Document {
	return &Document{
		Meta:           NewMeta(),
		DeletedObjects: NewList[*DeletedObject](),
		Binaries:       NewBinaryMap(),
		parents:        make(map[uuids.UUID]uuids.UUID),
		groups:         make(map[uuids.UUID]*Group),
		entries:        make(map[uuids.UUID]*Entry),
	}
}

// Reindex rebuilds the parent index from the tree. Call it after editing
// Groups or Entries lists directly.
func (d *Document) Reindex() error {
	d.parents = make(map[uuids.UUID]uuids.UUID)
	d.groups = make(map[uuids.UUID]*Group)
	d.entries = make(map[uuids.UUID]*Entry)
	if d.Root == nil {
		return nil
	}
	d.groups[d.Root.UUID] = d.Root
	return d.index(d.Root)
}

func (d *Document) taken(id uuids.UUID) bool {
	_, g := d.groups[id]
	_, e := d.entries[id]
	return g || e
}

func (d *Document) index(g *Group) error {
	for _, e := range g.Entries.Items() {
		if d.taken(e.UUID) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.UUID)
		}
		d.entries[e.UUID] = e
		d.parents[e.UUID] = g.UUID
	}
	for _, child := range g.Groups.Items() {
		if d.taken(child.UUID) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, child.UUID)
		}
		d.groups[child.UUID] = child
		d.parents[child.UUID] = g.UUID
		if err := d.index(child); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) FindGroup(id uuids.UUID) (*Group, bool) {
	g, ok := d.groups[id]
	return g, ok
}

func (d *Document) FindEntry(id uuids.UUID) (*Entry, bool) {
	e, ok := d.entries[id]
	return e, ok
}

// Parent returns the group containing the group or entry with the given
// UUID. The root group has no parent.
func (d *Document) Parent(id uuids.UUID) (*Group, bool) {
	p, ok := d.parents[id]
	if !ok {
		return nil, false
	}
	return d.FindGroup(p)
}

func (d *Document) checkParent(parent *Group) error {
	if parent == nil {
		return fmt.Errorf("%w: nil parent", ErrNotFound)
	}
	if g, ok := d.groups[parent.UUID]; !ok || g != parent {
		return fmt.Errorf("%w: parent group %s", ErrNotFound, parent.UUID)
	}
	return nil
}

// AddGroup appends g, including its subtree, to parent.
func (d *Document) AddGroup(parent, g *Group) error {
	if err := d.checkParent(parent); err != nil {
		return err
	}
	if d.taken(g.UUID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, g.UUID)
	}
	parent.Groups.Add(g)
	g.Times.LocationChanged = Now()
	d.groups[g.UUID] = g
	d.parents[g.UUID] = parent.UUID
	if err := d.index(g); err != nil {
		parent.Groups.Remove(g)
		d.Reindex()
		return err
	}
	return nil
}

func (d *Document) AddEntry(parent *Group, e *Entry) error {
	if err := d.checkParent(parent); err != nil {
		return err
	}
	if d.taken(e.UUID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.UUID)
	}
	parent.Entries.Add(e)
	e.Times.LocationChanged = Now()
	d.entries[e.UUID] = e
	d.parents[e.UUID] = parent.UUID
	return nil
}

// NewEntry creates an entry in parent whose standard fields follow the
// document's memory protection settings.
func (d *Document) NewEntry(parent *Group) (*Entry, error) {
	e := NewEntry(d.Meta.MemoryProtection)
	if err := d.AddEntry(parent, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Move reparents the group or entry with the given UUID.
func (d *Document) Move(id uuids.UUID, to *Group) error {
	if err := d.checkParent(to); err != nil {
		return err
	}
	from, ok := d.Parent(id)
	if !ok {
		if d.Root != nil && id == d.Root.UUID {
			return ErrRootGroup
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e, ok := d.entries[id]; ok {
		from.Entries.Remove(e)
		to.Entries.Add(e)
		e.Times.LocationChanged = Now()
	} else {
		g := d.groups[id]
		for p, ok := to, true; ok; p, ok = d.Parent(p.UUID) {
			if p == g {
				return fmt.Errorf("cannot move group %s into its own subtree", id)
			}
		}
		from.Groups.Remove(g)
		to.Groups.Add(g)
		g.Times.LocationChanged = Now()
	}
	d.parents[id] = to.UUID
	return nil
}

// Delete removes the group or entry and records tombstones for it and
// every descendant. Removed entries are closed.
func (d *Document) Delete(id uuids.UUID) error {
	parent, ok := d.Parent(id)
	if !ok {
		if d.Root != nil && id == d.Root.UUID {
			return ErrRootGroup
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := Now()
	tombstone := func(id uuids.UUID) {
		d.DeletedObjects.Add(&DeletedObject{UUID: id, DeletionTime: now})
	}
	if e, ok := d.entries[id]; ok {
		parent.Entries.Remove(e)
		tombstone(e.UUID)
		e.Close()
		return d.Reindex()
	}
	g := d.groups[id]
	parent.Groups.Remove(g)
	g.Walk(func(g *Group) bool {
		tombstone(g.UUID)
		return true
	}, func(e *Entry) bool {
		tombstone(e.UUID)
		e.Close()
		return true
	})
	return d.Reindex()
}

// FindPath returns the UUIDs from the root group down to the group or entry
// with the given UUID.
func (d *Document) FindPath(id uuids.UUID) ([]uuids.UUID, bool) {
	if !d.taken(id) {
		return nil, false
	}
	path := []uuids.UUID{id}
	for {
		p, ok := d.parents[path[0]]
		if !ok {
			return path, true
		}
		path = append([]uuids.UUID{p}, path...)
	}
}

// GetItem follows a path of UUIDs starting at the root group. Only the last
// element may name an entry. An empty path yields the root group.
func (d *Document) GetItem(path []uuids.UUID) (any, error) {
	if d.Root == nil {
		return nil, ErrPathNotFound
	}
	if len(path) == 0 {
		return d.Root, nil
	}
	if path[0] != d.Root.UUID {
		return nil, fmt.Errorf("%w: position 0: %s is not the root group", ErrPathNotFound, path[0])
	}
	current := d.Root
	for i := 1; i < len(path); i++ {
		if p, ok := d.parents[path[i]]; !ok || p != current.UUID {
			return nil, fmt.Errorf("%w: position %d: group %q has no item %s", ErrPathNotFound, i, current.Name, path[i])
		}
		if g, ok := d.groups[path[i]]; ok {
			current = g
			continue
		}
		if i != len(path)-1 {
			return nil, fmt.Errorf("%w: got entry for non-final step in path", ErrPathNotFound)
		}
		return d.entries[path[i]], nil
	}
	return current, nil
}

// GetBinary returns a plaintext copy of the pooled attachment.
func (d *Document) GetBinary(id int) ([]byte, error) {
	b, ok := d.Binaries.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: binary %d", ErrNotFound, id)
	}
	return b.ToArray()
}

// Walk visits the tree from the root group, see Group.Walk.
func (d *Document) Walk(visitGroup func(*Group) bool, visitEntry func(*Entry) bool) {
	if d.Root != nil {
		d.Root.Walk(visitGroup, visitEntry)
	}
}

// CollectBinaries rebuilds the attachment pool from the references that
// are actually used, in serialization order: entries before subgroups,
// attachment names sorted, history after the entry's own attachments.
// Unreferenced payloads leave the pool but stay alive until Close, since
// an undo may reference them again.
func (d *Document) CollectBinaries() *BinaryMap {
	pool := NewBinaryMap()
	var visit func(e *Entry)
	visit = func(e *Entry) {
		for _, name := range e.Binaries.Keys() {
			b, _ := e.Binaries.Get(name)
			pool.Add(b)
		}
		for _, h := range e.History.Items() {
			visit(h)
		}
	}
	d.Walk(nil, func(e *Entry) bool {
		visit(e)
		return true
	})
	for _, i := range d.Binaries.Indexes() {
		b, _ := d.Binaries.Get(i)
		if !pool.holds(b) {
			d.retired = append(d.retired, b)
		}
	}
	d.Binaries = pool
	return pool
}

// Close disposes every protected value held by the document, including
// attachments that were dropped from the pool.
func (d *Document) Close() {
	if d.Root != nil {
		d.Root.Close()
		d.Root.Walk(nil, func(e *Entry) bool {
			e.closeBinaries()
			return true
		})
	}
	d.Binaries.Close()
	for _, b := range d.retired {
		b.Close()
	}
	d.retired = nil
}
