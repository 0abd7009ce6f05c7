package undo

import (
	"fmt"

	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
)

// UpdateEntryAction replaces the contents of an entry. Do and Undo both
// swap the stored state with the entry in the document, so the entry keeps
// its identity and its place in the tree.
type UpdateEntryAction struct {
	other       *model.Entry
	description string
}

// NewUpdateEntryAction creates an action that gives the document's entry
// with the same UUID the contents of updated. The action takes ownership
// of updated.
func NewUpdateEntryAction(updated *model.Entry, description string) *UpdateEntryAction {
	return &UpdateEntryAction{other: updated, description: description}
}

func (a *UpdateEntryAction) swap(d *model.Document) error {
	entry, ok := d.FindEntry(a.other.UUID)
	if !ok {
		return fmt.Errorf("%w: entry %s", model.ErrNotFound, a.other.UUID)
	}
	*entry, *a.other = *a.other, *entry
	return nil
}

func (a *UpdateEntryAction) Do(d *model.Document) error {
	if err := a.swap(d); err != nil {
		return err
	}
	entry, _ := d.FindEntry(a.other.UUID)
	entry.Times.LastModificationTime = model.Now()
	return nil
}

func (a *UpdateEntryAction) Undo(d *model.Document) error {
	return a.swap(d)
}

func (a *UpdateEntryAction) Description() string {
	return a.description
}

// MoveAction moves a group or entry to another group. Undo puts it back at
// its old position.
type MoveAction struct {
	id    uuids.UUID
	to    uuids.UUID
	from  uuids.UUID
	index int
}

func NewMoveAction(id uuids.UUID, to *model.Group) *MoveAction {
	return &MoveAction{id: id, to: to.UUID}
}

func (a *MoveAction) Do(d *model.Document) error {
	from, ok := d.Parent(a.id)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, a.id)
	}
	to, ok := d.FindGroup(a.to)
	if !ok {
		return fmt.Errorf("%w: group %s", model.ErrNotFound, a.to)
	}
	index := indexIn(d, from, a.id)
	if err := d.Move(a.id, to); err != nil {
		return err
	}
	a.from, a.index = from.UUID, index
	return nil
}

func (a *MoveAction) Undo(d *model.Document) error {
	from, ok := d.FindGroup(a.from)
	if !ok {
		return fmt.Errorf("%w: group %s", model.ErrNotFound, a.from)
	}
	if err := d.Move(a.id, from); err != nil {
		return err
	}
	if e, ok := d.FindEntry(a.id); ok {
		return from.Entries.ShiftItem(from.Entries.IndexOf(e), a.index)
	}
	g, _ := d.FindGroup(a.id)
	return from.Groups.ShiftItem(from.Groups.IndexOf(g), a.index)
}

func (a *MoveAction) Description() string {
	return "Move"
}

func indexIn(d *model.Document, parent *model.Group, id uuids.UUID) int {
	if e, ok := d.FindEntry(id); ok {
		return parent.Entries.IndexOf(e)
	}
	g, _ := d.FindGroup(id)
	return parent.Groups.IndexOf(g)
}
