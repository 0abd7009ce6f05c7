package model

import (
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

type Group struct {
	UUID                    uuids.UUID
	Name                    string
	Notes                   string
	IconID                  int
	CustomIconUUID          uuids.UUID
	Times                   Times
	IsExpanded              bool
	DefaultAutoTypeSequence string

	// EnableAutoType and EnableSearching are inherited from the parent
	// when nil.
	EnableAutoType      *bool
	EnableSearching     *bool
	LastTopVisibleEntry uuids.UUID
	CustomData          *variant.Dictionary
	Entries             *MoveableList[*Entry]
	Groups              *MoveableList[*Group]
}

const (
	FolderIcon     = 48
	RecycleBinIcon = 43
)

func NewGroup(name string) *Group {
	return NewGroupWithUUID(uuids.New(), name)
}

// NewGroupWithUUID creates a group with a known identifier.
func NewGroupWithUUID(id uuids.UUID, name string) *Group {
	return &Group{
		UUID:       id,
		Name:       name,
		IconID:     FolderIcon,
		Times:      NewTimes(),
		IsExpanded: true,
		CustomData: variant.New(),
		Entries:    NewList[*Entry](),
		Groups:     NewList[*Group](),
	}
}

// CopyMeta copies the group's own fields but not its children.
func (g *Group) CopyMeta() *Group {
	c := *g
	c.CustomData = g.CustomData.Clone()
	c.Entries = NewList[*Entry]()
	c.Groups = NewList[*Group]()
	return &c
}

// Clone deep-copies the group and its subtree, keeping UUIDs.
func (g *Group) Clone() (*Group, error) {
	entries, err := g.Entries.Clone()
	if err != nil {
		return nil, err
	}
	groups, err := g.Groups.Clone()
	if err != nil {
		return nil, err
	}
	c := g.CopyMeta()
	c.Entries = entries
	c.Groups = groups
	return c, nil
}

// Walk visits the group and its descendants depth-first, each group's
// entries before its child groups. Returning false stops the walk.
func (g *Group) Walk(visitGroup func(*Group) bool, visitEntry func(*Entry) bool) bool {
	if visitGroup != nil && !visitGroup(g) {
		return false
	}
	for _, e := range g.Entries.Items() {
		if visitEntry != nil && !visitEntry(e) {
			return false
		}
	}
	for _, child := range g.Groups.Items() {
		if !child.Walk(visitGroup, visitEntry) {
			return false
		}
	}
	return true
}

// CopyTo is not supported yet.
func (g *Group) CopyTo(*Group) error { return ErrNotImplemented }

// MergeTo is not supported yet.
func (g *Group) MergeTo(*Group) error { return ErrNotImplemented }

// ExportTo is not supported yet.
func (g *Group) ExportTo(*Document) error { return ErrNotImplemented }

func (g *Group) Close() {
	g.Walk(nil, func(e *Entry) bool {
		e.Close()
		return true
	})
}
