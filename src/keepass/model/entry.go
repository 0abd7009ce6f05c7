package model

import (
	"errors"
	"strings"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

var ErrNotImplemented = errors.New("not implemented")

type Entry struct {
	UUID            uuids.UUID
	IconID          int
	CustomIconUUID  uuids.UUID
	ForegroundColor string
	BackgroundColor string
	OverrideURL     string
	Tags            []string
	Times           Times
	Strings         *StringMap
	Binaries        *BinaryRefs
	AutoType        AutoType
	History         *MoveableList[*Entry]
	CustomData      *variant.Dictionary

	// IsHistorical marks snapshots stored in another entry's history.
	IsHistorical bool
}

// NewEntry creates an entry with a fresh UUID and the standard fields,
// protected according to mp.
func NewEntry(mp MemoryProtection) *Entry {
	e := NewEntryWithUUID(uuids.New())
	for _, field := range standardFields {
		e.Strings.Set(field, protect.MustText("", mp.Protects(field)))
	}
	return e
}

// NewEntryWithUUID creates an entry without any string fields, as the
// XML reader does before filling it in.
func NewEntryWithUUID(id uuids.UUID) *Entry {
	return &Entry{
		UUID:       id,
		Times:      NewTimes(),
		Strings:    NewStringMap(),
		Binaries:   NewBinaryRefs(),
		AutoType:   AutoType{Enabled: true},
		History:    NewList[*Entry](),
		CustomData: variant.New(),
	}
}

// Title is a shortcut for the revealed Title field.
func (e *Entry) Title() string {
	return e.Strings.ReadAsString(TitleField)
}

// SetTags splits s on ';' and ',' and drops empty tags.
func (e *Entry) SetTags(s string) {
	e.Tags = SplitTags(s)
}

// TagString joins the tags with ';'.
func (e *Entry) TagString() string {
	return strings.Join(e.Tags, ";")
}

func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Clone deep-copies the entry including its history. The copy keeps the
// UUID; binaries stay shared with the document pool.
func (e *Entry) Clone() (*Entry, error) {
	strs, err := e.Strings.Clone()
	if err != nil {
		return nil, err
	}
	history, err := e.History.Clone()
	if err != nil {
		strs.Close()
		return nil, err
	}
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Strings = strs
	c.Binaries = e.Binaries.Clone()
	c.AutoType = e.AutoType.clone()
	c.History = history
	c.CustomData = e.CustomData.Clone()
	return &c, nil
}

// CreateHistorySnapshot stores a copy of the current state in the history
// and trims the oldest snapshots beyond maxItems. A negative maxItems
// keeps every snapshot.
func (e *Entry) CreateHistorySnapshot(maxItems int) error {
	snapshot, err := e.Clone()
	if err != nil {
		return err
	}
	for _, h := range snapshot.History.Items() {
		h.Close()
	}
	snapshot.History = NewList[*Entry]()
	snapshot.IsHistorical = true
	e.History.Add(snapshot)
	if maxItems >= 0 {
		for e.History.Len() > maxItems {
			old, _ := e.History.RemoveAt(0)
			old.Close()
		}
	}
	return nil
}

// CopyTo is not supported yet.
func (e *Entry) CopyTo(*Group) error { return ErrNotImplemented }

// MergeTo is not supported yet.
func (e *Entry) MergeTo(*Entry) error { return ErrNotImplemented }

// ExportTo is not supported yet.
func (e *Entry) ExportTo(*Document) error { return ErrNotImplemented }

// Close disposes the protected strings of the entry and its history.
// Attachments may be shared and belong to the document.
func (e *Entry) Close() {
	e.Strings.Close()
	for _, h := range e.History.Items() {
		h.Close()
	}
}

func (e *Entry) closeBinaries() {
	for _, name := range e.Binaries.Keys() {
		b, _ := e.Binaries.Get(name)
		b.Close()
	}
	for _, h := range e.History.Items() {
		h.closeBinaries()
	}
}
