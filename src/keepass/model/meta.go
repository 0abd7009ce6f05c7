package model

import (
	"strings"
	"time"

	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

const (
	DefaultGenerator       = "kdbx"
	DefaultHistoryMaxItems = 10
	DefaultHistoryMaxSize  = 6 * 1024 * 1024
	DefaultMaintenanceDays = 365
)

// Icon is a custom icon stored in the database.
type Icon struct {
	UUID         uuids.UUID
	Name         string
	Data         []byte
	LastModified time.Time
}

func (i *Icon) Clone() (*Icon, error) {
	c := *i
	c.Data = append([]byte(nil), i.Data...)
	return &c, nil
}

// DeletedObject is the tombstone of a removed group or entry.
type DeletedObject struct {
	UUID         uuids.UUID
	DeletionTime time.Time
}

func (d *DeletedObject) Clone() (*DeletedObject, error) {
	c := *d
	return &c, nil
}

// MemoryProtection lists which standard fields are always protected.
type MemoryProtection struct {
	ProtectTitle    bool
	ProtectUserName bool
	ProtectPassword bool
	ProtectURL      bool
	ProtectNotes    bool
}

func DefaultMemoryProtection() MemoryProtection {
	return MemoryProtection{ProtectPassword: true}
}

// Protects reports whether the standard field is protected by default.
// Other fields are not.
func (m MemoryProtection) Protects(field string) bool {
	switch {
	case strings.EqualFold(field, TitleField):
		return m.ProtectTitle
	case strings.EqualFold(field, UserNameField):
		return m.ProtectUserName
	case strings.EqualFold(field, PasswordField):
		return m.ProtectPassword
	case strings.EqualFold(field, URLField):
		return m.ProtectURL
	case strings.EqualFold(field, NotesField):
		return m.ProtectNotes
	}
	return false
}

// Association binds a keystroke sequence to a window title pattern.
type Association struct {
	Window            string
	KeystrokeSequence string
}

type AutoType struct {
	Enabled                 bool
	DataTransferObfuscation int
	DefaultSequence         string
	Associations            []Association
}

func (a AutoType) clone() AutoType {
	a.Associations = append([]Association(nil), a.Associations...)
	return a
}

// Meta holds the database-wide settings stored in the Meta element.
type Meta struct {
	Generator                  string
	HeaderHash                 []byte
	DatabaseName               string
	DatabaseNameChanged        time.Time
	DatabaseDescription        string
	DatabaseDescriptionChanged time.Time
	DefaultUserName            string
	DefaultUserNameChanged     time.Time
	MaintenanceHistoryDays     int
	Color                      string
	MasterKeyChanged           time.Time
	MasterKeyChangeRec         int64
	MasterKeyChangeForce       int64
	MemoryProtection           MemoryProtection
	CustomIcons                *MoveableList[*Icon]
	RecycleBinEnabled          bool
	RecycleBinUUID             uuids.UUID
	RecycleBinChanged          time.Time
	EntryTemplatesGroup        uuids.UUID
	EntryTemplatesGroupChanged time.Time
	HistoryMaxItems            int
	HistoryMaxSize             int64
	LastSelectedGroup          uuids.UUID
	LastTopVisibleGroup        uuids.UUID
	CustomData                 *variant.Dictionary
}

func NewMeta() *Meta {
	now := Now()
	return &Meta{
		Generator:                  DefaultGenerator,
		DatabaseNameChanged:        now,
		DatabaseDescriptionChanged: now,
		DefaultUserNameChanged:     now,
		MaintenanceHistoryDays:     DefaultMaintenanceDays,
		MasterKeyChanged:           now,
		MasterKeyChangeRec:         -1,
		MasterKeyChangeForce:       -1,
		MemoryProtection:           DefaultMemoryProtection(),
		CustomIcons:                NewList[*Icon](),
		RecycleBinEnabled:          true,
		RecycleBinChanged:          now,
		EntryTemplatesGroupChanged: now,
		HistoryMaxItems:            DefaultHistoryMaxItems,
		HistoryMaxSize:             DefaultHistoryMaxSize,
		CustomData:                 variant.New(),
	}
}

// FindIcon looks up a custom icon by UUID.
func (m *Meta) FindIcon(id uuids.UUID) (*Icon, bool) {
	for _, icon := range m.CustomIcons.Items() {
		if icon.UUID == id {
			return icon, true
		}
	}
	return nil, false
}
