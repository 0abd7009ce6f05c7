package parser

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/parser/wrappers"
	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/util"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

// reader walks the token stream of the decoder. Each visit function
// consumes the element it is handed up to and including its end tag.
type reader struct {
	d      *xml.Decoder
	stream crypto.Stream
	doc    *model.Document
}

// children calls visit for every child element until the end tag of the
// current element.
func (p *reader) children(visit func(xml.StartElement) error) error {
	for {
		tok, err := p.d.Token()
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := visit(t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (p *reader) skip(start xml.StartElement) error {
	log.Tracef("Skipping unknown element <%s>", start.Name.Local)
	return p.d.Skip()
}

func (p *reader) text(start xml.StartElement) (string, error) {
	var s string
	if err := p.d.DecodeElement(&s, &start); err != nil {
		return "", err
	}
	return s, nil
}

func elementError(start xml.StartElement, err error) error {
	return fmt.Errorf("<%s>: %w", start.Name.Local, err)
}

func (p *reader) str(start xml.StartElement, dst *string) error {
	s, err := p.text(start)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func (p *reader) integer(start xml.StartElement, dst *int) error {
	var v int64
	if err := p.int64(start, &v); err != nil {
		return err
	}
	*dst = int(v)
	return nil
}

func (p *reader) int64(start xml.StartElement, dst *int64) error {
	s, err := p.text(start)
	if err != nil {
		return err
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return elementError(start, err)
	}
	*dst = v
	return nil
}

func (p *reader) boolean(start xml.StartElement, dst *bool) error {
	var b *bool
	if err := p.nullBool(start, &b); err != nil {
		return err
	}
	if b != nil {
		*dst = *b
	}
	return nil
}

func (p *reader) nullBool(start xml.StartElement, dst **bool) error {
	s, err := p.text(start)
	if err != nil {
		return err
	}
	b, err := wrappers.ParseBool(s)
	if err != nil {
		return elementError(start, err)
	}
	*dst = b.Ptr()
	return nil
}

func (p *reader) uuid(start xml.StartElement, dst *uuids.UUID) error {
	s, err := p.text(start)
	if err != nil {
		return err
	}
	id, err := uuids.ParseBase64(strings.TrimSpace(s))
	if err != nil {
		return elementError(start, err)
	}
	*dst = id
	return nil
}

func (p *reader) time(start xml.StartElement, dst *time.Time) error {
	s, err := p.text(start)
	if err != nil {
		return err
	}
	t, err := wrappers.ParseTime(s)
	if err != nil {
		return elementError(start, err)
	}
	*dst = t
	return nil
}

func (p *reader) base64(start xml.StartElement, dst *[]byte) error {
	s, err := p.text(start)
	if err != nil {
		return err
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return elementError(start, err)
	}
	*dst = b
	return nil
}

func (p *reader) readDocument() error {
	for {
		tok, err := p.d.Token()
		if err == io.EOF {
			return ErrNoRoot
		}
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "KeePassFile" {
			return fmt.Errorf("%w: found <%s>", ErrNotKeePassFile, start.Name.Local)
		}
		return p.children(func(s xml.StartElement) error {
			switch s.Name.Local {
			case "Meta":
				return p.readMeta(p.doc.Meta)
			case "Root":
				return p.readRoot()
			}
			return p.skip(s)
		})
	}
}

func (p *reader) readMeta(m *model.Meta) error {
	return p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "Generator":
			return p.str(s, &m.Generator)
		case "HeaderHash":
			return p.base64(s, &m.HeaderHash)
		case "DatabaseName":
			return p.str(s, &m.DatabaseName)
		case "DatabaseNameChanged":
			return p.time(s, &m.DatabaseNameChanged)
		case "DatabaseDescription":
			return p.str(s, &m.DatabaseDescription)
		case "DatabaseDescriptionChanged":
			return p.time(s, &m.DatabaseDescriptionChanged)
		case "DefaultUserName":
			return p.str(s, &m.DefaultUserName)
		case "DefaultUserNameChanged":
			return p.time(s, &m.DefaultUserNameChanged)
		case "MaintenanceHistoryDays":
			return p.integer(s, &m.MaintenanceHistoryDays)
		case "Color":
			return p.str(s, &m.Color)
		case "MasterKeyChanged":
			return p.time(s, &m.MasterKeyChanged)
		case "MasterKeyChangeRec":
			return p.int64(s, &m.MasterKeyChangeRec)
		case "MasterKeyChangeForce":
			return p.int64(s, &m.MasterKeyChangeForce)
		case "MemoryProtection":
			return p.readMemoryProtection(&m.MemoryProtection)
		case "CustomIcons":
			return p.readCustomIcons(m)
		case "RecycleBinEnabled":
			return p.boolean(s, &m.RecycleBinEnabled)
		case "RecycleBinUUID":
			return p.uuid(s, &m.RecycleBinUUID)
		case "RecycleBinChanged":
			return p.time(s, &m.RecycleBinChanged)
		case "EntryTemplatesGroup":
			return p.uuid(s, &m.EntryTemplatesGroup)
		case "EntryTemplatesGroupChanged":
			return p.time(s, &m.EntryTemplatesGroupChanged)
		case "HistoryMaxItems":
			return p.integer(s, &m.HistoryMaxItems)
		case "HistoryMaxSize":
			return p.int64(s, &m.HistoryMaxSize)
		case "LastSelectedGroup":
			return p.uuid(s, &m.LastSelectedGroup)
		case "LastTopVisibleGroup":
			return p.uuid(s, &m.LastTopVisibleGroup)
		case "Binaries":
			return p.readBinaries()
		case "CustomData":
			return p.readCustomData(m.CustomData)
		}
		return p.skip(s)
	})
}

func (p *reader) readMemoryProtection(mp *model.MemoryProtection) error {
	return p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "ProtectTitle":
			return p.boolean(s, &mp.ProtectTitle)
		case "ProtectUserName":
			return p.boolean(s, &mp.ProtectUserName)
		case "ProtectPassword":
			return p.boolean(s, &mp.ProtectPassword)
		case "ProtectURL":
			return p.boolean(s, &mp.ProtectURL)
		case "ProtectNotes":
			return p.boolean(s, &mp.ProtectNotes)
		}
		return p.skip(s)
	})
}

func (p *reader) readCustomIcons(m *model.Meta) error {
	return p.children(func(s xml.StartElement) error {
		if s.Name.Local != "Icon" {
			return p.skip(s)
		}
		icon := &model.Icon{}
		err := p.children(func(s xml.StartElement) error {
			switch s.Name.Local {
			case "UUID":
				return p.uuid(s, &icon.UUID)
			case "Data":
				return p.base64(s, &icon.Data)
			case "Name":
				return p.str(s, &icon.Name)
			case "LastModificationTime":
				return p.time(s, &icon.LastModified)
			}
			return p.skip(s)
		})
		if err != nil {
			return err
		}
		m.CustomIcons.Add(icon)
		return nil
	})
}

func (p *reader) readBinaries() error {
	return p.children(func(s xml.StartElement) error {
		if s.Name.Local != "Binary" {
			return p.skip(s)
		}
		return p.readBinary(s)
	})
}

func (p *reader) readBinary(start xml.StartElement) error {
	attr, _ := wrappers.Attr(start, "ID")
	id, err := strconv.Atoi(attr)
	if err != nil {
		return fmt.Errorf("binary has invalid ID '%s'", attr)
	}
	compressed := wrappers.IsTrueAttr(start, "Compressed")
	v, err := wrappers.ReadValue(p.d, start, p.stream)
	if err != nil {
		return elementError(start, err)
	}
	data := v.Inner
	if !v.Protected {
		data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(string(v.Inner)))
		if err != nil {
			return elementError(start, err)
		}
	}
	if compressed {
		unzipped, err := util.GUnzip(data)
		util.Zero(data)
		if err != nil {
			return elementError(start, err)
		}
		data = unzipped
	}
	defer util.Zero(data)
	b, err := protect.NewBytes(data, v.Protected)
	if err != nil {
		return err
	}
	p.doc.Binaries.Set(id, b)
	return nil
}

func (p *reader) readCustomData(dict *variant.Dictionary) error {
	return p.children(func(s xml.StartElement) error {
		if s.Name.Local != "Item" {
			return p.skip(s)
		}
		var key, value string
		err := p.children(func(s xml.StartElement) error {
			switch s.Name.Local {
			case "Key":
				return p.str(s, &key)
			case "Value":
				return p.str(s, &value)
			}
			return p.skip(s)
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(key) == "" {
			log.Warnf("Ignoring custom data item without key")
			return nil
		}
		return dict.Set(key, value)
	})
}

func (p *reader) readRoot() error {
	return p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "Group":
			g, err := p.readGroup()
			if err != nil {
				return err
			}
			if p.doc.Root == nil {
				p.doc.Root = g
				return nil
			}
			log.Warnf("Moving extra top-level group %s below the root group", g.UUID)
			p.doc.Root.Groups.Add(g)
			return nil
		case "DeletedObjects":
			return p.readDeletedObjects()
		}
		return p.skip(s)
	})
}

func (p *reader) readDeletedObjects() error {
	return p.children(func(s xml.StartElement) error {
		if s.Name.Local != "DeletedObject" {
			return p.skip(s)
		}
		obj := &model.DeletedObject{}
		err := p.children(func(s xml.StartElement) error {
			switch s.Name.Local {
			case "UUID":
				return p.uuid(s, &obj.UUID)
			case "DeletionTime":
				return p.time(s, &obj.DeletionTime)
			}
			return p.skip(s)
		})
		if err != nil {
			return err
		}
		p.doc.DeletedObjects.Add(obj)
		return nil
	})
}

func (p *reader) readTimes(t *model.Times) error {
	return p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "CreationTime":
			return p.time(s, &t.CreationTime)
		case "LastModificationTime":
			return p.time(s, &t.LastModificationTime)
		case "LastAccessTime":
			return p.time(s, &t.LastAccessTime)
		case "ExpiryTime":
			return p.time(s, &t.ExpiryTime)
		case "Expires":
			return p.boolean(s, &t.Expires)
		case "UsageCount":
			return p.int64(s, &t.UsageCount)
		case "LocationChanged":
			return p.time(s, &t.LocationChanged)
		}
		return p.skip(s)
	})
}

func (p *reader) readGroup() (*model.Group, error) {
	g := model.NewGroupWithUUID(uuids.Nil, "")
	err := p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "UUID":
			return p.uuid(s, &g.UUID)
		case "Name":
			return p.str(s, &g.Name)
		case "Notes":
			return p.str(s, &g.Notes)
		case "IconID":
			return p.integer(s, &g.IconID)
		case "CustomIconUUID":
			return p.uuid(s, &g.CustomIconUUID)
		case "Times":
			return p.readTimes(&g.Times)
		case "IsExpanded":
			return p.boolean(s, &g.IsExpanded)
		case "DefaultAutoTypeSequence":
			return p.str(s, &g.DefaultAutoTypeSequence)
		case "EnableAutoType":
			return p.nullBool(s, &g.EnableAutoType)
		case "EnableSearching":
			return p.nullBool(s, &g.EnableSearching)
		case "LastTopVisibleEntry":
			return p.uuid(s, &g.LastTopVisibleEntry)
		case "CustomData":
			return p.readCustomData(g.CustomData)
		case "Entry":
			e, err := p.readEntry(false)
			if err != nil {
				return err
			}
			g.Entries.Add(e)
			return nil
		case "Group":
			child, err := p.readGroup()
			if err != nil {
				return err
			}
			g.Groups.Add(child)
			return nil
		}
		return p.skip(s)
	})
	if err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// readEntry reads an entry; historical entries are snapshots inside another
// entry's History. History nested in a snapshot is read to keep the
// stream in step and then dropped.
func (p *reader) readEntry(historical bool) (*model.Entry, error) {
	e := model.NewEntryWithUUID(uuids.Nil)
	e.IsHistorical = historical
	err := p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "UUID":
			return p.uuid(s, &e.UUID)
		case "IconID":
			return p.integer(s, &e.IconID)
		case "CustomIconUUID":
			return p.uuid(s, &e.CustomIconUUID)
		case "ForegroundColor":
			return p.str(s, &e.ForegroundColor)
		case "BackgroundColor":
			return p.str(s, &e.BackgroundColor)
		case "OverrideURL":
			return p.str(s, &e.OverrideURL)
		case "Tags":
			var tags string
			if err := p.str(s, &tags); err != nil {
				return err
			}
			e.SetTags(tags)
			return nil
		case "Times":
			return p.readTimes(&e.Times)
		case "String":
			return p.readString(e.Strings)
		case "Binary":
			return p.readBinaryRef(e.Binaries)
		case "AutoType":
			return p.readAutoType(&e.AutoType)
		case "CustomData":
			return p.readCustomData(e.CustomData)
		case "History":
			return p.children(func(s xml.StartElement) error {
				if s.Name.Local != "Entry" {
					return p.skip(s)
				}
				snapshot, err := p.readEntry(true)
				if err != nil {
					return err
				}
				if historical {
					log.Warnf("Dropping nested history snapshot of entry %s", e.UUID)
					snapshot.Close()
					return nil
				}
				e.History.Add(snapshot)
				return nil
			})
		}
		return p.skip(s)
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// readString stores a String element. A value is kept protected if it was
// masked in the file or if the memory protection settings cover its key.
func (p *reader) readString(strs *model.StringMap) error {
	var key string
	var value wrappers.Value
	err := p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "Key":
			return p.str(s, &key)
		case "Value":
			v, err := wrappers.ReadValue(p.d, s, p.stream)
			if err != nil {
				return elementError(s, err)
			}
			util.Zero(value.Inner)
			value = v
			return nil
		}
		return p.skip(s)
	})
	defer util.Zero(value.Inner)
	if err != nil {
		return err
	}
	if key == "" {
		log.Warnf("Ignoring string field without key")
		return nil
	}
	protected := value.Protected || p.doc.Meta.MemoryProtection.Protects(key)
	text, err := protect.NewTextFromBytes(value.Inner, protected)
	if err != nil {
		return err
	}
	strs.Set(key, text)
	return nil
}

func (p *reader) readBinaryRef(refs *model.BinaryRefs) error {
	var key string
	ref := -1
	err := p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "Key":
			return p.str(s, &key)
		case "Value":
			attr, ok := wrappers.Attr(s, "Ref")
			if !ok {
				return fmt.Errorf("attachment '%s' has no Ref attribute", key)
			}
			n, err := strconv.Atoi(attr)
			if err != nil {
				return elementError(s, err)
			}
			ref = n
			return p.d.Skip()
		}
		return p.skip(s)
	})
	if err != nil {
		return err
	}
	b, ok := p.doc.Binaries.Get(ref)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBinary, ref)
	}
	refs.Set(key, b)
	return nil
}

func (p *reader) readAutoType(at *model.AutoType) error {
	return p.children(func(s xml.StartElement) error {
		switch s.Name.Local {
		case "Enabled":
			return p.boolean(s, &at.Enabled)
		case "DataTransferObfuscation":
			return p.integer(s, &at.DataTransferObfuscation)
		case "DefaultSequence":
			return p.str(s, &at.DefaultSequence)
		case "Association":
			var a model.Association
			err := p.children(func(s xml.StartElement) error {
				switch s.Name.Local {
				case "Window":
					return p.str(s, &a.Window)
				case "KeystrokeSequence":
					return p.str(s, &a.KeystrokeSequence)
				}
				return p.skip(s)
			})
			if err != nil {
				return err
			}
			at.Associations = append(at.Associations, a)
			return nil
		}
		return p.skip(s)
	})
}
