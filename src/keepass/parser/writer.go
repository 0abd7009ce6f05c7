package parser

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/parser/wrappers"
	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/util"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

// writer emits tokens until the first error, which is kept in err.
type writer struct {
	e      *xml.Encoder
	stream crypto.Stream
	doc    *model.Document
	opts   Options
	err    error
}

func element(name string, attrs ...xml.Attr) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (p *writer) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *writer) start(name string) {
	if p.err == nil {
		p.err = p.e.EncodeToken(element(name))
	}
}

func (p *writer) end(name string) {
	if p.err == nil {
		p.err = p.e.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
	}
}

func (p *writer) str(name, value string) {
	if p.err == nil {
		p.err = p.e.EncodeElement(value, element(name))
	}
}

func (p *writer) integer(name string, v int64) {
	p.str(name, strconv.FormatInt(v, 10))
}

func (p *writer) boolean(name string, v bool) {
	p.str(name, wrappers.NewBool(v).String())
}

func (p *writer) nullBool(name string, v *bool) {
	p.str(name, wrappers.FromPtr(v).String())
}

func (p *writer) uuid(name string, id uuids.UUID) {
	p.str(name, id.Base64())
}

func (p *writer) time(name string, t time.Time) {
	p.str(name, wrappers.FormatTime(t, p.opts.BinaryTime))
}

func (p *writer) base64(name string, b []byte) {
	p.str(name, base64.StdEncoding.EncodeToString(b))
}

func (p *writer) writeDocument() {
	p.start("KeePassFile")
	p.writeMeta(p.doc.Meta)
	p.start("Root")
	p.writeGroup(p.doc.Root)
	p.writeDeletedObjects()
	p.end("Root")
	p.end("KeePassFile")
}

func (p *writer) writeMeta(m *model.Meta) {
	p.start("Meta")
	p.str("Generator", m.Generator)
	if len(m.HeaderHash) > 0 {
		p.base64("HeaderHash", m.HeaderHash)
	}
	p.str("DatabaseName", m.DatabaseName)
	p.time("DatabaseNameChanged", m.DatabaseNameChanged)
	p.str("DatabaseDescription", m.DatabaseDescription)
	p.time("DatabaseDescriptionChanged", m.DatabaseDescriptionChanged)
	p.str("DefaultUserName", m.DefaultUserName)
	p.time("DefaultUserNameChanged", m.DefaultUserNameChanged)
	p.integer("MaintenanceHistoryDays", int64(m.MaintenanceHistoryDays))
	p.str("Color", m.Color)
	p.time("MasterKeyChanged", m.MasterKeyChanged)
	p.integer("MasterKeyChangeRec", m.MasterKeyChangeRec)
	p.integer("MasterKeyChangeForce", m.MasterKeyChangeForce)

	p.start("MemoryProtection")
	p.boolean("ProtectTitle", m.MemoryProtection.ProtectTitle)
	p.boolean("ProtectUserName", m.MemoryProtection.ProtectUserName)
	p.boolean("ProtectPassword", m.MemoryProtection.ProtectPassword)
	p.boolean("ProtectURL", m.MemoryProtection.ProtectURL)
	p.boolean("ProtectNotes", m.MemoryProtection.ProtectNotes)
	p.end("MemoryProtection")

	if m.CustomIcons.Len() > 0 {
		p.start("CustomIcons")
		for _, icon := range m.CustomIcons.Items() {
			p.start("Icon")
			p.uuid("UUID", icon.UUID)
			p.base64("Data", icon.Data)
			if icon.Name != "" {
				p.str("Name", icon.Name)
			}
			if !icon.LastModified.IsZero() {
				p.time("LastModificationTime", icon.LastModified)
			}
			p.end("Icon")
		}
		p.end("CustomIcons")
	}

	p.boolean("RecycleBinEnabled", m.RecycleBinEnabled)
	p.uuid("RecycleBinUUID", m.RecycleBinUUID)
	p.time("RecycleBinChanged", m.RecycleBinChanged)
	p.uuid("EntryTemplatesGroup", m.EntryTemplatesGroup)
	p.time("EntryTemplatesGroupChanged", m.EntryTemplatesGroupChanged)
	p.integer("HistoryMaxItems", int64(m.HistoryMaxItems))
	p.integer("HistoryMaxSize", m.HistoryMaxSize)
	p.uuid("LastSelectedGroup", m.LastSelectedGroup)
	p.uuid("LastTopVisibleGroup", m.LastTopVisibleGroup)
	if p.opts.InlineBinaries {
		p.writeBinaries()
	}
	p.writeCustomData(m.CustomData, true)
	p.end("Meta")
}

func (p *writer) writeBinaries() {
	p.start("Binaries")
	for _, i := range p.doc.Binaries.Indexes() {
		b, _ := p.doc.Binaries.Get(i)
		p.writeBinary(i, b)
	}
	p.end("Binaries")
}

// writeBinary masks protected binaries. Only unprotected ones are
// compressed.
func (p *writer) writeBinary(id int, b *protect.Bytes) {
	if p.err != nil {
		return
	}
	data, err := b.ToArray()
	if err != nil {
		p.fail(err)
		return
	}
	defer util.Zero(data)
	start := element("Binary", attr("ID", strconv.Itoa(id)))
	if b.IsProtected() {
		p.err = wrappers.WriteValue(p.e, start, wrappers.Value{Inner: data, Protected: true}, p.stream)
		return
	}
	if p.opts.CompressBinaries {
		zipped, err := util.GZip(data)
		if err != nil {
			p.fail(err)
			return
		}
		start.Attr = append(start.Attr, attr("Compressed", "True"))
		p.err = p.e.EncodeElement(base64.StdEncoding.EncodeToString(zipped), start)
		return
	}
	p.err = p.e.EncodeElement(base64.StdEncoding.EncodeToString(data), start)
}

// writeCustomData writes the string items of dict. The element is left
// out for empty dictionaries unless always is set.
func (p *writer) writeCustomData(dict *variant.Dictionary, always bool) {
	if dict.Len() == 0 && !always {
		return
	}
	p.start("CustomData")
	for _, key := range dict.Keys() {
		value, ok := dict.GetString(key)
		if !ok {
			log.Warnf("Custom data item '%s' is not a string and is not written", key)
			continue
		}
		p.start("Item")
		p.str("Key", key)
		p.str("Value", value)
		p.end("Item")
	}
	p.end("CustomData")
}

func (p *writer) writeTimes(t *model.Times) {
	p.start("Times")
	p.time("CreationTime", t.CreationTime)
	p.time("LastModificationTime", t.LastModificationTime)
	p.time("LastAccessTime", t.LastAccessTime)
	p.time("ExpiryTime", t.ExpiryTime)
	p.boolean("Expires", t.Expires)
	p.integer("UsageCount", t.UsageCount)
	p.time("LocationChanged", t.LocationChanged)
	p.end("Times")
}

func (p *writer) writeGroup(g *model.Group) {
	p.start("Group")
	p.uuid("UUID", g.UUID)
	p.str("Name", g.Name)
	p.str("Notes", g.Notes)
	p.integer("IconID", int64(g.IconID))
	if !g.CustomIconUUID.IsZero() {
		p.uuid("CustomIconUUID", g.CustomIconUUID)
	}
	p.writeTimes(&g.Times)
	p.boolean("IsExpanded", g.IsExpanded)
	p.str("DefaultAutoTypeSequence", g.DefaultAutoTypeSequence)
	p.nullBool("EnableAutoType", g.EnableAutoType)
	p.nullBool("EnableSearching", g.EnableSearching)
	p.uuid("LastTopVisibleEntry", g.LastTopVisibleEntry)
	p.writeCustomData(g.CustomData, false)
	for _, e := range g.Entries.Items() {
		p.writeEntry(e)
	}
	for _, child := range g.Groups.Items() {
		p.writeGroup(child)
	}
	p.end("Group")
}

func (p *writer) writeEntry(e *model.Entry) {
	p.start("Entry")
	p.uuid("UUID", e.UUID)
	p.integer("IconID", int64(e.IconID))
	if !e.CustomIconUUID.IsZero() {
		p.uuid("CustomIconUUID", e.CustomIconUUID)
	}
	p.str("ForegroundColor", e.ForegroundColor)
	p.str("BackgroundColor", e.BackgroundColor)
	p.str("OverrideURL", e.OverrideURL)
	p.str("Tags", e.TagString())
	p.writeTimes(&e.Times)
	for _, key := range e.Strings.Keys() {
		value, _ := e.Strings.Get(key)
		p.writeString(key, value)
	}
	for _, name := range e.Binaries.Keys() {
		b, _ := e.Binaries.Get(name)
		p.writeBinaryRef(name, b)
	}
	p.writeAutoType(&e.AutoType)
	p.writeCustomData(e.CustomData, false)
	if !e.IsHistorical {
		p.start("History")
		for _, snapshot := range e.History.Items() {
			p.writeEntry(snapshot)
		}
		p.end("History")
	}
	p.end("Entry")
}

func (p *writer) writeString(key string, value *protect.Text) {
	if p.err != nil {
		return
	}
	plain, err := value.Bytes()
	if err != nil {
		p.fail(fmt.Errorf("string '%s': %w", key, err))
		return
	}
	defer util.Zero(plain)
	protected := value.Sensitive() || p.doc.Meta.MemoryProtection.Protects(key)

	p.start("String")
	p.str("Key", key)
	if p.err == nil {
		p.err = wrappers.WriteValue(p.e, element("Value"), wrappers.Value{Inner: plain, Protected: protected}, p.stream)
	}
	p.end("String")
}

func (p *writer) writeBinaryRef(name string, b *protect.Bytes) {
	id, ok := p.doc.Binaries.IndexOf(b)
	if !ok {
		p.fail(fmt.Errorf("%w: attachment '%s' is not in the pool", ErrUnknownBinary, name))
		return
	}
	p.start("Binary")
	p.str("Key", name)
	if p.err == nil {
		p.err = p.e.EncodeElement("", element("Value", attr("Ref", strconv.Itoa(id))))
	}
	p.end("Binary")
}

func (p *writer) writeAutoType(at *model.AutoType) {
	p.start("AutoType")
	p.boolean("Enabled", at.Enabled)
	p.integer("DataTransferObfuscation", int64(at.DataTransferObfuscation))
	if at.DefaultSequence != "" {
		p.str("DefaultSequence", at.DefaultSequence)
	}
	for _, a := range at.Associations {
		p.start("Association")
		p.str("Window", a.Window)
		p.str("KeystrokeSequence", a.KeystrokeSequence)
		p.end("Association")
	}
	p.end("AutoType")
}

func (p *writer) writeDeletedObjects() {
	p.start("DeletedObjects")
	for _, obj := range p.doc.DeletedObjects.Items() {
		p.start("DeletedObject")
		p.uuid("UUID", obj.UUID)
		p.time("DeletionTime", obj.DeletionTime)
		p.end("DeletedObject")
	}
	p.end("DeletedObjects")
}
