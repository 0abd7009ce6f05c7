package model

import (
	"sort"
	"strings"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
)

// Standard entry string fields.
const (
	TitleField    = "Title"
	UserNameField = "UserName"
	PasswordField = "Password"
	URLField      = "URL"
	NotesField    = "Notes"
)

var standardFields = []string{TitleField, UserNameField, PasswordField, URLField, NotesField}

type stringField struct {
	key   string
	value *protect.Text
}

// StringMap maps field names to protected strings. Lookups ignore case;
// the casing of the first insertion is kept for serialization.
type StringMap struct {
	fields map[string]*stringField
}

func NewStringMap() *StringMap {
	return &StringMap{fields: make(map[string]*stringField)}
}

func fold(key string) string {
	return strings.ToLower(key)
}

// Set stores value under key, closing any value it replaces.
func (m *StringMap) Set(key string, value *protect.Text) {
	if f, ok := m.fields[fold(key)]; ok {
		if f.value != value {
			f.value.Close()
		}
		f.value = value
		return
	}
	m.fields[fold(key)] = &stringField{key: key, value: value}
}

func (m *StringMap) SetString(key, value string, protected bool) error {
	t, err := protect.NewText(value, protected)
	if err != nil {
		return err
	}
	m.Set(key, t)
	return nil
}

func (m *StringMap) Get(key string) (*protect.Text, bool) {
	f, ok := m.fields[fold(key)]
	if !ok {
		return nil, false
	}
	return f.value, true
}

// ReadAsString reveals the value stored under key. Missing or disposed
// values read as the empty string.
func (m *StringMap) ReadAsString(key string) string {
	t, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, err := t.Reveal()
	if err != nil {
		return ""
	}
	return s
}

func (m *StringMap) Has(key string) bool {
	_, ok := m.fields[fold(key)]
	return ok
}

// Delete closes and removes the value under key.
func (m *StringMap) Delete(key string) bool {
	f, ok := m.fields[fold(key)]
	if !ok {
		return false
	}
	f.value.Close()
	delete(m.fields, fold(key))
	return true
}

func (m *StringMap) Len() int {
	return len(m.fields)
}

// Keys returns the stored keys in ordinal byte order, which is also the
// order in which fields are serialized.
func (m *StringMap) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for _, f := range m.fields {
		keys = append(keys, f.key)
	}
	sort.Strings(keys)
	return keys
}

func (m *StringMap) Clone() (*StringMap, error) {
	out := NewStringMap()
	for k, f := range m.fields {
		v, err := f.value.Clone()
		if err != nil {
			out.Close()
			return nil, err
		}
		out.fields[k] = &stringField{key: f.key, value: v}
	}
	return out, nil
}

// Equal compares keys and decrypted values.
func (m *StringMap) Equal(o *StringMap) bool {
	if m.Len() != o.Len() {
		return false
	}
	for k, f := range m.fields {
		g, ok := o.fields[k]
		if !ok || !f.value.Equal(g.value) {
			return false
		}
	}
	return true
}

func (m *StringMap) Close() {
	for _, f := range m.fields {
		f.value.Close()
	}
	m.fields = make(map[string]*stringField)
}

// BinaryRefs maps attachment names of an entry to payloads held by the
// document's BinaryMap. The payloads are shared and not owned by the entry.
type BinaryRefs struct {
	refs map[string]*protect.Bytes
}

func NewBinaryRefs() *BinaryRefs {
	return &BinaryRefs{refs: make(map[string]*protect.Bytes)}
}

func (r *BinaryRefs) Set(name string, b *protect.Bytes) {
	r.refs[name] = b
}

func (r *BinaryRefs) Get(name string) (*protect.Bytes, bool) {
	b, ok := r.refs[name]
	return b, ok
}

func (r *BinaryRefs) Delete(name string) bool {
	if _, ok := r.refs[name]; !ok {
		return false
	}
	delete(r.refs, name)
	return true
}

func (r *BinaryRefs) Len() int {
	return len(r.refs)
}

// Keys returns the attachment names sorted ordinally.
func (r *BinaryRefs) Keys() []string {
	keys := make([]string, 0, len(r.refs))
	for k := range r.refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *BinaryRefs) Clone() *BinaryRefs {
	out := NewBinaryRefs()
	for k, v := range r.refs {
		out.refs[k] = v
	}
	return out
}
