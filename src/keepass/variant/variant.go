// Package variant implements the KeePass variant dictionary: an ordered,
// string-keyed map of typed values with a compact binary serialization.
// KDBX 4 uses it for KDF parameters and for public custom data.
package variant

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

const (
	Version      uint16 = 0x0100
	CriticalMask uint16 = 0xFF00
)

// Type is the tag written before each serialized value.
type Type uint8

const (
	TypeEnd       Type = 0x00
	TypeUInt32    Type = 0x04
	TypeUInt64    Type = 0x05
	TypeBool      Type = 0x08
	TypeInt32     Type = 0x0C
	TypeInt64     Type = 0x0D
	TypeString    Type = 0x18
	TypeByteArray Type = 0x42
)

var (
	ErrUnsupportedVersion = errors.New("variant dictionary: unsupported version")
	ErrInvalidKey         = errors.New("variant dictionary: key must not be empty or whitespace")
	ErrUnsupportedType    = errors.New("variant dictionary: unsupported value type")
	ErrDuplicateKey       = errors.New("variant dictionary: key already present")
)

// Dictionary keeps insertion order so that serialization is reproducible.
type Dictionary struct {
	keys   []string
	values map[string]any
}

func New() *Dictionary {
	return &Dictionary{values: make(map[string]any)}
}

func typeOf(value any) (Type, bool) {
	switch value.(type) {
	case uint32:
		return TypeUInt32, true
	case uint64:
		return TypeUInt64, true
	case bool:
		return TypeBool, true
	case int32:
		return TypeInt32, true
	case int64:
		return TypeInt64, true
	case string:
		return TypeString, true
	case []byte:
		return TypeByteArray, true
	}
	return TypeEnd, false
}

func validKey(key string) bool {
	return strings.TrimSpace(key) != ""
}

// Set inserts or replaces the value stored under key.
func (d *Dictionary) Set(key string, value any) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if _, ok := typeOf(value); !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
	if b, ok := value.([]byte); ok {
		value = append([]byte(nil), b...)
	}
	if _, present := d.values[key]; !present {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return nil
}

// Add inserts value only if key is valid and not yet present.
func (d *Dictionary) Add(key string, value any) bool {
	if _, present := d.values[key]; present {
		return false
	}
	return d.Set(key, value) == nil
}

func (d *Dictionary) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d *Dictionary) GetUint32(key string) (uint32, bool) {
	v, ok := d.values[key].(uint32)
	return v, ok
}

func (d *Dictionary) GetUint64(key string) (uint64, bool) {
	v, ok := d.values[key].(uint64)
	return v, ok
}

func (d *Dictionary) GetBool(key string) (bool, bool) {
	v, ok := d.values[key].(bool)
	return v, ok
}

func (d *Dictionary) GetInt32(key string) (int32, bool) {
	v, ok := d.values[key].(int32)
	return v, ok
}

func (d *Dictionary) GetInt64(key string) (int64, bool) {
	v, ok := d.values[key].(int64)
	return v, ok
}

func (d *Dictionary) GetString(key string) (string, bool) {
	v, ok := d.values[key].(string)
	return v, ok
}

// GetBytes returns a copy of the byte array stored under key.
func (d *Dictionary) GetBytes(key string) ([]byte, bool) {
	v, ok := d.values[key].([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (d *Dictionary) Remove(key string) bool {
	if _, present := d.values[key]; !present {
		return false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order.
func (d *Dictionary) Keys() []string {
	return append([]string(nil), d.keys...)
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (d *Dictionary) Clone() *Dictionary {
	c := New()
	if d == nil {
		return c
	}
	for _, k := range d.keys {
		c.Set(k, d.values[k])
	}
	return c
}

// Equal reports whether both dictionaries hold the same keys in the same
// order with equal values.
func (d *Dictionary) Equal(o *Dictionary) bool {
	if d.Len() != o.Len() {
		return false
	}
	if d.Len() == 0 {
		return true
	}
	for i, k := range d.keys {
		if o.keys[i] != k {
			return false
		}
		a, b := d.values[k], o.values[k]
		if ab, ok := a.([]byte); ok {
			bb, ok := b.([]byte)
			if !ok || !bytes.Equal(ab, bb) {
				return false
			}
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}

func encodeValue(value any) []byte {
	switch v := value.(type) {
	case uint32:
		return util.Uint32Bytes(v)
	case uint64:
		return util.Uint64Bytes(v)
	case bool:
		if v {
			return []byte{1}
		}
		return []byte{0}
	case int32:
		return util.Int32Bytes(v)
	case int64:
		return util.Int64Bytes(v)
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

// WriteTo serializes the dictionary to w.
func (d *Dictionary) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.Write(util.Uint16Bytes(Version))
	for _, k := range d.keys {
		v := d.values[k]
		t, _ := typeOf(v)
		data := encodeValue(v)
		if len(k) > math.MaxInt32 || len(data) > math.MaxInt32 {
			return 0, fmt.Errorf("variant dictionary: entry %q too large", k)
		}
		buf.WriteByte(byte(t))
		buf.Write(util.Uint32Bytes(uint32(len(k))))
		buf.WriteString(k)
		buf.Write(util.Uint32Bytes(uint32(len(data))))
		buf.Write(data)
	}
	buf.WriteByte(byte(TypeEnd))
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (d *Dictionary) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Dictionary) UnmarshalBinary(b []byte) error {
	parsed, err := Read(bytes.NewReader(b))
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// Read parses a serialized dictionary. Dictionaries whose critical version
// bits exceed the supported version are rejected.
func Read(r io.Reader) (*Dictionary, error) {
	version, err := util.ReadUint16(r)
	if err != nil {
		return nil, err
	}
	if version&CriticalMask > Version&CriticalMask {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedVersion, version)
	}

	d := New()
	for {
		t, err := util.ReadUint8(r)
		if err != nil {
			return nil, err
		}
		if Type(t) == TypeEnd {
			return d, nil
		}
		name, err := readSized(r)
		if err != nil {
			return nil, err
		}
		data, err := readSized(r)
		if err != nil {
			return nil, err
		}
		value, err := decodeValue(Type(t), data)
		if err != nil {
			return nil, fmt.Errorf("variant dictionary: entry %q: %w", name, err)
		}
		if err := d.Set(string(name), value); err != nil {
			return nil, err
		}
	}
}

func readSized(r io.Reader) ([]byte, error) {
	n, err := util.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("variant dictionary: invalid length %d", n)
	}
	buf := make([]byte, n)
	if err := util.ReadAssert(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeValue(t Type, data []byte) (any, error) {
	size := func(n int) error {
		if len(data) != n {
			return fmt.Errorf("want %d bytes, got %d", n, len(data))
		}
		return nil
	}
	switch t {
	case TypeUInt32:
		if err := size(util.DWORD); err != nil {
			return nil, err
		}
		return util.ReadUint32(bytes.NewReader(data))
	case TypeUInt64:
		if err := size(util.QWORD); err != nil {
			return nil, err
		}
		return util.ReadUint64(bytes.NewReader(data))
	case TypeBool:
		if err := size(1); err != nil {
			return nil, err
		}
		return data[0] != 0, nil
	case TypeInt32:
		if err := size(util.DWORD); err != nil {
			return nil, err
		}
		v, err := util.ReadUint32(bytes.NewReader(data))
		return int32(v), err
	case TypeInt64:
		if err := size(util.QWORD); err != nil {
			return nil, err
		}
		v, err := util.ReadUint64(bytes.NewReader(data))
		return int64(v), err
	case TypeString:
		return string(data), nil
	case TypeByteArray:
		return data, nil
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedType, uint8(t))
}
