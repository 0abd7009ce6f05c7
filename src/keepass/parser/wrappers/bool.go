package wrappers

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Bool represents a tag that contains "True", "False" or "null" as its
// chardata. "null" and an empty element leave the value unset, which
// means "inherit from the parent" for group settings.
type Bool struct {
	isSet bool
	value bool
}

func NewBool(v bool) Bool {
	return Bool{isSet: true, value: v}
}

// FromPtr converts the model's *bool representation.
func FromPtr(p *bool) Bool {
	if p == nil {
		return Bool{}
	}
	return NewBool(*p)
}

func (b Bool) IsSet() bool {
	return b.isSet
}

func (b Bool) Value() bool {
	return b.value
}

// Ptr returns nil for an unset Bool.
func (b Bool) Ptr() *bool {
	if !b.isSet {
		return nil
	}
	v := b.value
	return &v
}

func (b Bool) String() string {
	if !b.isSet {
		return "null"
	}
	if b.value {
		return "True"
	}
	return "False"
}

// ParseBool accepts the spellings KeePass writes, ignoring case.
func ParseBool(s string) (Bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return NewBool(true), nil
	case "false", "0":
		return NewBool(false), nil
	case "null", "":
		return Bool{}, nil
	}
	return Bool{}, fmt.Errorf("want 'True', 'False' or 'null', got '%s'", s)
}

func (b *Bool) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	parsed, err := ParseBool(s)
	if err != nil {
		return fmt.Errorf("failed to unmarshal element '%s' as bool: %w", start.Name.Local, err)
	}
	*b = parsed
	return nil
}

func (b Bool) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(b.String(), start)
}
