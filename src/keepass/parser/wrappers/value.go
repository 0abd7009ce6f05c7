package wrappers

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"strings"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/util"
)

var ErrNilStream = errors.New("protected value without inner random stream")

// Value is the content of a String/Value element. Inner holds the plain
// text; the caller wipes it once it has been moved into protected memory.
type Value struct {
	Inner     []byte
	Protected bool
}

// IsTrueAttr reports whether the attribute name is set to "True".
func IsTrueAttr(start xml.StartElement, name string) bool {
	for _, attr := range start.Attr {
		if attr.Name.Local == name {
			return strings.EqualFold(attr.Value, "true")
		}
	}
	return false
}

// Attr returns the value of the named attribute.
func Attr(start xml.StartElement, name string) (string, bool) {
	for _, attr := range start.Attr {
		if attr.Name.Local == name {
			return attr.Value, true
		}
	}
	return "", false
}

// ReadValue consumes the element opened by start. Protected values are
// base64-decoded and unmasked with the next bytes of stream.
func ReadValue(d *xml.Decoder, start xml.StartElement, stream crypto.Stream) (Value, error) {
	v := Value{Protected: IsTrueAttr(start, "Protected")}
	var chardata string
	if err := d.DecodeElement(&chardata, &start); err != nil {
		return v, err
	}
	if !v.Protected {
		v.Inner = []byte(chardata)
		return v, nil
	}
	if stream == nil {
		return v, ErrNilStream
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(chardata))
	if err != nil {
		return v, err
	}
	v.Inner, err = stream.Decrypt(decoded)
	return v, err
}

// WriteValue encodes v as the element start. Protected values consume
// stream bytes and are written base64 encoded with Protected="True".
func WriteValue(e *xml.Encoder, start xml.StartElement, v Value, stream crypto.Stream) error {
	if !v.Protected {
		return e.EncodeElement(string(v.Inner), start)
	}
	if stream == nil {
		return ErrNilStream
	}
	start.Attr = append(start.Attr, xml.Attr{
		Name:  xml.Name{Local: "Protected"},
		Value: "True",
	})
	encrypted, err := stream.Encrypt(v.Inner)
	if err != nil {
		return err
	}
	defer util.Zero(encrypted)
	return e.EncodeElement(base64.StdEncoding.EncodeToString(encrypted), start)
}
