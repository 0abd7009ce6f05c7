package wrappers

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBool(t *testing.T) {
	type root struct {
		XMLName xml.Name `xml:"Root"`
		Bool    Bool     `xml:"MyBool"`
	}
	template := "<Root><MyBool>%s</MyBool></Root>"
	cases := []struct {
		input         string
		expectError   bool
		expectedIsSet bool
		expectedValue bool
	}{
		{input: "True", expectedIsSet: true, expectedValue: true},
		{input: "False", expectedIsSet: true, expectedValue: false},
		{input: "true", expectedIsSet: true, expectedValue: true},
		{input: "null", expectedIsSet: false},
		{input: "", expectedIsSet: false},
		{input: "asdfas", expectError: true},
	}

	for _, c := range cases {
		r := root{}
		err := xml.Unmarshal([]byte(fmt.Sprintf(template, c.input)), &r)
		if c.expectError {
			assert.NotNil(t, err, "input '%s'", c.input)
			continue
		}
		if assert.Nil(t, err, "input '%s'", c.input) {
			assert.Equal(t, c.expectedIsSet, r.Bool.IsSet(), "input '%s'", c.input)
			assert.Equal(t, c.expectedValue, r.Bool.Value(), "input '%s'", c.input)
		}
	}
}

func TestBoolMarshal(t *testing.T) {
	assert := assert.New(t)

	yes := true
	assert.Equal("True", FromPtr(&yes).String())
	assert.Equal("null", FromPtr(nil).String())
	assert.Nil(Bool{}.Ptr())
	assert.False(*NewBool(false).Ptr())

	out, err := xml.Marshal(struct {
		XMLName xml.Name `xml:"Root"`
		B       Bool     `xml:"EnableAutoType"`
	}{B: NewBool(false)})
	if assert.Nil(err) {
		assert.Equal("<Root><EnableAutoType>False</EnableAutoType></Root>", string(out))
	}
}

func decodeStart(t *testing.T, d *xml.Decoder) xml.StartElement {
	for {
		tok, err := d.Token()
		require.Nil(t, err)
		if start, ok := tok.(xml.StartElement); ok {
			return start
		}
	}
}

func TestValue(t *testing.T) {
	assert := assert.New(t)

	key := [32]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31}
	v := Value{Inner: []byte("I love capybaras"), Protected: true}
	expectedXml := `<Value Protected="True">EXPgIU5fBPZ+HyP+4Dg+1A==</Value>`
	start := xml.StartElement{Name: xml.Name{Local: "Value"}}

	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	assert.ErrorIs(WriteValue(e, start, v, nil), ErrNilStream)

	salsa, err := crypto.NewSalsa20Stream(key)
	require.Nil(t, err)
	require.Nil(t, WriteValue(e, start, v, salsa))
	require.Nil(t, e.Flush())
	assert.Equal(expectedXml, buf.String())
	assert.False(strings.Contains(buf.String(), string(v.Inner)))

	salsa, err = crypto.NewSalsa20Stream(key)
	require.Nil(t, err)
	d := xml.NewDecoder(strings.NewReader(buf.String()))
	vOut, err := ReadValue(d, decodeStart(t, d), salsa)
	if assert.Nil(err) {
		assert.Equal(v, vOut)
	}
}

func TestValueUnprotected(t *testing.T) {
	d := xml.NewDecoder(strings.NewReader(`<Value>plain &amp; simple</Value>`))
	v, err := ReadValue(d, decodeStart(t, d), nil)
	if assert.Nil(t, err) {
		assert.False(t, v.Protected)
		assert.Equal(t, "plain & simple", string(v.Inner))
	}
}

func TestAttr(t *testing.T) {
	d := xml.NewDecoder(strings.NewReader(`<Binary ID="3" Compressed="true"/>`))
	start := decodeStart(t, d)
	id, ok := Attr(start, "ID")
	assert.True(t, ok)
	assert.Equal(t, "3", id)
	assert.True(t, IsTrueAttr(start, "Compressed"))
	assert.False(t, IsTrueAttr(start, "Protected"))
}

func TestTime(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2023, time.February, 12, 22, 6, 16, 0, time.UTC)
	assert.Equal("2023-02-12T22:06:16Z", FormatTime(ts, false))

	for _, binaryTime := range []bool{false, true} {
		parsed, err := ParseTime(FormatTime(ts, binaryTime))
		if assert.Nil(err) {
			assert.Equal(ts, parsed)
		}
	}

	zero, err := ParseTime(FormatTime(time.Time{}, true))
	if assert.Nil(err) {
		assert.True(zero.IsZero())
	}
	assert.Equal("AAAAAAAAAAA=", FormatTime(time.Time{}, true))

	empty, err := ParseTime("")
	assert.Nil(err)
	assert.True(empty.IsZero())

	_, err = ParseTime("yesterday")
	assert.NotNil(err)
}
