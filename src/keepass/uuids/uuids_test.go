package uuids

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsUnique(t *testing.T) {
	Reset()
	defer Reset()

	seen := make(map[UUID]bool)
	for i := 0; i < 10000; i++ {
		u := New()
		assert.False(t, u.IsZero())
		if seen[u] {
			t.Fatalf("duplicate UUID after %d generations: %v", i, u)
		}
		seen[u] = true
	}
	ids, _ := Tracked()
	assert.Equal(t, 10000, ids)
}

func TestRegistryRejectsRepeats(t *testing.T) {
	assert := assert.New(t)

	r := NewRegistry()
	constant := func(b []byte) error {
		copy(b, bytes.Repeat([]byte{7}, len(b)))
		return nil
	}
	first, err := r.Generate(4, constant)
	assert.Nil(err)
	assert.Equal([]byte{7, 7, 7, 7}, first)

	_, err = r.Generate(4, constant)
	assert.Equal(ErrExhausted, err)

	r.Remove(first)
	_, err = r.Generate(4, constant)
	assert.Nil(err)

	r.Clear()
	assert.Equal(0, r.Len())
}

func TestNonces(t *testing.T) {
	Reset()
	defer Reset()

	a, err := NewNonce(8)
	assert.Nil(t, err)
	b, err := NewNonce(8)
	assert.Nil(t, err)
	assert.NotEqual(t, a, b)
	_, n := Tracked()
	assert.Equal(t, 2, n)

	ReleaseNonce(a)
	_, n = Tracked()
	assert.Equal(t, 1, n)
}

func TestEncodings(t *testing.T) {
	assert := assert.New(t)

	u, err := Parse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	if !assert.Nil(err) {
		return
	}
	assert.Equal(byte(0x31), u[0])
	assert.Equal(byte(0xff), u[15])
	assert.Equal("31c1f2e6-bf71-4350-be58-05216afc5aff", u.String())

	back, err := ParseBase64(u.Base64())
	assert.Nil(err)
	assert.Equal(u, back)

	empty, err := ParseBase64("")
	assert.Nil(err)
	assert.True(empty.IsZero())

	_, err = ParseBase64("AAAA")
	assert.NotNil(err)
	_, err = FromBytes([]byte{1, 2, 3})
	assert.NotNil(err)
	_, err = Parse("xyz")
	assert.NotNil(err)

	for _, form := range []string{
		"31c1f2e6bf714350be5805216afc5aff",
		"{31c1f2e6-bf71-4350-be58-05216afc5aff}",
		"urn:uuid:31c1f2e6-bf71-4350-be58-05216afc5aff",
	} {
		other, err := Parse(form)
		assert.Nil(err, form)
		assert.Equal(u, other, form)
	}
}
