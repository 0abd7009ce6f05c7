package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	assert := assert.New(t)

	s := New[string]()
	assert.True(s.Insert("a"))
	assert.False(s.Insert("a"))
	assert.True(s.Insert("b"))
	assert.True(s.Contains("a"))
	assert.Equal(2, s.Len())

	s.Delete("a")
	assert.False(s.Contains("a"))
	assert.Equal(1, s.Len())

	s.Clear()
	assert.Equal(0, s.Len())
	assert.False(s.Contains("b"))
}
