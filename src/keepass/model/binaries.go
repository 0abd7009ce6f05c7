package model

import (
	"sort"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
)

// BinaryMap is the per-document attachment pool. Equal payloads are stored
// once and referenced by index.
type BinaryMap struct {
	items map[int]*protect.Bytes
	next  int
}

func NewBinaryMap() *BinaryMap {
	return &BinaryMap{items: make(map[int]*protect.Bytes)}
}

// Add returns the index of b, reusing the index of an equal payload
// already in the pool. New indices grow monotonically and skip indices
// that were assigned explicitly with Set.
func (m *BinaryMap) Add(b *protect.Bytes) int {
	if i, ok := m.IndexOf(b); ok {
		return i
	}
	for {
		if _, taken := m.items[m.next]; !taken {
			break
		}
		m.next++
	}
	i := m.next
	m.items[i] = b
	m.next++
	return i
}

// Set stores b under a fixed index, as read from a file.
func (m *BinaryMap) Set(i int, b *protect.Bytes) {
	m.items[i] = b
}

func (m *BinaryMap) Get(i int) (*protect.Bytes, bool) {
	b, ok := m.items[i]
	return b, ok
}

// IndexOf finds b by identity first and by content second.
func (m *BinaryMap) IndexOf(b *protect.Bytes) (int, bool) {
	for i, it := range m.items {
		if it == b {
			return i, true
		}
	}
	for _, i := range m.Indexes() {
		if m.items[i].Equal(b) {
			return i, true
		}
	}
	return -1, false
}

// holds reports whether this exact payload is in the pool.
func (m *BinaryMap) holds(b *protect.Bytes) bool {
	for _, it := range m.items {
		if it == b {
			return true
		}
	}
	return false
}

// Indexes returns the used indices in ascending order.
func (m *BinaryMap) Indexes() []int {
	out := make([]int, 0, len(m.items))
	for i := range m.items {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (m *BinaryMap) Len() int {
	return len(m.items)
}

// Close disposes every payload in the pool.
func (m *BinaryMap) Close() {
	for _, b := range m.items {
		b.Close()
	}
	m.items = make(map[int]*protect.Bytes)
	m.next = 0
}
