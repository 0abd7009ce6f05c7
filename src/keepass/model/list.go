package model

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrItemNotFound    = errors.New("item not in list")
)

// Cloner is implemented by list elements that know how to deep-copy
// themselves.
type Cloner[T any] interface {
	Clone() (T, error)
}

// MoveableList is an ordered list whose elements can be reordered by index
// or by identity. Item-based methods compare elements with ==, so T should
// be a pointer or another comparable type.
type MoveableList[T any] struct {
	items []T
}

// NewList copies items, so the list never shares storage with the caller.
func NewList[T any](items ...T) *MoveableList[T] {
	return &MoveableList[T]{items: append([]T(nil), items...)}
}

func (l *MoveableList[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

func (l *MoveableList[T]) At(i int) T {
	return l.items[i]
}

// Items returns a copy of the backing slice.
func (l *MoveableList[T]) Items() []T {
	if l == nil {
		return nil
	}
	return append([]T(nil), l.items...)
}

func (l *MoveableList[T]) Add(items ...T) {
	l.items = append(l.items, items...)
}

func (l *MoveableList[T]) check(indices ...int) error {
	for _, i := range indices {
		if i < 0 || i >= len(l.items) {
			return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(l.items))
		}
	}
	return nil
}

// Insert places item at index i; i may equal Len to append.
func (l *MoveableList[T]) Insert(i int, item T) error {
	if i != len(l.items) {
		if err := l.check(i); err != nil {
			return err
		}
	}
	var zero T
	l.items = append(l.items, zero)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = item
	return nil
}

func (l *MoveableList[T]) RemoveAt(i int) (T, error) {
	var zero T
	if err := l.check(i); err != nil {
		return zero, err
	}
	item := l.items[i]
	copy(l.items[i:], l.items[i+1:])
	l.items[len(l.items)-1] = zero
	l.items = l.items[:len(l.items)-1]
	return item, nil
}

func (l *MoveableList[T]) Remove(item T) bool {
	i := l.IndexOf(item)
	if i < 0 {
		return false
	}
	l.RemoveAt(i)
	return true
}

func (l *MoveableList[T]) IndexOf(item T) int {
	for i, it := range l.items {
		if any(it) == any(item) {
			return i
		}
	}
	return -1
}

func (l *MoveableList[T]) Clear() {
	l.items = nil
}

// ShiftItem moves the element at from to index to. Elements in between
// shift by one towards the vacated slot.
func (l *MoveableList[T]) ShiftItem(from, to int) error {
	if err := l.check(from, to); err != nil {
		return err
	}
	item := l.items[from]
	if from < to {
		copy(l.items[from:to], l.items[from+1:to+1])
	} else {
		copy(l.items[to+1:from+1], l.items[to:from])
	}
	l.items[to] = item
	return nil
}

func (l *MoveableList[T]) SwapItem(i, j int) error {
	if err := l.check(i, j); err != nil {
		return err
	}
	l.items[i], l.items[j] = l.items[j], l.items[i]
	return nil
}

func (l *MoveableList[T]) MoveTop(i int) error {
	return l.ShiftItem(i, 0)
}

func (l *MoveableList[T]) MoveBottom(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	return l.ShiftItem(i, len(l.items)-1)
}

// MoveUp swaps the element with its predecessor. The first element stays.
func (l *MoveableList[T]) MoveUp(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	if i == 0 {
		return nil
	}
	return l.SwapItem(i, i-1)
}

// MoveDown swaps the element with its successor. The last element stays.
func (l *MoveableList[T]) MoveDown(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	if i == len(l.items)-1 {
		return nil
	}
	return l.SwapItem(i, i+1)
}

func (l *MoveableList[T]) indexOrErr(item T) (int, error) {
	i := l.IndexOf(item)
	if i < 0 {
		return -1, ErrItemNotFound
	}
	return i, nil
}

func (l *MoveableList[T]) MoveItemTop(item T) error {
	i, err := l.indexOrErr(item)
	if err != nil {
		return err
	}
	return l.MoveTop(i)
}

func (l *MoveableList[T]) MoveItemBottom(item T) error {
	i, err := l.indexOrErr(item)
	if err != nil {
		return err
	}
	return l.MoveBottom(i)
}

func (l *MoveableList[T]) MoveItemUp(item T) error {
	i, err := l.indexOrErr(item)
	if err != nil {
		return err
	}
	return l.MoveUp(i)
}

func (l *MoveableList[T]) MoveItemDown(item T) error {
	i, err := l.indexOrErr(item)
	if err != nil {
		return err
	}
	return l.MoveDown(i)
}

// Sort orders the list stably.
func (l *MoveableList[T]) Sort(less func(a, b T) bool) {
	sort.SliceStable(l.items, func(i, j int) bool {
		return less(l.items[i], l.items[j])
	})
}

// Clone deep-copies elements implementing Cloner and copies the rest by
// value.
func (l *MoveableList[T]) Clone() (*MoveableList[T], error) {
	out := &MoveableList[T]{items: make([]T, 0, l.Len())}
	for _, it := range l.Items() {
		if c, ok := any(it).(Cloner[T]); ok {
			cloned, err := c.Clone()
			if err != nil {
				return nil, err
			}
			it = cloned
		}
		out.items = append(out.items, it)
	}
	return out, nil
}
