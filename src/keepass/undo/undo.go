// Package undo records edits of a document so that they can be reverted
// and replayed.
package undo

import (
	"github.com/Zaphoood/kdbx/src/util"
)

type Action[T any] interface {
	Do(*T) error
	Undo(*T) error
	Description() string
}

type AtLastChange struct{}

func (_ AtLastChange) Error() string {
	return "Already at last change"
}

type AtNewestChange struct{}

func (_ AtNewestChange) Error() string {
	return "Already at newest change"
}

type UndoManager[T any] struct {
	actions []Action[T]
	// step is an index into actions which points at the action after last executed action
	step int
}

func NewUndoManager[T any]() UndoManager[T] {
	return UndoManager[T]{
		actions: []Action[T]{},
		step:    0,
	}
}

// Do applies action and drops every change that was undone before. A
// failed action is not recorded.
func (u *UndoManager[T]) Do(target *T, action Action[T]) error {
	if err := action.Do(target); err != nil {
		return err
	}
	u.actions = append(u.actions[:util.Min(u.step, len(u.actions))], action)
	u.step++
	return nil
}

func (u *UndoManager[T]) Undo(target *T) (Action[T], error) {
	if u.step == 0 {
		return nil, AtLastChange{}
	}
	action := u.actions[u.step-1]
	if err := action.Undo(target); err != nil {
		return nil, err
	}
	u.step--
	return action, nil
}

func (u *UndoManager[T]) Redo(target *T) (Action[T], error) {
	if u.step >= len(u.actions) {
		return nil, AtNewestChange{}
	}
	action := u.actions[u.step]
	if err := action.Do(target); err != nil {
		return nil, err
	}
	u.step++
	return action, nil
}

// CanUndo and CanRedo report whether Undo or Redo would do anything.
func (u *UndoManager[T]) CanUndo() bool {
	return u.step > 0
}

func (u *UndoManager[T]) CanRedo() bool {
	return u.step < len(u.actions)
}
