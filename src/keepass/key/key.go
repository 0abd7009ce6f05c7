// Package key builds the composite key that unlocks a database from one or
// more user key fragments.
package key

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/util"
)

var (
	ErrEmptyKey      = errors.New("composite key has no fragments")
	ErrEmptyPassword = errors.New("password must not be empty")
)

// Fragment is one source of key material. Data holds the 32 byte hash
// that is fed into the composite key.
type Fragment interface {
	Name() string
	Data() *protect.Bytes
	Close() error
}

type fragment struct {
	name string
	data *protect.Bytes
}

func newFragment(name string, data []byte) (*fragment, error) {
	b, err := protect.NewBytes(data, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &fragment{name: name, data: b}, nil
}

func (f *fragment) Name() string         { return f.name }
func (f *fragment) Data() *protect.Bytes { return f.data }
func (f *fragment) Close() error         { return f.data.Close() }

// CompositeKey concatenates the data of its fragments in insertion order.
type CompositeKey struct {
	fragments []Fragment
}

func New(fragments ...Fragment) *CompositeKey {
	return &CompositeKey{fragments: fragments}
}

func (k *CompositeKey) Add(f Fragment) {
	k.fragments = append(k.fragments, f)
}

// Remove drops f without closing it.
func (k *CompositeKey) Remove(f Fragment) bool {
	for i, g := range k.fragments {
		if g == f {
			k.fragments = append(k.fragments[:i], k.fragments[i+1:]...)
			return true
		}
	}
	return false
}

func (k *CompositeKey) Fragments() []Fragment {
	return append([]Fragment(nil), k.fragments...)
}

func (k *CompositeKey) IsEmpty() bool {
	return len(k.fragments) == 0
}

// Has reports whether a fragment with the given name is present.
func (k *CompositeKey) Has(name string) bool {
	for _, f := range k.fragments {
		if f.Name() == name {
			return true
		}
	}
	return false
}

// Assemble returns SHA-256 over the concatenated fragment data. The
// intermediate buffer is wiped before returning.
func (k *CompositeKey) Assemble() ([]byte, error) {
	if k.IsEmpty() {
		return nil, ErrEmptyKey
	}
	var buf []byte
	defer func() { util.Zero(buf) }()
	for _, f := range k.fragments {
		data, err := f.Data().ToArray()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		buf = append(buf, data...)
		util.Zero(data)
	}
	sum := sha256.Sum256(buf)
	return sum[:], nil
}

// Close disposes every fragment.
func (k *CompositeKey) Close() error {
	var first error
	for _, f := range k.fragments {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	k.fragments = nil
	return first
}
