package protect

import (
	"crypto/subtle"
	"sync"
	"unicode/utf8"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

// Text is a protected string. Revealing it caches a plain Go string which
// cannot be wiped, after which the value no longer counts as protected.
// Sensitive remembers the original protection flag so that it is written
// back with Protected="True".
type Text struct {
	mu        sync.Mutex
	bytes     *Bytes
	revealed  *string
	sensitive bool
}

func NewText(s string, protected bool) (*Text, error) {
	b := []byte(s)
	defer util.Zero(b)
	return NewTextFromBytes(b, protected)
}

// NewTextFromBytes takes UTF-8 data; invalid sequences are kept as is.
func NewTextFromBytes(b []byte, protected bool) (*Text, error) {
	pb, err := NewBytes(b, protected)
	if err != nil {
		return nil, err
	}
	return &Text{bytes: pb, sensitive: protected}, nil
}

// MustText panics if the value cannot be protected.
func MustText(s string, protected bool) *Text {
	t, err := NewText(s, protected)
	if err != nil {
		panic(err)
	}
	return t
}

// Empty returns an unprotected empty string.
func Empty() *Text {
	return MustText("", false)
}

func (t *Text) IsProtected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes.IsProtected() && t.revealed == nil
}

func (t *Text) Sensitive() bool {
	return t.sensitive
}

// Len is the length in bytes of the UTF-8 encoding, 0 after Close.
func (t *Text) Len() int {
	return t.bytes.Len()
}

// IsEmpty is true for nil and for closed texts.
func (t *Text) IsEmpty() bool {
	return t == nil || t.Len() == 0
}

// RuneCount returns the number of characters.
func (t *Text) RuneCount() (int, error) {
	b, err := t.Bytes()
	if err != nil {
		return 0, err
	}
	defer util.Zero(b)
	return utf8.RuneCount(b), nil
}

// Bytes returns a fresh UTF-8 copy.
func (t *Text) Bytes() ([]byte, error) {
	return t.bytes.ToArray()
}

func (t *Text) Hash() ([32]byte, error) {
	return t.bytes.Hash()
}

// Reveal decrypts the text once and caches the result.
func (t *Text) Reveal() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.revealed != nil {
		return *t.revealed, nil
	}
	b, err := t.bytes.ToArray()
	if err != nil {
		return "", err
	}
	s := string(b)
	util.Zero(b)
	t.revealed = &s
	return s, nil
}

// String reveals the text. Errors yield an empty string.
func (t *Text) String() string {
	if t == nil {
		return ""
	}
	s, _ := t.Reveal()
	return s
}

func (t *Text) cached() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.revealed == nil {
		return "", false
	}
	return *t.revealed, true
}

// Equal compares hashes first, then cached strings, and only then the
// decrypted bytes.
func (t *Text) Equal(o *Text) bool {
	if t == nil || o == nil {
		return t.IsEmpty() && o.IsEmpty()
	}
	if t.Len() != o.Len() {
		return false
	}
	if !t.bytes.Equal(o.bytes) {
		return false
	}
	s1, ok1 := t.cached()
	s2, ok2 := o.cached()
	if ok1 && ok2 {
		return s1 == s2
	}
	a, err := t.Bytes()
	if err != nil {
		return false
	}
	defer util.Zero(a)
	b, err := o.Bytes()
	if err != nil {
		return false
	}
	defer util.Zero(b)
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Clone copies the text, keeping its protection flag.
func (t *Text) Clone() (*Text, error) {
	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	defer util.Zero(b)
	return NewTextFromBytes(b, t.sensitive)
}

// WithProtection returns a copy with the given protection flag.
func (t *Text) WithProtection(protected bool) (*Text, error) {
	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	defer util.Zero(b)
	return NewTextFromBytes(b, protected)
}

func (t *Text) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	t.revealed = nil
	t.mu.Unlock()
	return t.bytes.Close()
}
