// Package protect holds secret values encrypted in process memory. A value
// is decrypted only into caller-owned buffers and is wiped on Close.
package protect

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Zaphoood/kdbx/src/keepass/util"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
)

var (
	ErrDisposed    = errors.New("protected value has been disposed")
	ErrShortBuffer = errors.New("destination buffer too small")
)

// Bytes is an immutable byte string. When protected, the data is kept
// encrypted with the Action that was current at construction.
type Bytes struct {
	mu        sync.Mutex
	data      []byte
	nonce     []byte
	action    Action
	protected bool
	hash      [sha256.Size]byte
	length    int
	disposed  bool
}

// NewBytes copies plain. The caller keeps ownership of plain and should
// wipe it when done.
func NewBytes(plain []byte, protected bool) (*Bytes, error) {
	var action Action
	if protected {
		a, err := DefaultAction()
		if err != nil {
			return nil, err
		}
		action = a
	}
	return NewBytesWith(plain, action)
}

// NewBytesWith protects plain with the given action. A nil action stores the
// value unprotected.
func NewBytesWith(plain []byte, action Action) (*Bytes, error) {
	b := &Bytes{
		data:      append([]byte{}, plain...),
		hash:      sha256.Sum256(plain),
		length:    len(plain),
		protected: action != nil,
		action:    action,
	}
	if b.protected {
		nonce, err := uuids.NewNonce(NonceSize)
		if err != nil {
			util.Zero(b.data)
			return nil, err
		}
		b.nonce = nonce
		if err := action.Encrypt(b.data, nonce); err != nil {
			util.Zero(b.data)
			uuids.ReleaseNonce(nonce)
			return nil, fmt.Errorf("protect: %w", err)
		}
	}
	runtime.SetFinalizer(b, (*Bytes).Close)
	return b, nil
}

// MustBytes is NewBytes for values built from constants, such as empty
// strings in freshly created documents.
func MustBytes(plain []byte, protected bool) *Bytes {
	b, err := NewBytes(plain, protected)
	if err != nil {
		panic(err)
	}
	return b
}

// Len reports the plaintext length. Like IsProtected and IsDisposed it
// never fails: a disposed value has length 0. Accessors that return data
// report ErrDisposed instead.
func (b *Bytes) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return 0
	}
	return b.length
}

func (b *Bytes) IsProtected() bool {
	return b.protected
}

func (b *Bytes) IsDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// Hash returns the SHA-256 of the plaintext.
func (b *Bytes) Hash() ([sha256.Size]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return [sha256.Size]byte{}, ErrDisposed
	}
	return b.hash, nil
}

// CopyTo decrypts the value into dst, which must hold at least Len bytes.
func (b *Bytes) CopyTo(dst []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return 0, ErrDisposed
	}
	if len(dst) < b.length {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, b.length, len(dst))
	}
	out := dst[:b.length]
	copy(out, b.data)
	if b.protected {
		if err := b.action.Decrypt(out, b.nonce); err != nil {
			util.Zero(out)
			return 0, fmt.Errorf("protect: %w", err)
		}
	}
	return b.length, nil
}

// ToArray returns a freshly allocated plaintext copy. The caller should
// wipe it after use.
func (b *Bytes) ToArray() ([]byte, error) {
	out := make([]byte, b.Len())
	n, err := b.CopyTo(out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Equal compares plaintext hashes in constant time. Disposed values are
// never equal.
func (b *Bytes) Equal(o *Bytes) bool {
	if b == nil || o == nil {
		return b == o
	}
	h1, err := b.Hash()
	if err != nil {
		return false
	}
	h2, err := o.Hash()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(h1[:], h2[:]) == 1
}

// Clone returns an independent copy with the same protection.
func (b *Bytes) Clone() (*Bytes, error) {
	plain, err := b.ToArray()
	if err != nil {
		return nil, err
	}
	defer util.Zero(plain)
	return NewBytesWith(plain, b.action)
}

// Close wipes the stored data and releases the nonce. It is safe to call
// more than once.
func (b *Bytes) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return nil
	}
	b.disposed = true
	util.Zero(b.data)
	util.Zero(b.hash[:])
	b.data = nil
	if b.nonce != nil {
		uuids.ReleaseNonce(b.nonce)
		b.nonce = nil
	}
	runtime.SetFinalizer(b, nil)
	return nil
}
