package uuids

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"

	"github.com/Zaphoood/kdbx/src/util/set"
)

// maxAttempts bounds the retries of Generate when the source keeps repeating.
const maxAttempts = 64

var ErrExhausted = errors.New("uuids: could not generate a unique value")

// Registry remembers every value it generated so that none is handed out twice.
// All methods are safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	seen set.Set[string]
}

func NewRegistry() *Registry {
	return &Registry{seen: set.New[string]()}
}

// Generate fills a new buffer of the given size using fill until the content
// is unique within the registry, records it, and returns it.
func (r *Registry) Generate(size int, fill func([]byte) error) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, size)
	for i := 0; i < maxAttempts; i++ {
		if err := fill(buf); err != nil {
			return nil, err
		}
		if r.seen.Insert(string(buf)) {
			return buf, nil
		}
	}
	return nil, ErrExhausted
}

func (r *Registry) Remove(b []byte) {
	r.mu.Lock()
	r.seen.Delete(string(b))
	r.mu.Unlock()
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.seen.Clear()
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.Len()
}

var (
	identifiers = NewRegistry()
	nonces      = NewRegistry()
)

// NewNonce returns size random bytes never returned before by NewNonce in
// this process (until released).
func NewNonce(size int) ([]byte, error) {
	return nonces.Generate(size, func(buf []byte) error {
		_, err := io.ReadFull(rand.Reader, buf)
		return err
	})
}

func ReleaseNonce(b []byte) {
	nonces.Remove(b)
}

// Reset clears both the identifier and the nonce tracker.
// Tests call it between cases; production code has no reason to.
func Reset() {
	identifiers.Clear()
	nonces.Clear()
}

// Tracked returns the number of identifiers and nonces currently tracked.
func Tracked() (ids int, nonceCount int) {
	return identifiers.Len(), nonces.Len()
}
