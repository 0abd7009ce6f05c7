package protect

import (
	"crypto/rand"
	"sync"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
)

// NonceSize is the nonce length handed to Action implementations.
const NonceSize = 12

// Action encrypts and decrypts protected values in place while they sit in
// process memory. The same nonce is passed to both calls.
type Action interface {
	Encrypt(data, nonce []byte) error
	Decrypt(data, nonce []byte) error
}

// chachaAction keys a fresh ChaCha20 cipher per call from a random process
// key.
type chachaAction struct {
	key []byte
}

func newChaChaAction() (*chachaAction, error) {
	key := make([]byte, crypto.EngineKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &chachaAction{key: key}, nil
}

func (a *chachaAction) apply(data, nonce []byte) error {
	e, err := crypto.NewKeystream(true, a.key, nonce)
	if err != nil {
		return err
	}
	defer e.Close()
	e.XORKeyStream(data, data)
	return nil
}

func (a *chachaAction) Encrypt(data, nonce []byte) error { return a.apply(data, nonce) }
func (a *chachaAction) Decrypt(data, nonce []byte) error { return a.apply(data, nonce) }

var current struct {
	sync.Mutex
	action Action
}

// DefaultAction returns the process-wide action, creating the ChaCha20
// action on first use.
func DefaultAction() (Action, error) {
	current.Lock()
	defer current.Unlock()
	if current.action == nil {
		a, err := newChaChaAction()
		if err != nil {
			return nil, err
		}
		current.action = a
	}
	return current.action, nil
}

// SetDefaultAction replaces the action used for values created afterwards.
// Existing values keep the action they were created with.
func SetDefaultAction(a Action) {
	current.Lock()
	defer current.Unlock()
	current.action = a
}

// ResetDefaultAction drops the cached action so the next value gets a fresh
// random process key.
func ResetDefaultAction() {
	current.Lock()
	defer current.Unlock()
	current.action = nil
}
