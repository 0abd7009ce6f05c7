package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

// Stream masks and unmasks protected values in document order.
type Stream interface {
	Decrypt(in []byte) (out []byte, err error)
	Encrypt(in []byte) (out []byte, err error)
}

// RandomStreamID is the InnerRandomStreamID header value.
type RandomStreamID uint32

const (
	RandomStreamNone     RandomStreamID = 0
	RandomStreamArcFour  RandomStreamID = 1
	RandomStreamSalsa20  RandomStreamID = 2
	RandomStreamChaCha20 RandomStreamID = 3
)

func (id RandomStreamID) String() string {
	switch id {
	case RandomStreamNone:
		return "None"
	case RandomStreamArcFour:
		return "ArcFourVariant"
	case RandomStreamSalsa20:
		return "Salsa20"
	case RandomStreamChaCha20:
		return "ChaCha20"
	}
	return fmt.Sprintf("RandomStream(%d)", uint32(id))
}

var ErrUnknownRandomStream = errors.New("unknown inner random stream")

var SALSA20_NONCE = []byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

// RandomStream is the inner random byte generator shared by every
// protected value of one document. Values must be processed in the same
// order on read and write.
type RandomStream struct {
	id     RandomStreamID
	engine Keystream
}

// NewRandomStream derives the generator for id from the protected stream
// key. Salsa20 hashes the key with SHA-256 and uses the fixed KeePass nonce;
// ChaCha20 splits SHA-512(key) into key and 12 byte nonce.
func NewRandomStream(id RandomStreamID, key []byte) (*RandomStream, error) {
	switch id {
	case RandomStreamNone:
		return &RandomStream{id: id}, nil
	case RandomStreamSalsa20:
		k := sha256.Sum256(key)
		defer util.Zero(k[:])
		return NewSalsa20Stream(k)
	case RandomStreamChaCha20:
		h := sha512.Sum512(key)
		defer util.Zero(h[:])
		engine, err := NewKeystream(true, h[:32], h[32:44])
		if err != nil {
			return nil, err
		}
		return &RandomStream{id: id, engine: engine}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownRandomStream, id)
}

// NewSalsa20Stream creates a Salsa20 stream from an already hashed key.
func NewSalsa20Stream(key [32]byte) (*RandomStream, error) {
	engine, err := NewKeystream(false, key[:], SALSA20_NONCE)
	if err != nil {
		return nil, err
	}
	return &RandomStream{id: RandomStreamSalsa20, engine: engine}, nil
}

func (s *RandomStream) ID() RandomStreamID {
	return s.id
}

// NextBytes returns n raw keystream bytes. The None stream yields zeros.
func (s *RandomStream) NextBytes(n int) []byte {
	out := make([]byte, n)
	s.Mask(out)
	return out
}

// Mask XORs b in place with the next len(b) keystream bytes.
func (s *RandomStream) Mask(b []byte) {
	if s.engine != nil {
		s.engine.XORKeyStream(b, b)
	}
}

func (s *RandomStream) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	s.Mask(out)
	return out, nil
}

// Encrypt encrypts a given bytearray. The operation is the same as decrypting
func (s *RandomStream) Encrypt(plaintext []byte) ([]byte, error) {
	return s.Decrypt(plaintext)
}

func (s *RandomStream) Close() {
	if s.engine != nil {
		s.engine.Close()
	}
}
