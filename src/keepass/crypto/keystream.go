package crypto

import (
	"crypto/cipher"
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

// salsaStream is 20 round Salsa20 with an 8 byte nonce. Unlike
// salsa20.XORKeyStream it keeps its position between calls.
type salsaStream struct {
	key     [32]byte
	counter [16]byte
	block   [EngineBlockSize]byte
	offset  int
}

func newSalsaStream(key, nonce []byte) (*salsaStream, error) {
	if len(key) != EngineKeySize {
		return nil, ErrEngineKeySize
	}
	if len(nonce) != 8 {
		return nil, ErrEngineNonceSize
	}
	s := &salsaStream{offset: EngineBlockSize}
	copy(s.key[:], key)
	copy(s.counter[:8], nonce)
	return s, nil
}

func (s *salsaStream) refill() {
	var zero [EngineBlockSize]byte
	salsa.XORKeyStream(s.block[:], zero[:], &s.counter, &s.key)
	n := binary.LittleEndian.Uint64(s.counter[8:])
	binary.LittleEndian.PutUint64(s.counter[8:], n+1)
	s.offset = 0
}

func (s *salsaStream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("salsa20: output smaller than input")
	}
	for i := range src {
		if s.offset == EngineBlockSize {
			s.refill()
		}
		dst[i] = src[i] ^ s.block[s.offset]
		s.offset++
	}
}

func (s *salsaStream) Close() {
	util.Zero(s.key[:])
	util.Zero(s.block[:])
	s.offset = EngineBlockSize
}

// chachaStream is IETF ChaCha20 from x/crypto. The library keeps no
// exported state to wipe, so Close only drops the reference.
type chachaStream struct {
	c *chacha20.Cipher
}

func newChaChaStream(key, nonce []byte) (*chachaStream, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	return &chachaStream{c: c}, nil
}

func (s *chachaStream) XORKeyStream(dst, src []byte) {
	s.c.XORKeyStream(dst, src)
}

func (s *chachaStream) Close() {
	s.c = nil
}

// Keystream is a 20 round stream cipher that can be wiped.
type Keystream interface {
	cipher.Stream
	Close()
}

// NewKeystream returns the 20 round Salsa20 (8 byte nonce) or ChaCha20
// (12 byte nonce) cipher backed by x/crypto. Reduced rounds and raw
// output are only available from Engine.
func NewKeystream(chacha bool, key, nonce []byte) (Keystream, error) {
	if chacha {
		return newChaChaStream(key, nonce)
	}
	return newSalsaStream(key, nonce)
}
