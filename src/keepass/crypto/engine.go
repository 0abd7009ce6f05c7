package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

const (
	EngineKeySize   = 32
	EngineBlockSize = 64
)

var (
	ErrEngineKeySize   = errors.New("stream engine: key must be 32 bytes")
	ErrEngineNonceSize = errors.New("stream engine: invalid nonce size")
	ErrEngineRounds    = errors.New("stream engine: rounds must be one of 8, 10, 12, 20")
)

// sigma is "expand 32-byte k" as little-endian words.
var sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}

type family int

const (
	familySalsa family = iota
	familyChaCha
)

// Engine is a Salsa20 or ChaCha20 keystream generator with a configurable
// number of rounds. In raw mode XORKeyStream writes the keystream itself
// instead of combining it with the input.
type Engine struct {
	family  family
	rounds  int
	state   [16]uint32
	block   [EngineBlockSize]byte
	offset  int
	raw     bool
	counter [2]int // state indices of the counter words, -1 if unused
}

func validRounds(rounds int) bool {
	switch rounds {
	case 8, 10, 12, 20:
		return true
	}
	return false
}

// NewSalsa20 creates a Salsa20 engine with an 8 byte nonce and a 64 bit
// block counter starting at zero.
func NewSalsa20(key, nonce []byte, rounds int, raw bool) (*Engine, error) {
	if len(key) != EngineKeySize {
		return nil, ErrEngineKeySize
	}
	if len(nonce) != 8 {
		return nil, fmt.Errorf("%w: %d", ErrEngineNonceSize, len(nonce))
	}
	if !validRounds(rounds) {
		return nil, ErrEngineRounds
	}
	e := &Engine{family: familySalsa, rounds: rounds, raw: raw, offset: EngineBlockSize, counter: [2]int{8, 9}}
	le := binary.LittleEndian
	e.state[0], e.state[5], e.state[10], e.state[15] = sigma[0], sigma[1], sigma[2], sigma[3]
	for i := 0; i < 4; i++ {
		e.state[1+i] = le.Uint32(key[4*i:])
		e.state[11+i] = le.Uint32(key[16+4*i:])
	}
	e.state[6] = le.Uint32(nonce[0:])
	e.state[7] = le.Uint32(nonce[4:])
	return e, nil
}

// NewChaCha20 creates a ChaCha engine. An 8 byte nonce selects the original
// layout with a 64 bit counter; a 12 byte nonce selects the IETF layout with
// a 32 bit counter.
func NewChaCha20(key, nonce []byte, rounds int, raw bool) (*Engine, error) {
	if len(key) != EngineKeySize {
		return nil, ErrEngineKeySize
	}
	if !validRounds(rounds) {
		return nil, ErrEngineRounds
	}
	e := &Engine{family: familyChaCha, rounds: rounds, raw: raw, offset: EngineBlockSize}
	le := binary.LittleEndian
	copy(e.state[:4], sigma[:])
	for i := 0; i < 8; i++ {
		e.state[4+i] = le.Uint32(key[4*i:])
	}
	switch len(nonce) {
	case 8:
		e.counter = [2]int{12, 13}
		e.state[14] = le.Uint32(nonce[0:])
		e.state[15] = le.Uint32(nonce[4:])
	case 12:
		e.counter = [2]int{12, -1}
		e.state[13] = le.Uint32(nonce[0:])
		e.state[14] = le.Uint32(nonce[4:])
		e.state[15] = le.Uint32(nonce[8:])
	default:
		return nil, fmt.Errorf("%w: %d", ErrEngineNonceSize, len(nonce))
	}
	return e, nil
}

func salsaQuarter(x *[16]uint32, a, b, c, d int) {
	x[b] ^= bits.RotateLeft32(x[a]+x[d], 7)
	x[c] ^= bits.RotateLeft32(x[b]+x[a], 9)
	x[d] ^= bits.RotateLeft32(x[c]+x[b], 13)
	x[a] ^= bits.RotateLeft32(x[d]+x[c], 18)
}

func chachaQuarter(x *[16]uint32, a, b, c, d int) {
	x[a] += x[b]
	x[d] = bits.RotateLeft32(x[d]^x[a], 16)
	x[c] += x[d]
	x[b] = bits.RotateLeft32(x[b]^x[c], 12)
	x[a] += x[b]
	x[d] = bits.RotateLeft32(x[d]^x[a], 8)
	x[c] += x[d]
	x[b] = bits.RotateLeft32(x[b]^x[c], 7)
}

func (e *Engine) nextBlock() {
	x := e.state
	for i := 0; i < e.rounds; i += 2 {
		if e.family == familySalsa {
			salsaQuarter(&x, 0, 4, 8, 12)
			salsaQuarter(&x, 5, 9, 13, 1)
			salsaQuarter(&x, 10, 14, 2, 6)
			salsaQuarter(&x, 15, 3, 7, 11)
			salsaQuarter(&x, 0, 1, 2, 3)
			salsaQuarter(&x, 5, 6, 7, 4)
			salsaQuarter(&x, 10, 11, 8, 9)
			salsaQuarter(&x, 15, 12, 13, 14)
		} else {
			chachaQuarter(&x, 0, 4, 8, 12)
			chachaQuarter(&x, 1, 5, 9, 13)
			chachaQuarter(&x, 2, 6, 10, 14)
			chachaQuarter(&x, 3, 7, 11, 15)
			chachaQuarter(&x, 0, 5, 10, 15)
			chachaQuarter(&x, 1, 6, 11, 12)
			chachaQuarter(&x, 2, 7, 8, 13)
			chachaQuarter(&x, 3, 4, 9, 14)
		}
	}
	for i := range x {
		binary.LittleEndian.PutUint32(e.block[4*i:], x[i]+e.state[i])
	}

	lo, hi := e.counter[0], e.counter[1]
	e.state[lo]++
	if e.state[lo] == 0 && hi >= 0 {
		e.state[hi]++
	}
	e.offset = 0
}

// XORKeyStream implements cipher.Stream. dst and src may overlap entirely.
func (e *Engine) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("stream engine: output smaller than input")
	}
	for i := range src {
		if e.offset == EngineBlockSize {
			e.nextBlock()
		}
		if e.raw {
			dst[i] = e.block[e.offset]
		} else {
			dst[i] = src[i] ^ e.block[e.offset]
		}
		e.offset++
	}
}

// Read fills p with keystream bytes.
func (e *Engine) Read(p []byte) (int, error) {
	for i := range p {
		if e.offset == EngineBlockSize {
			e.nextBlock()
		}
		p[i] = e.block[e.offset]
		e.offset++
	}
	return len(p), nil
}

// NextBytes returns the next n keystream bytes.
func (e *Engine) NextBytes(n int) []byte {
	out := make([]byte, n)
	e.Read(out)
	return out
}

// Close wipes the key material. The engine must not be used afterwards.
func (e *Engine) Close() {
	for i := range e.state {
		e.state[i] = 0
	}
	util.Zero(e.block[:])
	e.offset = EngineBlockSize
}
