package crypto

import (
	"crypto/aes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"

	"github.com/Zaphoood/kdbx/src/keepass/util"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

var (
	AesKdfID      = uuids.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
	Argon2dKdfID  = uuids.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c")
	Argon2idKdfID = uuids.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6")
)

const (
	KdfParamUUID   = "$UUID"
	KdfParamRounds = "R"
	KdfParamSeed   = "S"

	DefaultTransformRounds uint64 = 60000
)

var (
	ErrUnsupportedKDF = errors.New("unsupported key derivation function")
	ErrKdfParameters  = errors.New("invalid key derivation parameters")
)

// AesDeriveBytes stretches a 32 byte secret by encrypting each half with
// AES-256 under the seed for a fixed number of rounds. Every output block is
// the hash of the transformed state; consecutive blocks keep transforming
// the same state.
type AesDeriveBytes struct {
	cfr     interface{ Encrypt(dst, src []byte) }
	state   [32]byte
	iv      [aes.BlockSize]byte
	rounds  uint64
	newHash func() hash.Hash
	pending []byte
}

// NewAesDeriveBytes pads or truncates password to 32 bytes. A nil iv
// behaves like an all-zero IV, which is plain KeePass key transformation.
// A nil newHash selects SHA-256.
func NewAesDeriveBytes(password, seed, iv []byte, rounds uint64, newHash func() hash.Hash) (*AesDeriveBytes, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: seed must be 32 bytes, got %d", ErrKdfParameters, len(seed))
	}
	if iv != nil && len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes", ErrKdfParameters, aes.BlockSize)
	}
	cfr, err := aes.NewCipher(seed)
	if err != nil {
		return nil, err
	}
	if newHash == nil {
		newHash = sha256.New
	}
	a := &AesDeriveBytes{cfr: cfr, rounds: rounds, newHash: newHash}
	copy(a.state[:], password)
	copy(a.iv[:], iv)
	return a, nil
}

func (a *AesDeriveBytes) transform() {
	for i := uint64(0); i < a.rounds; i++ {
		for j := 0; j < len(a.state); j += aes.BlockSize {
			half := a.state[j : j+aes.BlockSize]
			for k := range half {
				half[k] ^= a.iv[k]
			}
			a.cfr.Encrypt(half, half)
		}
	}
}

// GetBytes returns the next n derived bytes.
func (a *AesDeriveBytes) GetBytes(n int) []byte {
	for len(a.pending) < n {
		a.transform()
		h := a.newHash()
		h.Write(a.state[:])
		a.pending = h.Sum(a.pending)
	}
	out := make([]byte, n)
	copy(out, a.pending)
	util.Zero(a.pending[:n])
	a.pending = a.pending[n:]
	return out
}

func (a *AesDeriveBytes) Read(p []byte) (int, error) {
	copy(p, a.GetBytes(len(p)))
	return len(p), nil
}

func (a *AesDeriveBytes) Close() {
	util.Zero(a.state[:])
	util.Zero(a.pending)
	a.pending = nil
}

// AESRounds applies the raw key transformation without hashing.
func AESRounds(in, seed []byte, rounds uint64) ([]byte, error) {
	if len(in)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("Input length must be multiple of block size %d", aes.BlockSize)
	}
	cfr, err := aes.NewCipher(seed)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	copy(out, in)
	for i := uint64(0); i < rounds; i++ {
		for j := 0; j < len(out); j += aes.BlockSize {
			cfr.Encrypt(out[j:j+aes.BlockSize], out[j:j+aes.BlockSize])
		}
	}
	return out, nil
}

// KdfParameters is the variant dictionary stored in the KdfParameters
// header field.
type KdfParameters struct {
	*variant.Dictionary
}

// NewAesKdfParameters describes an AES-KDF run with the given seed and
// number of rounds.
func NewAesKdfParameters(seed []byte, rounds uint64) *KdfParameters {
	d := variant.New()
	d.Set(KdfParamUUID, AesKdfID.Bytes())
	d.Set(KdfParamRounds, rounds)
	d.Set(KdfParamSeed, seed)
	return &KdfParameters{d}
}

func ParseKdfParameters(b []byte) (*KdfParameters, error) {
	d := variant.New()
	if err := d.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("kdf parameters: %w", err)
	}
	return &KdfParameters{d}, nil
}

func (p *KdfParameters) UUID() (uuids.UUID, error) {
	b, ok := p.GetBytes(KdfParamUUID)
	if !ok {
		return uuids.Nil, fmt.Errorf("%w: missing %s", ErrKdfParameters, KdfParamUUID)
	}
	return uuids.FromBytes(b)
}

func (p *KdfParameters) Rounds() (uint64, error) {
	r, ok := p.GetUint64(KdfParamRounds)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrKdfParameters, KdfParamRounds)
	}
	return r, nil
}

func (p *KdfParameters) Seed() ([]byte, error) {
	s, ok := p.GetBytes(KdfParamSeed)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrKdfParameters, KdfParamSeed)
	}
	return s, nil
}

// SetSeed replaces the transform seed, used when re-randomizing on save.
func (p *KdfParameters) SetSeed(seed []byte) {
	p.Set(KdfParamSeed, seed)
}

// TransformKey runs the KDF described by params over the composite key.
func TransformKey(compositeKey []byte, params *KdfParameters) ([]byte, error) {
	id, err := params.UUID()
	if err != nil {
		return nil, err
	}
	switch id {
	case AesKdfID:
	case Argon2dKdfID, Argon2idKdfID:
		return nil, fmt.Errorf("%w: Argon2", ErrUnsupportedKDF)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKDF, id)
	}
	seed, err := params.Seed()
	if err != nil {
		return nil, err
	}
	rounds, err := params.Rounds()
	if err != nil {
		return nil, err
	}
	derive, err := NewAesDeriveBytes(compositeKey, seed, nil, rounds, sha256.New)
	if err != nil {
		return nil, err
	}
	defer derive.Close()
	return derive.GetBytes(32), nil
}

// MasterKey derives the payload cipher key: SHA-256(masterSeed || KDF(key)).
func MasterKey(compositeKey, masterSeed []byte, params *KdfParameters) ([]byte, error) {
	transformed, err := TransformKey(compositeKey, params)
	if err != nil {
		return nil, err
	}
	defer util.Zero(transformed)

	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformed)
	return h.Sum(nil), nil
}
