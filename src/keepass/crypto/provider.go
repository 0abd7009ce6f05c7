package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"

	"github.com/Zaphoood/kdbx/src/keepass/uuids"
)

var ErrProviderNotFound = errors.New("cipher provider not found")

var (
	AESCipherID      = uuids.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	TwofishCipherID  = uuids.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c")
	ChaCha20CipherID = uuids.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a")
)

// Provider encrypts and decrypts the outer payload of a database file.
type Provider interface {
	UUID() uuids.UUID
	Name() string
	KeySize() int
	IVSize() int
	NewEncrypter(w io.Writer, key, iv []byte) (io.WriteCloser, error)
	NewDecrypter(r io.Reader, key, iv []byte) (io.Reader, error)
}

var providers = struct {
	sync.RWMutex
	byID  map[uuids.UUID]Provider
	order []uuids.UUID
}{byID: make(map[uuids.UUID]Provider)}

func init() {
	RegisterProvider(&blockProvider{id: AESCipherID, name: "AES", newBlock: aes.NewCipher, blockSize: aes.BlockSize})
	RegisterProvider(&blockProvider{id: TwofishCipherID, name: "Twofish", newBlock: func(key []byte) (cipher.Block, error) {
		return twofish.NewCipher(key)
	}, blockSize: twofish.BlockSize})
	RegisterProvider(chachaProvider{})
}

// RegisterProvider adds p to the registry, replacing any provider with the
// same UUID.
func RegisterProvider(p Provider) {
	providers.Lock()
	defer providers.Unlock()
	if _, ok := providers.byID[p.UUID()]; !ok {
		providers.order = append(providers.order, p.UUID())
	}
	providers.byID[p.UUID()] = p
}

func FindProvider(id uuids.UUID) (Provider, error) {
	providers.RLock()
	defer providers.RUnlock()
	p, ok := providers.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

func FindProviderByName(name string) (Provider, error) {
	providers.RLock()
	defer providers.RUnlock()
	for _, id := range providers.order {
		if p := providers.byID[id]; p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
}

// Providers lists registered providers in registration order.
func Providers() []Provider {
	providers.RLock()
	defer providers.RUnlock()
	out := make([]Provider, 0, len(providers.order))
	for _, id := range providers.order {
		out = append(out, providers.byID[id])
	}
	return out
}

// blockProvider runs a 128 bit block cipher in CBC mode with PKCS#7 padding.
type blockProvider struct {
	id        uuids.UUID
	name      string
	newBlock  func(key []byte) (cipher.Block, error)
	blockSize int
}

func (p *blockProvider) UUID() uuids.UUID { return p.id }
func (p *blockProvider) Name() string     { return p.name }
func (p *blockProvider) KeySize() int     { return 32 }
func (p *blockProvider) IVSize() int      { return p.blockSize }

func (p *blockProvider) block(key, iv []byte) (cipher.Block, error) {
	if len(key) != p.KeySize() {
		return nil, fmt.Errorf("%s: invalid key size %d", p.name, len(key))
	}
	if len(iv) != p.blockSize {
		return nil, fmt.Errorf("%s: invalid IV size %d", p.name, len(iv))
	}
	return p.newBlock(key)
}

func (p *blockProvider) NewEncrypter(w io.Writer, key, iv []byte) (io.WriteCloser, error) {
	b, err := p.block(key, iv)
	if err != nil {
		return nil, err
	}
	return NewCBCWriter(w, cipher.NewCBCEncrypter(b, iv)), nil
}

func (p *blockProvider) NewDecrypter(r io.Reader, key, iv []byte) (io.Reader, error) {
	b, err := p.block(key, iv)
	if err != nil {
		return nil, err
	}
	return NewCBCReader(r, cipher.NewCBCDecrypter(b, iv)), nil
}

type chachaProvider struct{}

func (chachaProvider) UUID() uuids.UUID { return ChaCha20CipherID }
func (chachaProvider) Name() string     { return "ChaCha20" }
func (chachaProvider) KeySize() int     { return chacha20.KeySize }
func (chachaProvider) IVSize() int      { return chacha20.NonceSize }

// writerOnly hides the Close method of the wrapped writer from
// cipher.StreamWriter.
type writerOnly struct {
	io.Writer
}

func (p chachaProvider) NewEncrypter(w io.Writer, key, iv []byte) (io.WriteCloser, error) {
	s, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, err
	}
	return cipher.StreamWriter{S: s, W: writerOnly{w}}, nil
}

func (p chachaProvider) NewDecrypter(r io.Reader, key, iv []byte) (io.Reader, error) {
	s, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, err
	}
	return cipher.StreamReader{S: s, R: r}, nil
}
