package key

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

const UserAccountName = "UserAccount"

// userAccountEntropy is the fixed entropy bound to the stored user key.
var userAccountEntropy = []byte{0xDE, 0x13, 0x5B, 0x5F, 0x18, 0xA3, 0x46, 0x70, 0xB2, 0x57, 0x24, 0x29, 0x69, 0x88, 0x98, 0xE6}

const userKeySize = 64

var ErrUnprotect = errors.New("user key could not be unprotected")

// DataProtector seals data to the current user or machine.
type DataProtector interface {
	Protect(data, entropy []byte) ([]byte, error)
	Unprotect(data, entropy []byte) ([]byte, error)
}

// DefaultUserKeyPath is where the protected user key is stored.
func DefaultUserKeyPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kdbx", "ProtectedUserKey.bin"), nil
}

// NewUserAccount loads the user key from path, creating and storing a new
// random key if the file does not exist yet.
func NewUserAccount(path string, protector DataProtector) (Fragment, error) {
	secret, err := loadUserKey(path, protector)
	if errors.Is(err, os.ErrNotExist) {
		secret, err = createUserKey(path, protector)
	}
	if err != nil {
		return nil, err
	}
	defer util.Zero(secret)
	sum := sha256.Sum256(secret)
	defer util.Zero(sum[:])
	return newFragment(UserAccountName, sum[:])
}

func loadUserKey(path string, protector DataProtector) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret, err := protector.Unprotect(sealed, userAccountEntropy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotect, err)
	}
	return secret, nil
}

func createUserKey(path string, protector DataProtector) ([]byte, error) {
	secret := make([]byte, userKeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	sealed, err := protector.Protect(secret, userAccountEntropy)
	if err != nil {
		util.Zero(secret)
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		util.Zero(secret)
		return nil, err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		util.Zero(secret)
		return nil, err
	}
	return secret, nil
}

// SealedDataProtector protects data with XChaCha20-Poly1305 under a
// caller-supplied 32 byte key, using the entropy as associated data.
type SealedDataProtector struct {
	key []byte
}

func NewSealedDataProtector(key []byte) (*SealedDataProtector, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealed data protector: key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &SealedDataProtector{key: append([]byte{}, key...)}, nil
}

func (p *SealedDataProtector) Protect(data, entropy []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, data, entropy), nil
}

func (p *SealedDataProtector) Unprotect(data, entropy []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("sealed data too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, entropy)
}

func (p *SealedDataProtector) Close() {
	util.Zero(p.key)
}
