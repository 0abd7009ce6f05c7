package key

import (
	"crypto/sha256"

	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/util"
)

const PasswordName = "Password"

// NewPassword hashes the UTF-8 password with SHA-256.
func NewPassword(password string) (Fragment, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	b := []byte(password)
	defer util.Zero(b)
	return NewPasswordBytes(b)
}

// NewPasswordText builds the fragment from a protected string without
// revealing it.
func NewPasswordText(t *protect.Text) (Fragment, error) {
	b, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	defer util.Zero(b)
	if len(b) == 0 {
		return nil, ErrEmptyPassword
	}
	return NewPasswordBytes(b)
}

func NewPasswordBytes(utf8 []byte) (Fragment, error) {
	if len(utf8) == 0 {
		return nil, ErrEmptyPassword
	}
	sum := sha256.Sum256(utf8)
	defer util.Zero(sum[:])
	return newFragment(PasswordName, sum[:])
}

const RawName = "Raw"

// NewRaw uses data as key material directly, without hashing.
func NewRaw(data []byte) (Fragment, error) {
	return newFragment(RawName, data)
}
