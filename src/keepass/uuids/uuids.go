// Package uuids provides the 16-byte identifiers used for every node of a
// KeePass document, and process-wide trackers that guarantee freshly generated
// identifiers and nonces never repeat within a process.
package uuids

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
)

// Size is the length of a UUID in bytes.
const Size = 16

// A UUID identifies a group, entry, icon, cipher or KDF.
// The zero UUID means "unset".
type UUID [Size]byte

// Nil is the zero UUID.
var Nil UUID

var errSize = errors.New("wrong size")

type parseError struct {
	s   string
	err error
}

func (e parseError) Error() string {
	return "uuid: failed to parse " + strconv.Quote(e.s) + ": " + e.err.Error()
}

func (e parseError) Unwrap() error {
	return e.err
}

// FromBytes copies b into a UUID. b must be exactly Size bytes long.
func FromBytes(b []byte) (UUID, error) {
	var u UUID
	if len(b) != Size {
		return Nil, fmt.Errorf("uuid: %w: got %d bytes", errSize, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// MustFromBytes is like FromBytes but panics on a malformed input.
// It is meant for package-level constants.
func MustFromBytes(b []byte) UUID {
	u, err := FromBytes(b)
	if err != nil {
		panic(err)
	}
	return u
}

// Parse accepts the forms understood by uuid.Parse: dashed, plain hex,
// braced or with a urn:uuid: prefix.
func Parse(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, parseError{s, err}
	}
	return UUID(u), nil
}

// MustParse is like Parse but panics on a malformed input.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseBase64 decodes the base64 form used inside KeePass XML documents.
// An empty string yields the zero UUID.
func ParseBase64(s string) (UUID, error) {
	if s == "" {
		return Nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Nil, parseError{s, err}
	}
	u, err := FromBytes(b)
	if err != nil {
		return Nil, parseError{s, errSize}
	}
	return u, nil
}

// IsZero reports whether this is the zero UUID.
func (u UUID) IsZero() bool {
	return u == Nil
}

// Bytes returns a copy of u as a slice.
func (u UUID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, u[:])
	return b
}

// Base64 returns the encoding used inside KeePass XML documents.
func (u UUID) Base64() string {
	return base64.StdEncoding.EncodeToString(u[:])
}

// String returns the dash-separated hex representation of u.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// New returns a random UUID that has not been handed out before in this
// process. It panics if the system's random source fails, like uuid.New.
func New() UUID {
	u, err := NewFrom(nil)
	if err != nil {
		panic(err)
	}
	return u
}

// NewFrom is like New but draws random bytes from r.
// If r is nil, crypto/rand.Reader is used.
func NewFrom(r io.Reader) (UUID, error) {
	if r == nil {
		r = rand.Reader
	}
	b, err := identifiers.Generate(Size, func(buf []byte) error {
		u, err := uuid.NewRandomFromReader(r)
		if err != nil {
			return err
		}
		copy(buf, u[:])
		return nil
	})
	if err != nil {
		return Nil, err
	}
	return MustFromBytes(b), nil
}

// Release forgets u so that the tracker does not grow without bound.
// A released UUID may, in theory, be generated again.
func Release(u UUID) {
	identifiers.Remove(u[:])
}
