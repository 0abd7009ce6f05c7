package database

import (
	"errors"
	"fmt"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

// The error type tells which phase of Open failed: FileError for anything
// that is not a readable KeePass header, KeyError for key derivation,
// DecryptError for a wrong key, IntegrityError for a corrupted or tampered
// body and ParseError for the XML document.

type FileError struct {
	err error
}

func (e FileError) Error() string {
	return e.err.Error()
}

func (e FileError) Unwrap() error {
	return e.err
}

type ParseError struct {
	err error
}

func (e ParseError) Error() string {
	return e.err.Error()
}

func (e ParseError) Unwrap() error {
	return e.err
}

type DecryptError struct {
	err error
}

func (e DecryptError) Error() string {
	return e.err.Error()
}

func (e DecryptError) Unwrap() error {
	return e.err
}

type IntegrityError struct {
	err error
}

func (e IntegrityError) Error() string {
	return "file is corrupted or has been tampered with: " + e.err.Error()
}

func (e IntegrityError) Unwrap() error {
	return e.err
}

type KeyError struct {
	err error
}

func (e KeyError) Error() string {
	return e.err.Error()
}

func (e KeyError) Unwrap() error {
	return e.err
}

type BlockSizeError struct {
	expectedBlockSize int
}

func (e BlockSizeError) Error() string {
	return fmt.Sprintf("Invalid cipher text: length must be multiple of block size %d", e.expectedBlockSize)
}

func (e BlockSizeError) Unwrap() error {
	return crypto.ErrCiphertextLength
}

var (
	ErrInvalidSignature   = errors.New("invalid file signature")
	ErrUnsupportedVersion = errors.New("unsupported file version")
	ErrTruncatedHeader    = errors.New("unexpected end of stream before end of header")
	ErrMissingField       = errors.New("missing header field")
	ErrInvalidField       = errors.New("invalid header field")
	ErrStartBytesMismatch = errors.New("Invalid File Format: wrong key or corrupted file")
	ErrHeaderHashMismatch = errors.New("header hash does not match, header may have been tampered with")
	ErrBlockIndex         = errors.New("block position mismatch")
	ErrEndOfStreamMarker  = errors.New("invalid end-of-stream marker")
	ErrBlockTampered      = errors.New("block hash mismatch")
	ErrBlockSize          = errors.New("block size out of range")
	ErrInnerHeader        = errors.New("invalid inner header")
	ErrClosed             = errors.New("database is closed")

	ErrUnsupportedDictionaryVersion = variant.ErrUnsupportedVersion
	ErrProviderNotFound             = crypto.ErrProviderNotFound
	ErrUnsupportedKDF               = crypto.ErrUnsupportedKDF
	ErrDisposed                     = protect.ErrDisposed
	ErrIndexOutOfRange              = model.ErrIndexOutOfRange
	ErrNotImplemented               = model.ErrNotImplemented
)

// bodyError classifies an error that surfaced while reading the decrypted
// payload. Errors of the block stream keep their type; bad padding means
// the last cipher block was modified.
func bodyError(err error, blockSize int) error {
	var integrity IntegrityError
	switch {
	case errors.As(err, &integrity):
		return integrity
	case errors.Is(err, crypto.ErrInvalidPadding):
		return IntegrityError{err}
	case errors.Is(err, crypto.ErrCiphertextLength):
		return FileError{BlockSizeError{blockSize}}
	}
	return ParseError{err}
}
