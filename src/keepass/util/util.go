package util

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

// ErrTruncated is returned by ReadAssert when the reader ends early.
var ErrTruncated = errors.New("unexpected end of stream")

// ReadCompare reads len(b) bytes from r and compares them with b
func ReadCompare(r io.Reader, b []byte) (bool, error) {
	buf := make([]byte, len(b))
	if err := ReadAssert(r, buf); err != nil {
		return false, err
	}
	return bytes.Equal(buf, b), nil
}

// WriteAssert writes to w and errors if writing failed or if it wasn't possible to write all bytes
func WriteAssert(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return fmt.Errorf("Error while writing: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("Writing failed: tried to write %d bytes but wrote only %d", len(b), n)
	}
	return nil
}

// ReadAssert reads exactly len(b) bytes and errors if reading failed or if fewer bytes were available
func ReadAssert(r io.Reader, b []byte) error {
	n, err := io.ReadFull(r, b)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: tried to read %d bytes but got only %d", ErrTruncated, len(b), n)
	}
	return err
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}

// ZeroAll zeros every given slice.
func ZeroAll(bs ...[]byte) {
	for _, b := range bs {
		Zero(b)
	}
}

func GUnzip(in []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func GZip(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if err := WriteAssert(writer, in); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
