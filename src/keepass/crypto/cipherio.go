package crypto

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/andreburgaud/crypt2go/padding"
)

var (
	ErrCiphertextLength = errors.New("ciphertext is not a whole number of blocks")
	ErrInvalidPadding   = errors.New("invalid block padding")
)

const chunkSize = 4096

type cbcReader struct {
	r     io.Reader
	mode  cipher.BlockMode
	pad   padding.Padding
	chunk []byte
	in    []byte
	out   []byte
	err   error
}

// NewCBCReader decrypts r block by block and strips the PKCS#7 padding of
// the final block. The last full block is held back until the underlying
// reader reports EOF.
func NewCBCReader(r io.Reader, mode cipher.BlockMode) io.Reader {
	return &cbcReader{
		r:     r,
		mode:  mode,
		pad:   padding.NewPkcs7Padding(mode.BlockSize()),
		chunk: make([]byte, chunkSize),
	}
}

func (c *cbcReader) Read(p []byte) (int, error) {
	for len(c.out) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.fill()
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *cbcReader) fill() {
	bs := c.mode.BlockSize()
	n, err := c.r.Read(c.chunk)
	c.in = append(c.in, c.chunk[:n]...)

	if err == io.EOF {
		if len(c.in) == 0 || len(c.in)%bs != 0 {
			c.err = fmt.Errorf("%w: %d bytes", ErrCiphertextLength, len(c.in))
			return
		}
		c.mode.CryptBlocks(c.in, c.in)
		plain, perr := c.pad.Unpad(c.in)
		if perr != nil {
			c.err = fmt.Errorf("%w: %v", ErrInvalidPadding, perr)
			return
		}
		c.out, c.in = plain, nil
		c.err = io.EOF
		return
	} else if err != nil {
		c.err = err
		return
	}

	full := len(c.in) - len(c.in)%bs
	if full == len(c.in) {
		full -= bs
	}
	if full <= 0 {
		return
	}
	plain := make([]byte, full)
	c.mode.CryptBlocks(plain, c.in[:full])
	c.in = append(c.in[:0], c.in[full:]...)
	c.out = plain
}

type cbcWriter struct {
	w       io.Writer
	mode    cipher.BlockMode
	pad     padding.Padding
	pending []byte
	closed  bool
}

// NewCBCWriter encrypts everything written to it. Close pads and flushes
// the final block but does not close w.
func NewCBCWriter(w io.Writer, mode cipher.BlockMode) io.WriteCloser {
	return &cbcWriter{
		w:    w,
		mode: mode,
		pad:  padding.NewPkcs7Padding(mode.BlockSize()),
	}
}

var errWriterClosed = errors.New("write on closed cipher writer")

func (c *cbcWriter) Write(p []byte) (int, error) {
	if c.closed {
		return 0, errWriterClosed
	}
	bs := c.mode.BlockSize()
	c.pending = append(c.pending, p...)
	full := len(c.pending) - len(c.pending)%bs
	if full == 0 {
		return len(p), nil
	}
	out := make([]byte, full)
	c.mode.CryptBlocks(out, c.pending[:full])
	c.pending = append(c.pending[:0], c.pending[full:]...)
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *cbcWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	last, err := c.pad.Pad(c.pending)
	if err != nil {
		return err
	}
	c.mode.CryptBlocks(last, last)
	_, err = c.w.Write(last)
	return err
}
