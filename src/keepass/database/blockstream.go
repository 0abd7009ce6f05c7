package database

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Zaphoood/kdbx/src/keepass/util"
	utilpkg "github.com/Zaphoood/kdbx/src/util"
)

// Blocks larger than this are rejected on read and split on write.
const maxBlockSize = 1 << 30

var zeroHash [sha256.Size]byte

// blockReader verifies and strips the hashed block framing. Every error
// it returns is an IntegrityError.
type blockReader struct {
	r     io.Reader
	index uint32
	buf   []byte
	off   int
	done  bool
	err   error
}

// NewBlockReader returns a reader of the payload framed in r.
func NewBlockReader(r io.Reader) io.Reader {
	return &blockReader{r: r}
}

func (b *blockReader) Read(p []byte) (int, error) {
	for b.off == len(b.buf) {
		if b.err != nil {
			return 0, b.err
		}
		if b.done {
			return 0, io.EOF
		}
		if err := b.next(); err != nil {
			b.err = err
			return 0, err
		}
	}
	n := copy(p, b.buf[b.off:])
	b.off += n
	return n, nil
}

func (b *blockReader) next() error {
	util.Zero(b.buf)
	b.buf, b.off = nil, 0

	index, err := util.ReadUint32(b.r)
	if err != nil {
		return b.truncated(err)
	}
	if index != b.index {
		return IntegrityError{fmt.Errorf("%w: expected block %d, got %d", ErrBlockIndex, b.index, index)}
	}
	b.index++

	storedHash := make([]byte, sha256.Size)
	if err := util.ReadAssert(b.r, storedHash); err != nil {
		return b.truncated(err)
	}
	size, err := util.ReadUint32(b.r)
	if err != nil {
		return b.truncated(err)
	}
	if size == 0 {
		if !bytes.Equal(storedHash, zeroHash[:]) {
			return IntegrityError{ErrEndOfStreamMarker}
		}
		b.done = true
		return nil
	}
	if size > maxBlockSize {
		return IntegrityError{fmt.Errorf("%w: %d", ErrBlockSize, size)}
	}

	content := make([]byte, size)
	if err := util.ReadAssert(b.r, content); err != nil {
		return b.truncated(err)
	}
	hash := sha256.Sum256(content)
	if !bytes.Equal(storedHash, hash[:]) {
		util.Zero(content)
		return IntegrityError{fmt.Errorf("%w in block %d", ErrBlockTampered, index)}
	}
	b.buf = content
	return nil
}

// truncated reports a stream that ends before the terminating block.
// Errors of the layer below are passed on unchanged.
func (b *blockReader) truncated(err error) error {
	if errors.Is(err, util.ErrTruncated) || errors.Is(err, io.EOF) {
		return IntegrityError{fmt.Errorf("stream ends before block %d: %w", b.index, err)}
	}
	return err
}

// blockWriter frames every Write as one block. Close writes the
// terminating block but leaves the underlying writer open.
type blockWriter struct {
	w      io.Writer
	index  uint32
	closed bool
}

// NewBlockWriter returns a writer that frames its input into w.
func NewBlockWriter(w io.Writer) io.WriteCloser {
	return &blockWriter{w: w}
}

func (b *blockWriter) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n := utilpkg.Min(len(p)-written, maxBlockSize)
		block := p[written : written+n]
		hash := sha256.Sum256(block)
		if err := b.writeBlock(hash[:], block); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (b *blockWriter) writeBlock(hash, block []byte) error {
	if b.index == math.MaxUint32 {
		return fmt.Errorf("%w: too many blocks", ErrBlockIndex)
	}
	if err := util.WriteUint32(b.w, b.index); err != nil {
		return err
	}
	if err := util.WriteAssert(b.w, hash); err != nil {
		return err
	}
	if err := util.WriteUint32(b.w, uint32(len(block))); err != nil {
		return err
	}
	if len(block) > 0 {
		if err := util.WriteAssert(b.w, block); err != nil {
			return err
		}
	}
	b.index++
	return nil
}

func (b *blockWriter) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.writeBlock(zeroHash[:], nil)
}
