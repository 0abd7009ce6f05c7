package database

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"testing"

	"github.com/Zaphoood/kdbx/src/keepass/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, chunks ...[]byte) []byte {
	var buf bytes.Buffer
	w := NewBlockWriter(&buf)
	for _, c := range chunks {
		n, err := w.Write(c)
		require.Nil(t, err)
		require.Equal(t, len(c), n)
	}
	require.Nil(t, w.Close())
	return buf.Bytes()
}

func TestBlockStreamRoundTrip(t *testing.T) {
	assert := assert.New(t)

	framed := frame(t, []byte("hello "), []byte("block "), []byte("stream"))
	// Three blocks plus the terminator, 40 bytes of framing each
	assert.Equal(18+4*40, len(framed))

	out, err := io.ReadAll(NewBlockReader(bytes.NewReader(framed)))
	require.Nil(t, err)
	assert.Equal("hello block stream", string(out))
}

func TestBlockStreamSmallReads(t *testing.T) {
	framed := frame(t, []byte("abcdefgh"), []byte("ijkl"))
	r := NewBlockReader(bytes.NewReader(framed))

	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.Nil(t, err)
	}
	assert.Equal(t, "abcdefghijkl", string(out))
}

func TestBlockStreamEmpty(t *testing.T) {
	framed := frame(t)
	assert.Len(t, framed, 40)
	assert.Equal(t, make([]byte, 40), framed)

	out, err := io.ReadAll(NewBlockReader(bytes.NewReader(framed)))
	require.Nil(t, err)
	assert.Empty(t, out)
}

func TestBlockWriterSkipsEmptyWrites(t *testing.T) {
	assert.Equal(t, frame(t, []byte("x")), frame(t, nil, []byte("x"), []byte{}))
}

func TestBlockWriterClosed(t *testing.T) {
	w := NewBlockWriter(&bytes.Buffer{})
	require.Nil(t, w.Close())
	require.Nil(t, w.Close())
	_, err := w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBlockStreamErrors(t *testing.T) {
	framed := frame(t, []byte("first"), []byte("second"))

	tamperedPayload := append([]byte(nil), framed...)
	tamperedPayload[40] ^= 0x01

	swappedIndex := append([]byte(nil), framed...)
	copy(swappedIndex[0:4], util.Uint32Bytes(1))

	badTerminator := append([]byte(nil), framed...)
	badTerminator[len(badTerminator)-10] = 0x01

	var oversized bytes.Buffer
	oversized.Write(util.Uint32Bytes(0))
	oversized.Write(make([]byte, sha256.Size))
	oversized.Write(util.Uint32Bytes(maxBlockSize + 1))

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"payload", tamperedPayload, ErrBlockTampered},
		{"index", swappedIndex, ErrBlockIndex},
		{"terminator", badTerminator, ErrEndOfStreamMarker},
		{"oversized", oversized.Bytes(), ErrBlockSize},
		{"truncated", framed[:len(framed)-40], util.ErrTruncated},
		{"truncated payload", framed[:43], util.ErrTruncated},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := io.ReadAll(NewBlockReader(bytes.NewReader(c.data)))
			assert.IsType(t, IntegrityError{}, err)
			assert.True(t, errors.Is(err, c.want), "want %v, got %v", c.want, err)
		})
	}
}
