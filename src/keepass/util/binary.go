package util

import (
	"encoding/binary"
	"io"
)

const (
	WORD  = 2
	DWORD = 4
	QWORD = 8
)

// Little-endian encoding of fixed-width integers. All KeePass on-disk
// integers use this byte order.

func Uint16Bytes(v uint16) []byte {
	b := make([]byte, WORD)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func Uint32Bytes(v uint32) []byte {
	b := make([]byte, DWORD)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func Uint64Bytes(v uint64) []byte {
	b := make([]byte, QWORD)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func Int32Bytes(v int32) []byte {
	return Uint32Bytes(uint32(v))
}

func Int64Bytes(v int64) []byte {
	return Uint64Bytes(uint64(v))
}

func ReadUint8(r io.Reader) (uint8, error) {
	buf := make([]byte, 1)
	if err := ReadAssert(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadUint16(r io.Reader) (uint16, error) {
	buf := make([]byte, WORD)
	if err := ReadAssert(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func ReadUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, DWORD)
	if err := ReadAssert(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func ReadUint64(r io.Reader) (uint64, error) {
	buf := make([]byte, QWORD)
	if err := ReadAssert(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func WriteUint8(w io.Writer, v uint8) error {
	return WriteAssert(w, []byte{v})
}

func WriteUint16(w io.Writer, v uint16) error {
	return WriteAssert(w, Uint16Bytes(v))
}

func WriteUint32(w io.Writer, v uint32) error {
	return WriteAssert(w, Uint32Bytes(v))
}

func WriteUint64(w io.Writer, v uint64) error {
	return WriteAssert(w, Uint64Bytes(v))
}
