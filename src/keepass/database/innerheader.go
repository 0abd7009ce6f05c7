package database

import (
	"bytes"
	"fmt"
	"io"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/Zaphoood/kdbx/src/keepass/util"
)

type innerHeaderCode uint8

const (
	innerEnd innerHeaderCode = iota
	innerRandomStreamID
	innerRandomStreamKey
	innerBinary
)

const (
	binaryFlagProtected = 0x01

	// Upper bound for a single record, matching the block size cap.
	maxInnerRecordSize = 1 << 30
)

// innerHeaderError matches ErrInnerHeader and keeps the cause reachable,
// so that a tampered block below the inner header still reads as an
// IntegrityError.
type innerHeaderError struct {
	err error
}

func (e innerHeaderError) Error() string {
	return ErrInnerHeader.Error() + ": " + e.err.Error()
}

func (e innerHeaderError) Unwrap() error {
	return e.err
}

func (e innerHeaderError) Is(target error) bool {
	return target == ErrInnerHeader
}

// readInnerHeader reads the records that precede the XML document in a
// format 4 payload. The stream settings are stored into h, the attachments
// are returned in order of appearance.
func readInnerHeader(r io.Reader, h *HeaderInfo) (*model.BinaryMap, error) {
	binaries := model.NewBinaryMap()
	fail := func(err error) (*model.BinaryMap, error) {
		binaries.Close()
		return nil, innerHeaderError{err}
	}
	for {
		id, err := util.ReadUint8(r)
		if err != nil {
			return fail(err)
		}
		size, err := util.ReadUint32(r)
		if err != nil {
			return fail(err)
		}
		if size > maxInnerRecordSize {
			return fail(fmt.Errorf("record %d has size %d", id, size))
		}
		data := make([]byte, size)
		if err := util.ReadAssert(r, data); err != nil {
			return fail(err)
		}

		switch innerHeaderCode(id) {
		case innerEnd:
			return binaries, nil
		case innerRandomStreamID:
			if size != util.DWORD {
				return fail(fmt.Errorf("stream id has size %d", size))
			}
			v, _ := util.ReadUint32(bytes.NewReader(data))
			h.InnerRandomStreamID = crypto.RandomStreamID(v)
		case innerRandomStreamKey:
			h.ProtectedStreamKey = data
		case innerBinary:
			if size == 0 {
				return fail(fmt.Errorf("binary record without flags"))
			}
			b, err := protect.NewBytes(data[1:], data[0]&binaryFlagProtected != 0)
			util.Zero(data)
			if err != nil {
				return fail(err)
			}
			binaries.Set(binaries.Len(), b)
		default:
			log.Warnf("Skipping unknown inner header record %d", id)
		}
	}
}

// writeInnerHeader writes the stream settings of h and every binary of
// the pool, in index order.
func writeInnerHeader(w io.Writer, h *HeaderInfo, binaries *model.BinaryMap) error {
	if err := writeInnerRecord(w, innerRandomStreamID, util.Uint32Bytes(uint32(h.InnerRandomStreamID))); err != nil {
		return err
	}
	if err := writeInnerRecord(w, innerRandomStreamKey, h.ProtectedStreamKey); err != nil {
		return err
	}
	for _, i := range binaries.Indexes() {
		b, _ := binaries.Get(i)
		data, err := b.ToArray()
		if err != nil {
			return err
		}
		var flags byte
		if b.IsProtected() {
			flags |= binaryFlagProtected
		}
		record := append([]byte{flags}, data...)
		util.Zero(data)
		err = writeInnerRecord(w, innerBinary, record)
		util.Zero(record)
		if err != nil {
			return err
		}
	}
	return writeInnerRecord(w, innerEnd, nil)
}

func writeInnerRecord(w io.Writer, id innerHeaderCode, data []byte) error {
	if err := util.WriteUint8(w, uint8(id)); err != nil {
		return err
	}
	if err := util.WriteUint32(w, uint32(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return util.WriteAssert(w, data)
}
