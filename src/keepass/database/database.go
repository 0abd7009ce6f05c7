package database

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/key"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/parser"
	"github.com/Zaphoood/kdbx/src/keepass/util"
)

// Size of the buffer in front of the block writer, so that each block
// carries this much payload.
const writeBufferSize = 1 << 20

// Database is an opened or newly created KeePass file: its header, the
// key it is encrypted with and the document.
type Database struct {
	path   string
	header *HeaderInfo
	key    *key.CompositeKey
	doc    *model.Document
	closed bool
}

// New creates an empty database configured by opts. The database takes
// ownership of k.
func New(k *key.CompositeKey, opts Options) (*Database, error) {
	h, err := opts.header()
	if err != nil {
		return nil, err
	}
	doc := model.NewDocument(opts.DatabaseName)
	doc.Meta.Generator = opts.Generator
	doc.Meta.HistoryMaxItems = opts.HistoryMaxItems
	doc.Meta.HistoryMaxSize = opts.HistoryMaxSize
	doc.Meta.MemoryProtection = opts.memoryProtection()
	return &Database{header: h, key: k, doc: doc}, nil
}

// OpenFile opens the database at path.
func OpenFile(path string, k *key.CompositeKey) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FileError{err}
	}
	defer f.Close()

	d, err := Open(bufio.NewReader(f), k)
	if err != nil {
		return nil, err
	}
	d.path = path
	return d, nil
}

// Open reads a database from r. On success the database takes ownership
// of k. The type of the returned error tells which phase failed.
func Open(r io.Reader, k *key.CompositeKey) (*Database, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return openBody(r, h, k)
}

// openBody decrypts and parses everything after the header. The secrets
// of h are wiped when it fails.
func openBody(r io.Reader, h *HeaderInfo, k *key.CompositeKey) (_ *Database, err error) {
	defer func() {
		if err != nil {
			h.Close()
		}
	}()
	log.Debugf("Opening v%s database", h.Version)

	provider, err := crypto.FindProvider(h.CipherID)
	if err != nil {
		return nil, FileError{err}
	}
	if len(h.EncryptionIV) != provider.IVSize() {
		return nil, FileError{fmt.Errorf("%w %s: want %d bytes for %s", ErrInvalidField, EncryptionIV, provider.IVSize(), provider.Name())}
	}

	masterKey, err := deriveKey(k, h)
	if err != nil {
		return nil, err
	}
	plain, err := provider.NewDecrypter(r, masterKey, h.EncryptionIV)
	util.Zero(masterKey)
	if err != nil {
		return nil, DecryptError{err}
	}

	if err := checkStreamStartBytes(plain, h.StreamStartBytes, provider.IVSize()); err != nil {
		return nil, err
	}

	doc, err := readPayload(NewBlockReader(plain), h)
	if err != nil {
		return nil, bodyError(err, provider.IVSize())
	}

	// Read up to the end so that padding errors surface
	if _, err := io.Copy(io.Discard, plain); err != nil {
		doc.Close()
		return nil, bodyError(err, provider.IVSize())
	}

	if len(doc.Meta.HeaderHash) > 0 && subtle.ConstantTimeCompare(doc.Meta.HeaderHash, h.Hash[:]) != 1 {
		doc.Close()
		return nil, FileError{ErrHeaderHashMismatch}
	}

	log.Debugf("Opened database '%s'", doc.Meta.DatabaseName)
	return &Database{header: h, key: k, doc: doc}, nil
}

func deriveKey(k *key.CompositeKey, h *HeaderInfo) ([]byte, error) {
	composite, err := k.Assemble()
	if err != nil {
		return nil, KeyError{err}
	}
	defer util.Zero(composite)

	if rounds, err := h.Kdf.Rounds(); err == nil {
		log.Debugf("Deriving key with %d rounds", rounds)
	}
	masterKey, err := crypto.MasterKey(composite, h.MasterSeed, h.Kdf)
	if err != nil {
		return nil, KeyError{err}
	}
	return masterKey, nil
}

// checkStreamStartBytes compares the first bytes of the decrypted body to
// the header. A mismatch almost always means a wrong key.
func checkStreamStartBytes(plain io.Reader, startBytes []byte, blockSize int) error {
	got := make([]byte, len(startBytes))
	if err := util.ReadAssert(plain, got); err != nil {
		if bodyErr, ok := bodyError(err, blockSize).(FileError); ok {
			return bodyErr
		}
		return DecryptError{fmt.Errorf("%w: %v", ErrStartBytesMismatch, err)}
	}
	if subtle.ConstantTimeCompare(got, startBytes) != 1 {
		return DecryptError{ErrStartBytesMismatch}
	}
	return nil
}

// readPayload decodes everything inside the block stream: the optional
// gzip layer, the inner header of format 4 and the XML document.
func readPayload(blocks io.Reader, h *HeaderInfo) (*model.Document, error) {
	payload := blocks
	if h.Compression {
		zr, err := gzip.NewReader(blocks)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		payload = zr
	}

	var binaries *model.BinaryMap
	if h.Version.isV4() {
		var err error
		if binaries, err = readInnerHeader(payload, h); err != nil {
			return nil, err
		}
	}

	stream, err := crypto.NewRandomStream(h.InnerRandomStreamID, h.ProtectedStreamKey)
	if err != nil {
		if binaries != nil {
			binaries.Close()
		}
		return nil, err
	}
	defer stream.Close()

	doc, err := parser.Parse(payload, stream, binaries)
	if err != nil {
		return nil, err
	}
	// The XML decoder stops at the root element; the rest of the stream
	// still has to pass the integrity checks.
	if _, err := io.Copy(io.Discard, payload); err != nil {
		doc.Close()
		return nil, err
	}
	return doc, nil
}

// Save writes the database to w. Every save draws new seeds and a new IV;
// version, cipher, compression and KDF rounds are kept.
func (d *Database) Save(w io.Writer) (err error) {
	if d.closed {
		return ErrClosed
	}
	h := d.header.Copy()
	defer func() {
		if err != nil {
			h.Close()
		}
	}()
	provider, err := crypto.FindProvider(h.CipherID)
	if err != nil {
		return err
	}
	if len(h.EncryptionIV) != provider.IVSize() {
		h.EncryptionIV = make([]byte, provider.IVSize())
	}
	if err := h.Randomize(); err != nil {
		return err
	}

	if err := h.Write(w); err != nil {
		return err
	}
	oldHash := d.doc.Meta.HeaderHash
	d.doc.Meta.HeaderHash = append([]byte(nil), h.Hash[:]...)
	defer func() {
		if err != nil {
			d.doc.Meta.HeaderHash = oldHash
		}
	}()

	masterKey, err := deriveKey(d.key, h)
	if err != nil {
		return err
	}
	encrypter, err := provider.NewEncrypter(w, masterKey, h.EncryptionIV)
	util.Zero(masterKey)
	if err != nil {
		return err
	}
	if err := util.WriteAssert(encrypter, h.StreamStartBytes); err != nil {
		return err
	}
	if err := writePayload(encrypter, d.doc, h); err != nil {
		return err
	}
	if err := encrypter.Close(); err != nil {
		return err
	}

	d.header.Close()
	d.header = h
	log.Debugf("Saved v%s database '%s'", h.Version, d.doc.Meta.DatabaseName)
	return nil
}

// writePayload is the mirror image of readPayload. The layers are closed
// innermost first.
func writePayload(encrypter io.Writer, doc *model.Document, h *HeaderInfo) error {
	blocks := NewBlockWriter(encrypter)
	buffered := bufio.NewWriterSize(blocks, writeBufferSize)

	var payload io.Writer = buffered
	var zw *gzip.Writer
	if h.Compression {
		zw = gzip.NewWriter(buffered)
		payload = zw
	}

	v4 := h.Version.isV4()
	if v4 {
		if err := writeInnerHeader(payload, h, doc.CollectBinaries()); err != nil {
			return err
		}
	}

	stream, err := crypto.NewRandomStream(h.InnerRandomStreamID, h.ProtectedStreamKey)
	if err != nil {
		return err
	}
	defer stream.Close()

	opts := parser.Options{
		BinaryTime:       v4,
		InlineBinaries:   !v4,
		CompressBinaries: !v4 && h.Compression,
	}
	if err := parser.Unparse(payload, doc, stream, opts); err != nil {
		return err
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	if err := buffered.Flush(); err != nil {
		return err
	}
	return blocks.Close()
}

// SaveToPath writes the database to a temporary file next to path and
// renames it into place.
func (d *Database) SaveToPath(path string) error {
	if d.closed {
		return ErrClosed
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return FileError{err}
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	buffered := bufio.NewWriter(tmp)
	if err := d.Save(buffered); err != nil {
		return fail(err)
	}
	if err := buffered.Flush(); err != nil {
		return fail(FileError{err})
	}
	if err := tmp.Sync(); err != nil {
		return fail(FileError{err})
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return FileError{err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return FileError{err}
	}
	d.path = path
	return nil
}

// Bytes saves the database into memory.
func (d *Database) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Database) Document() *model.Document {
	return d.doc
}

func (d *Database) Header() *HeaderInfo {
	return d.header
}

func (d *Database) Version() Version {
	return d.header.Version
}

func (d *Database) Path() string {
	return d.path
}

// SetKey replaces the key used by the next save and disposes the old one.
func (d *Database) SetKey(k *key.CompositeKey) {
	if d.key != nil && d.key != k {
		d.key.Close()
	}
	d.key = k
	d.doc.Meta.MasterKeyChanged = model.Now()
}

// SetCipher selects the body cipher for the next save.
func (d *Database) SetCipher(name string) error {
	provider, err := crypto.FindProviderByName(name)
	if err != nil {
		return err
	}
	d.header.CipherID = provider.UUID()
	return nil
}

// Close disposes the key and every protected value of the document.
// Closing twice is a no-op.
func (d *Database) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.header.Close()
	d.doc.Close()
	if d.key != nil {
		return d.key.Close()
	}
	return nil
}
