package database

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/util"
	"github.com/Zaphoood/kdbx/src/keepass/uuids"
	"github.com/Zaphoood/kdbx/src/keepass/variant"
)

const (
	MASTER_SEED_LEN             = 32
	TRANSFORM_SEED_LEN          = 32
	INNER_RANDOM_STREAM_KEY_LEN = 32
	STREAM_START_BYTES_LEN      = 32

	// Upper bound for a single header field, far above anything KeePass
	// writes.
	maxFieldSize = 1 << 24
)

type headerCode uint8

const (
	// End of headers
	EOH headerCode = iota
	Comment
	CipherID
	CompressionFlag
	MasterSeed
	TransformSeed
	TransformRounds
	EncryptionIV
	ProtectedStreamKey
	StreamStartBytes
	InnerRandomStreamID
	KdfParameters
	PublicCustomData
	// Store number of header codes so that we can iterate
	NUM_HEADER_CODES
)

func (c headerCode) String() string {
	names := [...]string{
		"EndOfHeader", "Comment", "CipherID", "CompressionFlags", "MasterSeed",
		"TransformSeed", "TransformRounds", "EncryptionIV", "ProtectedStreamKey",
		"StreamStartBytes", "InnerRandomStreamID", "KdfParameters", "PublicCustomData",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("HeaderField(%d)", uint8(c))
}

// These fields need to be present in order for us to open the database
var (
	obligatoryFieldsV3 = []headerCode{
		CipherID,
		CompressionFlag,
		MasterSeed,
		TransformSeed,
		TransformRounds,
		EncryptionIV,
		ProtectedStreamKey,
		StreamStartBytes,
		InnerRandomStreamID,
	}
	obligatoryFieldsV4 = []headerCode{
		CipherID,
		CompressionFlag,
		MasterSeed,
		EncryptionIV,
		KdfParameters,
		StreamStartBytes,
	}
)

var (
	FILE_SIGNATURE    = [4]byte{0x03, 0xD9, 0xA2, 0x9A}
	VERSION_SIGNATURE = [4]byte{0x67, 0xFB, 0x4B, 0xB5}
	// KeePass files contain this sequence as the data for the final header field, we just copy that behavior
	EOH_DATA = [4]byte{0x0d, 0x0a, 0x0d, 0x0a}
)

const (
	COMPRESSION_None = 0
	COMPRESSION_GZip = 1
)

// Version is the file format version. Files whose major version is above
// the latest supported one are rejected.
type Version struct {
	Major uint16
	Minor uint16
}

var (
	Version3 = Version{3, 1}
	Version4 = Version{4, 0}
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Uint32 returns the on-disk representation.
func (v Version) Uint32() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)
}

func (v Version) isV4() bool {
	return v.Major >= 4
}

func (v *Version) read(r io.Reader) error {
	minor, err := util.ReadUint16(r)
	if err != nil {
		return err
	}
	major, err := util.ReadUint16(r)
	if err != nil {
		return err
	}
	v.Minor, v.Major = minor, major
	return nil
}

func (v *Version) write(w io.Writer) error {
	if err := util.WriteUint16(w, v.Minor); err != nil {
		return err
	}
	return util.WriteUint16(w, v.Major)
}

// HeaderInfo is the outer header of a database file. For format 3 the
// transform seed and rounds are kept as AES-KDF parameters, so that key
// derivation works the same for both versions. For format 4 the inner
// random stream travels in the inner header rather than here.
type HeaderInfo struct {
	Version             Version
	CipherID            uuids.UUID
	Compression         bool
	MasterSeed          []byte
	EncryptionIV        []byte
	Kdf                 *crypto.KdfParameters
	StreamStartBytes    []byte
	InnerRandomStreamID crypto.RandomStreamID
	ProtectedStreamKey  []byte
	CustomData          *variant.Dictionary
	Comment             []byte

	// Hash is the SHA-256 of the raw header bytes last read or written.
	Hash [sha256.Size]byte
}

// NewHeaderInfo creates a header with fresh random seeds.
func NewHeaderInfo(v Version, cipher crypto.Provider, compression bool, rounds uint64, streamID crypto.RandomStreamID) (*HeaderInfo, error) {
	h := &HeaderInfo{
		Version:             v,
		CipherID:            cipher.UUID(),
		Compression:         compression,
		MasterSeed:          make([]byte, MASTER_SEED_LEN),
		EncryptionIV:        make([]byte, cipher.IVSize()),
		Kdf:                 crypto.NewAesKdfParameters(make([]byte, TRANSFORM_SEED_LEN), rounds),
		StreamStartBytes:    make([]byte, STREAM_START_BYTES_LEN),
		InnerRandomStreamID: streamID,
		ProtectedStreamKey:  make([]byte, INNER_RANDOM_STREAM_KEY_LEN),
		CustomData:          variant.New(),
	}
	if err := h.Randomize(); err != nil {
		return nil, err
	}
	return h, nil
}

// Copy returns a deep copy of h.
func (h *HeaderInfo) Copy() *HeaderInfo {
	c := *h
	c.MasterSeed = append([]byte(nil), h.MasterSeed...)
	c.EncryptionIV = append([]byte(nil), h.EncryptionIV...)
	c.StreamStartBytes = append([]byte(nil), h.StreamStartBytes...)
	c.ProtectedStreamKey = append([]byte(nil), h.ProtectedStreamKey...)
	c.Comment = append([]byte(nil), h.Comment...)
	c.CustomData = h.CustomData.Clone()
	if h.Kdf != nil {
		c.Kdf = &crypto.KdfParameters{Dictionary: h.Kdf.Clone()}
	}
	return &c
}

// Randomize draws new seeds, IV, start bytes and stream key, keeping
// the sizes, the rounds and every other setting.
func (h *HeaderInfo) Randomize() error {
	seed := make([]byte, TRANSFORM_SEED_LEN)
	if old, err := h.Kdf.Seed(); err == nil && len(old) > 0 {
		seed = make([]byte, len(old))
	}
	for _, b := range [][]byte{h.MasterSeed, h.EncryptionIV, h.StreamStartBytes, h.ProtectedStreamKey, seed} {
		if _, err := rand.Read(b); err != nil {
			return err
		}
	}
	h.Kdf.SetSeed(seed)
	return nil
}

// Close wipes the secrets held by the header.
func (h *HeaderInfo) Close() {
	util.ZeroAll(h.MasterSeed, h.StreamStartBytes, h.ProtectedStreamKey)
}

// ReadHeader parses the header at the start of r. Errors are FileErrors.
func ReadHeader(r io.Reader) (*HeaderInfo, error) {
	h := &HeaderInfo{CustomData: variant.New()}
	hasher := sha256.New()
	if err := h.read(io.TeeReader(r, hasher)); err != nil {
		if _, ok := err.(FileError); ok {
			return nil, err
		}
		return nil, FileError{err}
	}
	copy(h.Hash[:], hasher.Sum(nil))
	return h, nil
}

func truncated(err error) error {
	if errors.Is(err, util.ErrTruncated) {
		return FileError{fmt.Errorf("%w: %v", ErrTruncatedHeader, err)}
	}
	return err
}

func (h *HeaderInfo) read(stream io.Reader) error {
	// Check filetype signature
	eq, err := util.ReadCompare(stream, FILE_SIGNATURE[:])
	if err != nil {
		return truncated(err)
	}
	if !eq {
		return FileError{ErrInvalidSignature}
	}

	// Check KeePass version signature
	eq, err = util.ReadCompare(stream, VERSION_SIGNATURE[:])
	if err != nil {
		return truncated(err)
	}
	if !eq {
		return FileError{fmt.Errorf("%w: invalid or unsupported version signature", ErrInvalidSignature)}
	}

	if err := h.Version.read(stream); err != nil {
		return truncated(err)
	}
	if h.Version.Major > Version4.Major || h.Version.Major < Version3.Major {
		return FileError{fmt.Errorf("%w: %s", ErrUnsupportedVersion, h.Version)}
	}

	headerMap := make(map[headerCode][]byte)
	for {
		htype, err := util.ReadUint8(stream)
		if err != nil {
			return truncated(err)
		}
		var length uint32
		if h.Version.isV4() {
			length, err = util.ReadUint32(stream)
		} else {
			var l16 uint16
			l16, err = util.ReadUint16(stream)
			length = uint32(l16)
		}
		if err != nil {
			return truncated(err)
		}
		if length > maxFieldSize {
			return FileError{fmt.Errorf("%w: %s has size %d", ErrInvalidField, headerCode(htype), length)}
		}
		value := make([]byte, length)
		if err := util.ReadAssert(stream, value); err != nil {
			return truncated(err)
		}
		code := headerCode(htype)
		if code == EOH {
			break
		}
		if code >= NUM_HEADER_CODES {
			log.Warnf("Skipping unknown header field %d", htype)
			continue
		}
		headerMap[code] = value
	}

	obligatory := obligatoryFieldsV3
	if h.Version.isV4() {
		obligatory = obligatoryFieldsV4
	}
	for _, code := range obligatory {
		if _, present := headerMap[code]; !present {
			return FileError{fmt.Errorf("%w: %s", ErrMissingField, code)}
		}
	}
	return h.parseFields(headerMap)
}

func fieldError(code headerCode, format string, args ...any) error {
	return FileError{fmt.Errorf("%w %s: %s", ErrInvalidField, code, fmt.Sprintf(format, args...))}
}

func (h *HeaderInfo) parseFields(fields map[headerCode][]byte) error {
	var err error
	if h.CipherID, err = uuids.FromBytes(fields[CipherID]); err != nil {
		return fieldError(CipherID, "%v", err)
	}
	if h.Compression, err = getCompression(fields[CompressionFlag]); err != nil {
		return err
	}
	h.MasterSeed = fields[MasterSeed]
	h.EncryptionIV = fields[EncryptionIV]
	h.StreamStartBytes = fields[StreamStartBytes]
	h.Comment = fields[Comment]

	if h.Version.isV4() {
		if h.Kdf, err = crypto.ParseKdfParameters(fields[KdfParameters]); err != nil {
			return FileError{err}
		}
		if b, ok := fields[PublicCustomData]; ok {
			if h.CustomData, err = variant.Read(bytes.NewReader(b)); err != nil {
				return FileError{err}
			}
		}
		log.Debugf("Read v%s header, cipher %s, compression %t", h.Version, h.CipherID, h.Compression)
		return nil
	}

	rounds := fields[TransformRounds]
	if len(rounds) != util.QWORD {
		return fieldError(TransformRounds, "want %d bytes, got %d", util.QWORD, len(rounds))
	}
	transformRounds, _ := util.ReadUint64(bytes.NewReader(rounds))
	h.Kdf = crypto.NewAesKdfParameters(fields[TransformSeed], transformRounds)

	h.ProtectedStreamKey = fields[ProtectedStreamKey]
	irsid := fields[InnerRandomStreamID]
	if len(irsid) != util.DWORD {
		return fieldError(InnerRandomStreamID, "want %d bytes, got %d", util.DWORD, len(irsid))
	}
	id, _ := util.ReadUint32(bytes.NewReader(irsid))
	h.InnerRandomStreamID = crypto.RandomStreamID(id)
	log.Debugf("Read v%s header, cipher %s, compression %t, %d transform rounds",
		h.Version, h.CipherID, h.Compression, transformRounds)
	return nil
}

// Write writes the header to w and updates h.Hash.
func (h *HeaderInfo) Write(stream io.Writer) error {
	hasher := sha256.New()
	if err := h.write(io.MultiWriter(stream, hasher)); err != nil {
		return err
	}
	copy(h.Hash[:], hasher.Sum(nil))
	return nil
}

type headerField struct {
	id   headerCode
	data []byte
}

func (h *HeaderInfo) fields() ([]headerField, error) {
	fields := []headerField{
		{CipherID, h.CipherID.Bytes()},
		{CompressionFlag, getCompressionFlag(h.Compression)},
		{MasterSeed, h.MasterSeed},
	}
	if len(h.Comment) > 0 {
		fields = append([]headerField{{Comment, h.Comment}}, fields...)
	}

	if h.Version.isV4() {
		kdf, err := h.Kdf.MarshalBinary()
		if err != nil {
			return nil, err
		}
		fields = append(fields,
			headerField{EncryptionIV, h.EncryptionIV},
			headerField{KdfParameters, kdf},
			headerField{StreamStartBytes, h.StreamStartBytes},
		)
		if h.CustomData.Len() > 0 {
			custom, err := h.CustomData.MarshalBinary()
			if err != nil {
				return nil, err
			}
			fields = append(fields, headerField{PublicCustomData, custom})
		}
		return append(fields, headerField{EOH, EOH_DATA[:]}), nil
	}

	kdfID, err := h.Kdf.UUID()
	if err != nil {
		return nil, err
	}
	if kdfID != crypto.AesKdfID {
		return nil, fmt.Errorf("%w: format %s only supports AES-KDF", ErrUnsupportedKDF, h.Version)
	}
	seed, err := h.Kdf.Seed()
	if err != nil {
		return nil, err
	}
	rounds, err := h.Kdf.Rounds()
	if err != nil {
		return nil, err
	}
	return append(fields,
		headerField{TransformSeed, seed},
		headerField{TransformRounds, util.Uint64Bytes(rounds)},
		headerField{EncryptionIV, h.EncryptionIV},
		headerField{ProtectedStreamKey, h.ProtectedStreamKey},
		headerField{StreamStartBytes, h.StreamStartBytes},
		headerField{InnerRandomStreamID, util.Uint32Bytes(uint32(h.InnerRandomStreamID))},
		headerField{EOH, EOH_DATA[:]},
	), nil
}

func (h *HeaderInfo) write(stream io.Writer) error {
	fields, err := h.fields()
	if err != nil {
		return err
	}
	if err := util.WriteAssert(stream, FILE_SIGNATURE[:]); err != nil {
		return err
	}
	if err := util.WriteAssert(stream, VERSION_SIGNATURE[:]); err != nil {
		return err
	}
	if err := h.Version.write(stream); err != nil {
		return err
	}
	for _, field := range fields {
		if err := h.writeHeaderField(stream, field.id, field.data); err != nil {
			return err
		}
	}
	return nil
}

func (h *HeaderInfo) writeHeaderField(stream io.Writer, id headerCode, data []byte) error {
	if err := util.WriteUint8(stream, uint8(id)); err != nil {
		return err
	}
	if h.Version.isV4() {
		if len(data) > maxFieldSize {
			return fmt.Errorf("Header field exceeds maximum length: %d > %d", len(data), maxFieldSize)
		}
		if err := util.WriteUint32(stream, uint32(len(data))); err != nil {
			return err
		}
	} else {
		if len(data) > int(^uint16(0)) {
			return fmt.Errorf("Header field exceeds maximum length: %d > %d", len(data), ^uint16(0))
		}
		if err := util.WriteUint16(stream, uint16(len(data))); err != nil {
			return err
		}
	}
	return util.WriteAssert(stream, data)
}

func getCompression(compressionFlag []byte) (bool, error) {
	if len(compressionFlag) != util.DWORD {
		return false, fieldError(CompressionFlag, "want %d bytes, got %d", util.DWORD, len(compressionFlag))
	}
	flag, _ := util.ReadUint32(bytes.NewReader(compressionFlag))
	switch flag {
	case COMPRESSION_None:
		return false, nil
	case COMPRESSION_GZip:
		return true, nil
	default:
		return false, fieldError(CompressionFlag, "unknown compression flag %d", flag)
	}
}

func getCompressionFlag(compression bool) []byte {
	flag := uint32(COMPRESSION_None)
	if compression {
		flag = COMPRESSION_GZip
	}
	return util.Uint32Bytes(flag)
}
