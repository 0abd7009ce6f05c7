package database

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Zaphoood/kdbx/src/keepass/key"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/keepass/protect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T, password string) *key.CompositeKey {
	f, err := key.NewPassword(password)
	require.Nil(t, err)
	return key.New(f)
}

func testOptions(version, cipher string, compression bool) Options {
	opts := DefaultOptions()
	opts.Version = version
	opts.Cipher = cipher
	opts.Compression = compression
	opts.TransformRounds = 10
	return opts
}

// newTestDatabase builds Root/Work/Server with a protected password and
// an attachment.
func newTestDatabase(t *testing.T, opts Options) *Database {
	opts.DatabaseName = "Root"
	d, err := New(newKey(t, "correct-horse"), opts)
	require.Nil(t, err)

	doc := d.Document()
	work := model.NewGroup("Work")
	require.Nil(t, doc.AddGroup(doc.Root, work))
	entry, err := doc.NewEntry(work)
	require.Nil(t, err)
	require.Nil(t, entry.Strings.SetString(model.TitleField, "Server", false))
	require.Nil(t, entry.Strings.SetString(model.UserNameField, "admin", false))
	require.Nil(t, entry.Strings.SetString(model.PasswordField, "s3cr3t", true))
	entry.Tags = []string{"prod", "db"}
	entry.Binaries.Set("id_rsa", protect.MustBytes([]byte("private key material"), true))
	entry.Binaries.Set("readme", protect.MustBytes([]byte("plain attachment"), false))
	return d
}

func saveToBytes(t *testing.T, d *Database) []byte {
	data, err := d.Bytes()
	require.Nil(t, err)
	return data
}

func findEntry(t *testing.T, doc *model.Document) *model.Entry {
	require.Equal(t, 1, doc.Root.Groups.Len())
	work := doc.Root.Groups.At(0)
	require.Equal(t, "Work", work.Name)
	require.Equal(t, 1, work.Entries.Len())
	return work.Entries.At(0)
}

func headerLength(t *testing.T, data []byte) int {
	r := bytes.NewReader(data)
	_, err := ReadHeader(r)
	require.Nil(t, err)
	return len(data) - r.Len()
}

func TestSaveOpen(t *testing.T) {
	for _, version := range []string{"3.1", "4"} {
		for _, cipher := range []string{"AES", "Twofish", "ChaCha20"} {
			for _, compression := range []bool{false, true} {
				name := fmt.Sprintf("%s/%s/compression=%t", version, cipher, compression)
				t.Run(name, func(t *testing.T) {
					assert := assert.New(t)

					d := newTestDatabase(t, testOptions(version, cipher, compression))
					defer d.Close()
					data := saveToBytes(t, d)

					opened, err := Open(bytes.NewReader(data), newKey(t, "correct-horse"))
					require.Nil(t, err)
					defer opened.Close()

					assert.Equal(d.Version(), opened.Version())
					assert.Equal(d.Header().CipherID, opened.Header().CipherID)
					assert.Equal(compression, opened.Header().Compression)

					doc := opened.Document()
					assert.Equal("Root", doc.Root.Name)
					assert.Equal(d.Document().Root.UUID, doc.Root.UUID)
					entry := findEntry(t, doc)
					assert.Equal("Server", entry.Strings.ReadAsString(model.TitleField))
					assert.Equal("admin", entry.Strings.ReadAsString(model.UserNameField))
					assert.Equal("s3cr3t", entry.Strings.ReadAsString(model.PasswordField))
					assert.Equal([]string{"prod", "db"}, entry.Tags)
					assert.Equal(entry.Times.CreationTime, findEntry(t, d.Document()).Times.CreationTime)

					secret, ok := entry.Binaries.Get("id_rsa")
					require.True(t, ok)
					assert.True(secret.IsProtected())
					b, err := secret.ToArray()
					require.Nil(t, err)
					assert.Equal("private key material", string(b))
					plain, ok := entry.Binaries.Get("readme")
					require.True(t, ok)
					b, err = plain.ToArray()
					require.Nil(t, err)
					assert.Equal("plain attachment", string(b))
					assert.Equal(2, doc.Binaries.Len())

					assert.Equal(d.Header().Hash[:], doc.Meta.HeaderHash)
				})
			}
		}
	}
}

func TestWrongPassword(t *testing.T) {
	for _, version := range []string{"3.1", "4"} {
		d := newTestDatabase(t, testOptions(version, "AES", true))
		data := saveToBytes(t, d)
		d.Close()

		_, err := Open(bytes.NewReader(data), newKey(t, "wrong-password"))
		assert.IsType(t, DecryptError{}, err)
		assert.ErrorIs(t, err, ErrStartBytesMismatch)

		opened, err := Open(bytes.NewReader(data), newKey(t, "correct-horse"))
		require.Nil(t, err)
		assert.Equal(t, "s3cr3t", findEntry(t, opened.Document()).Strings.ReadAsString(model.PasswordField))
		opened.Close()
	}
}

func TestResaveRandomizes(t *testing.T) {
	d := newTestDatabase(t, testOptions("4", "AES", true))
	defer d.Close()

	first := saveToBytes(t, d)
	seed := append([]byte(nil), d.Header().MasterSeed...)
	second := saveToBytes(t, d)
	assert.NotEqual(t, seed, d.Header().MasterSeed)
	assert.NotEqual(t, first, second)

	for _, data := range [][]byte{first, second} {
		opened, err := Open(bytes.NewReader(data), newKey(t, "correct-horse"))
		require.Nil(t, err)
		opened.Close()
	}
}

func TestOpenResave(t *testing.T) {
	d := newTestDatabase(t, testOptions("3.1", "Twofish", true))
	data := saveToBytes(t, d)
	d.Close()

	opened, err := Open(bytes.NewReader(data), newKey(t, "correct-horse"))
	require.Nil(t, err)
	entry := findEntry(t, opened.Document())
	require.Nil(t, entry.CreateHistorySnapshot(opened.Document().Meta.HistoryMaxItems))
	require.Nil(t, entry.Strings.SetString(model.PasswordField, "rotated", true))
	opened.SetKey(newKey(t, "new-password"))
	data = saveToBytes(t, opened)
	opened.Close()

	_, err = Open(bytes.NewReader(data), newKey(t, "correct-horse"))
	assert.IsType(t, DecryptError{}, err)

	reopened, err := Open(bytes.NewReader(data), newKey(t, "new-password"))
	require.Nil(t, err)
	defer reopened.Close()
	entry = findEntry(t, reopened.Document())
	assert.Equal(t, "rotated", entry.Strings.ReadAsString(model.PasswordField))
	require.Equal(t, 1, entry.History.Len())
	assert.Equal(t, "s3cr3t", entry.History.At(0).Strings.ReadAsString(model.PasswordField))
}

func TestTamperDetection(t *testing.T) {
	// ChaCha20 flips exactly the plaintext byte below each ciphertext
	// byte, so every position of the block stream is checked.
	d := newTestDatabase(t, testOptions("4", "ChaCha20", true))
	data := saveToBytes(t, d)
	d.Close()

	start := headerLength(t, data) + STREAM_START_BYTES_LEN
	for i := start; i < len(data); i++ {
		tampered := append([]byte(nil), data...)
		tampered[i] ^= 0x01
		_, err := Open(bytes.NewReader(tampered), newKey(t, "correct-horse"))
		if !assert.IsType(t, IntegrityError{}, err, "byte %d of %d", i, len(data)) {
			return
		}
	}
}

func TestTamperDetectionCBC(t *testing.T) {
	for _, version := range []string{"3.1", "4"} {
		d := newTestDatabase(t, testOptions(version, "AES", false))
		data := saveToBytes(t, d)
		d.Close()

		offsets := []int{headerLength(t, data) + 48, len(data) - 1, len(data) - 20}
		for _, i := range offsets {
			tampered := append([]byte(nil), data...)
			tampered[i] ^= 0xFF
			_, err := Open(bytes.NewReader(tampered), newKey(t, "correct-horse"))
			assert.IsType(t, IntegrityError{}, err, "version %s, byte %d of %d", version, i, len(data))
		}
	}
}

func TestTamperDetectionUncompressed(t *testing.T) {
	// Without gzip the first read of the payload is the inner header.
	d := newTestDatabase(t, testOptions("4", "ChaCha20", false))
	data := saveToBytes(t, d)
	d.Close()

	start := headerLength(t, data) + STREAM_START_BYTES_LEN
	for i := start; i < len(data); i++ {
		tampered := append([]byte(nil), data...)
		tampered[i] ^= 0x01
		_, err := Open(bytes.NewReader(tampered), newKey(t, "correct-horse"))
		if !assert.IsType(t, IntegrityError{}, err, "byte %d of %d", i, len(data)) {
			return
		}
	}
}

func TestInnerHeaderErrors(t *testing.T) {
	h := newTestHeader(t, Version4, "AES")

	var badID bytes.Buffer
	require.Nil(t, writeInnerRecord(&badID, innerRandomStreamID, []byte{0x01}))
	_, err := readInnerHeader(&badID, h)
	assert.ErrorIs(t, err, ErrInnerHeader)

	framed := frame(t, []byte("inner header"))
	framed[50] ^= 0x01
	_, err = readInnerHeader(NewBlockReader(bytes.NewReader(framed)), h)
	assert.ErrorIs(t, err, ErrInnerHeader)
	assert.ErrorIs(t, err, ErrBlockTampered)
	assert.IsType(t, IntegrityError{}, bodyError(err, 16))
}

func TestHeaderHashMismatch(t *testing.T) {
	d := newTestDatabase(t, testOptions("3.1", "AES", true))
	d.Header().Comment = []byte("comment")
	data := saveToBytes(t, d)
	d.Close()

	i := bytes.Index(data, []byte("comment"))
	require.True(t, i > 0)
	data[i] = 'C'

	_, err := Open(bytes.NewReader(data), newKey(t, "correct-horse"))
	assert.IsType(t, FileError{}, err)
	assert.ErrorIs(t, err, ErrHeaderHashMismatch)
}

func TestOpenErrors(t *testing.T) {
	d := newTestDatabase(t, testOptions("3.1", "AES", false))
	data := saveToBytes(t, d)
	d.Close()
	headerLen := headerLength(t, data)

	notKeePass := []byte("PK\x03\x04 this is a zip file")
	wrongLength := data[:len(data)-3]

	unknownCipher := append([]byte(nil), data...)
	i := bytes.Index(unknownCipher, d.Header().CipherID.Bytes())
	require.True(t, i > 0)
	unknownCipher[i] ^= 0xFF

	cases := []struct {
		name string
		data []byte
		want any
		is   error
	}{
		{"signature", notKeePass, FileError{}, ErrInvalidSignature},
		{"truncated header", data[:headerLen-1], FileError{}, ErrTruncatedHeader},
		{"cipher", unknownCipher, FileError{}, ErrProviderNotFound},
		{"length", wrongLength, FileError{}, BlockSizeError{}},
		{"no body", data[:headerLen], FileError{}, BlockSizeError{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Open(bytes.NewReader(c.data), newKey(t, "correct-horse"))
			assert.IsType(t, c.want, err)
			if target, ok := c.is.(BlockSizeError); ok {
				assert.True(t, errors.As(err, &target), "got %v", err)
			} else {
				assert.ErrorIs(t, err, c.is)
			}
		})
	}
}

func TestFailedOpenWipesHeader(t *testing.T) {
	for _, version := range []string{"3.1", "4"} {
		d := newTestDatabase(t, testOptions(version, "AES", true))
		data := saveToBytes(t, d)
		d.Close()

		r := bytes.NewReader(data)
		h, err := ReadHeader(r)
		require.Nil(t, err)
		require.NotEqual(t, make([]byte, len(h.MasterSeed)), h.MasterSeed)

		_, err = openBody(r, h, newKey(t, "wrong-password"))
		assert.IsType(t, DecryptError{}, err)
		assert.Equal(t, make([]byte, len(h.MasterSeed)), h.MasterSeed, version)
		assert.Equal(t, make([]byte, len(h.StreamStartBytes)), h.StreamStartBytes, version)
	}
}

func TestFailedSaveKeepsHeaderHash(t *testing.T) {
	d := newTestDatabase(t, testOptions("4", "AES", true))
	defer d.Close()
	saveToBytes(t, d)
	hash := append([]byte(nil), d.Document().Meta.HeaderHash...)
	require.Len(t, hash, 32)

	// The header fits, the body does not
	err := d.Save(&limitedWriter{n: 300})
	assert.NotNil(t, err)
	assert.Equal(t, hash, d.Document().Meta.HeaderHash)
}

type limitedWriter struct {
	n int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		n := w.n
		w.n = 0
		return n, io.ErrShortWrite
	}
	w.n -= len(p)
	return len(p), nil
}

func TestEmptyKey(t *testing.T) {
	d := newTestDatabase(t, testOptions("4", "AES", true))
	data := saveToBytes(t, d)
	d.Close()

	_, err := Open(bytes.NewReader(data), key.New())
	assert.IsType(t, KeyError{}, err)
}

func TestSaveToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.kdbx")

	d := newTestDatabase(t, testOptions("4", "AES", true))
	require.Nil(t, d.SaveToPath(path))
	assert.Equal(t, path, d.Path())
	d.Close()

	entries, err := os.ReadDir(filepath.Dir(path))
	require.Nil(t, err)
	assert.Len(t, entries, 1, "temporary file must be renamed")

	opened, err := OpenFile(path, newKey(t, "correct-horse"))
	require.Nil(t, err)
	defer opened.Close()
	assert.Equal(t, path, opened.Path())
	assert.Equal(t, "s3cr3t", findEntry(t, opened.Document()).Strings.ReadAsString(model.PasswordField))
}

func TestOpenFileNotExist(t *testing.T) {
	_, err := OpenFile("/this/path/does/not/exist.kdbx", newKey(t, "foo"))
	assert.IsType(t, FileError{}, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClose(t *testing.T) {
	d := newTestDatabase(t, testOptions("4", "AES", true))
	entry := findEntry(t, d.Document())
	password, _ := entry.Strings.Get(model.PasswordField)

	require.Nil(t, d.Close())
	require.Nil(t, d.Close())
	_, err := password.Bytes()
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, d.Save(&bytes.Buffer{}), ErrClosed)
}

func TestSetCipher(t *testing.T) {
	d := newTestDatabase(t, testOptions("4", "AES", true))
	defer d.Close()
	require.Nil(t, d.SetCipher("ChaCha20"))
	assert.ErrorIs(t, d.SetCipher("DES"), ErrProviderNotFound)

	data := saveToBytes(t, d)
	assert.Len(t, d.Header().EncryptionIV, 12)
	opened, err := Open(bytes.NewReader(data), newKey(t, "correct-horse"))
	require.Nil(t, err)
	opened.Close()
}
