package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSalsa20MatchesReference(t *testing.T) {
	assert := assert.New(t)

	var key [32]byte
	copy(key[:], seq(32))
	nonce := SALSA20_NONCE
	plaintext := bytes.Repeat([]byte("Lorem ipsum dolor sit amet "), 20)

	want := make([]byte, len(plaintext))
	salsa20.XORKeyStream(want, plaintext, nonce, &key)

	e, err := NewSalsa20(key[:], nonce, 20, false)
	require.Nil(t, err)
	got := make([]byte, len(plaintext))
	// odd chunk sizes cross block boundaries
	for i := 0; i < len(plaintext); {
		end := i + 7
		if end > len(plaintext) {
			end = len(plaintext)
		}
		e.XORKeyStream(got[i:end], plaintext[i:end])
		i = end
	}
	assert.Equal(want, got)
}

func TestChaCha20MatchesReference(t *testing.T) {
	assert := assert.New(t)

	key := seq(32)
	nonce12 := []byte{0, 0, 0, 9, 0, 0, 0, 0x4a, 0, 0, 0, 0}
	plaintext := bytes.Repeat([]byte{0xaa}, 300)

	ref, err := chacha20.NewUnauthenticatedCipher(key, nonce12)
	require.Nil(t, err)
	want := make([]byte, len(plaintext))
	ref.XORKeyStream(want, plaintext)

	e, err := NewChaCha20(key, nonce12, 20, false)
	require.Nil(t, err)
	got := make([]byte, len(plaintext))
	e.XORKeyStream(got, plaintext)
	assert.Equal(want, got)

	// An 8 byte nonce equals the IETF layout with four leading zero bytes.
	nonce8 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ref, err = chacha20.NewUnauthenticatedCipher(key, append([]byte{0, 0, 0, 0}, nonce8...))
	require.Nil(t, err)
	ref.XORKeyStream(want, plaintext)
	e, err = NewChaCha20(key, nonce8, 20, false)
	require.Nil(t, err)
	e.XORKeyStream(got, plaintext)
	assert.Equal(want, got)
}

func TestEngineRawMode(t *testing.T) {
	key := seq(32)
	raw, err := NewChaCha20(key, seq(12), 20, true)
	require.Nil(t, err)
	xor, err := NewChaCha20(key, seq(12), 20, false)
	require.Nil(t, err)

	src := bytes.Repeat([]byte{0x55}, 100)
	a := make([]byte, 100)
	raw.XORKeyStream(a, src)
	assert.Equal(t, xor.NextBytes(100), a)
}

func TestEngineRounds(t *testing.T) {
	assert := assert.New(t)

	_, err := NewSalsa20(seq(32), seq(8), 9, false)
	assert.True(errors.Is(err, ErrEngineRounds))
	_, err = NewChaCha20(seq(16), seq(12), 20, false)
	assert.True(errors.Is(err, ErrEngineKeySize))
	_, err = NewChaCha20(seq(32), seq(10), 20, false)
	assert.True(errors.Is(err, ErrEngineNonceSize))

	a, _ := NewSalsa20(seq(32), seq(8), 8, false)
	b, _ := NewSalsa20(seq(32), seq(8), 20, false)
	assert.NotEqual(a.NextBytes(64), b.NextBytes(64))
}

func TestEngineCounterCarry(t *testing.T) {
	e, err := NewSalsa20(seq(32), seq(8), 20, false)
	require.Nil(t, err)
	e.state[8] = 0xffffffff
	e.NextBytes(EngineBlockSize)
	assert.Equal(t, uint32(0), e.state[8])
	assert.Equal(t, uint32(1), e.state[9])
}

func TestKeystreamMatchesEngine(t *testing.T) {
	for _, chacha := range []bool{false, true} {
		nonce := seq(8)
		var e *Engine
		var err error
		if chacha {
			nonce = seq(12)
			e, err = NewChaCha20(seq(32), nonce, 20, false)
		} else {
			e, err = NewSalsa20(seq(32), nonce, 20, false)
		}
		require.Nil(t, err)
		k, err := NewKeystream(chacha, seq(32), nonce)
		require.Nil(t, err)

		plaintext := bytes.Repeat([]byte("keystream "), 30)
		want := make([]byte, len(plaintext))
		e.XORKeyStream(want, plaintext)
		got := make([]byte, len(plaintext))
		for i := 0; i < len(plaintext); i += 13 {
			end := i + 13
			if end > len(plaintext) {
				end = len(plaintext)
			}
			k.XORKeyStream(got[i:end], plaintext[i:end])
		}
		assert.Equal(t, want, got, "chacha=%t", chacha)
		k.Close()
	}

	_, err := NewKeystream(false, seq(32), seq(12))
	assert.True(t, errors.Is(err, ErrEngineNonceSize))
	_, err = NewKeystream(true, seq(32), seq(10))
	assert.NotNil(t, err)
}

func TestRandomStream(t *testing.T) {
	assert := assert.New(t)
	key := seq(32)

	s, err := NewRandomStream(RandomStreamSalsa20, key)
	require.Nil(t, err)
	k := sha256.Sum256(key)
	want := make([]byte, 40)
	salsa20.XORKeyStream(want, make([]byte, 40), SALSA20_NONCE, &k)
	assert.Equal(want[:16], s.NextBytes(16))
	assert.Equal(want[16:], s.NextBytes(24))

	c, err := NewRandomStream(RandomStreamChaCha20, key)
	require.Nil(t, err)
	h := sha512.Sum512(key)
	ref, _ := chacha20.NewUnauthenticatedCipher(h[:32], h[32:44])
	ref.XORKeyStream(want, make([]byte, 40))
	assert.Equal(want, c.NextBytes(40))

	none, err := NewRandomStream(RandomStreamNone, key)
	require.Nil(t, err)
	assert.Equal(make([]byte, 4), none.NextBytes(4))

	_, err = NewRandomStream(RandomStreamID(9), key)
	assert.True(errors.Is(err, ErrUnknownRandomStream))
}

func TestRandomStreamMaskOrder(t *testing.T) {
	assert := assert.New(t)

	enc, _ := NewRandomStream(RandomStreamSalsa20, []byte("stream key"))
	dec, _ := NewRandomStream(RandomStreamSalsa20, []byte("stream key"))

	values := [][]byte{[]byte("s3cr3t"), []byte("correct-horse"), []byte("x")}
	var masked [][]byte
	for _, v := range values {
		m, err := enc.Encrypt(v)
		require.Nil(t, err)
		masked = append(masked, m)
	}
	for i, m := range masked {
		plain, err := dec.Decrypt(m)
		require.Nil(t, err)
		assert.Equal(values[i], plain)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	plaintexts := [][]byte{
		nil,
		[]byte("foo bar"),
		[]byte("0123456789abcdef"),
		bytes.Repeat([]byte("Lorem ipsum dolor sit amet consectetur"), 300),
	}
	for _, p := range Providers() {
		key := make([]byte, p.KeySize())
		iv := make([]byte, p.IVSize())
		_, err := rand.Read(key)
		require.Nil(t, err)
		_, err = rand.Read(iv)
		require.Nil(t, err)

		for _, plaintext := range plaintexts {
			var buf bytes.Buffer
			w, err := p.NewEncrypter(&buf, key, iv)
			require.Nil(t, err, p.Name())
			// uneven writes
			for i := 0; i < len(plaintext); i += 13 {
				end := i + 13
				if end > len(plaintext) {
					end = len(plaintext)
				}
				_, err = w.Write(plaintext[i:end])
				require.Nil(t, err)
			}
			require.Nil(t, w.Close())

			r, err := p.NewDecrypter(iotest.HalfReader(&buf), key, iv)
			require.Nil(t, err)
			out, err := io.ReadAll(r)
			require.Nil(t, err, p.Name())
			assert.Equal(t, len(plaintext), len(out), p.Name())
			assert.True(t, bytes.Equal(plaintext, out), p.Name())
		}
	}
}

func TestFindProvider(t *testing.T) {
	assert := assert.New(t)

	p, err := FindProvider(AESCipherID)
	assert.Nil(err)
	assert.Equal("AES", p.Name())

	p, err = FindProviderByName("Twofish")
	assert.Nil(err)
	assert.Equal(TwofishCipherID, p.UUID())

	_, err = FindProvider(AesKdfID)
	assert.True(errors.Is(err, ErrProviderNotFound))
}

func TestCBCReaderErrors(t *testing.T) {
	assert := assert.New(t)
	p, _ := FindProvider(AESCipherID)
	key, iv := seq(32), seq(16)

	var buf bytes.Buffer
	w, _ := p.NewEncrypter(&buf, key, iv)
	w.Write([]byte("Lorem ipsum dolor sit amet"))
	w.Close()
	ciphertext := buf.Bytes()

	r, _ := p.NewDecrypter(bytes.NewReader(ciphertext[:len(ciphertext)-3]), key, iv)
	_, err := io.ReadAll(r)
	assert.True(errors.Is(err, ErrCiphertextLength))

	// a single block whose last byte is not a valid pad length
	block, _ := aes.NewCipher(key)
	bad := append(bytes.Repeat([]byte{'a'}, 15), 0x11)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(bad, bad)
	r, _ = p.NewDecrypter(bytes.NewReader(bad), key, iv)
	_, err = io.ReadAll(r)
	assert.True(errors.Is(err, ErrInvalidPadding))

	_, err = p.NewDecrypter(bytes.NewReader(ciphertext), key[:16], iv)
	assert.NotNil(err)
}

func TestMasterKey(t *testing.T) {
	assert := assert.New(t)

	password := "foo"
	masterSeed := seq(32)
	transformSeed := seq(32)
	expectedMasterKey := []byte{0x45, 0x61, 0x38, 0x62, 0xc8, 0x59, 0x5f, 0x4e, 0x9b, 0x85, 0x3d, 0x10, 0xdc, 0xad, 0x69, 0x31, 0x3a, 0x9e, 0x69, 0x8e, 0x9d, 0x5a, 0x29, 0x1d, 0xda, 0x5d, 0x82, 0x84, 0xe0, 0xc7, 0x8f, 0x6c}

	compositeKey := sha256.Sum256([]byte(password))
	compositeKey = sha256.Sum256(compositeKey[:])

	masterKey, err := MasterKey(compositeKey[:], masterSeed, NewAesKdfParameters(transformSeed, 10))
	if !assert.Nil(err) {
		return
	}
	assert.Equal(expectedMasterKey, masterKey)
}

func TestAesDeriveBytes(t *testing.T) {
	assert := assert.New(t)

	password := seq(32)
	seed := bytes.Repeat([]byte{7}, 32)

	raw, err := AESRounds(password, seed, 100)
	require.Nil(t, err)
	first := sha256.Sum256(raw)
	raw, _ = AESRounds(raw, seed, 100)
	second := sha256.Sum256(raw)

	d, err := NewAesDeriveBytes(password, seed, nil, 100, nil)
	require.Nil(t, err)
	assert.Equal(first[:8], d.GetBytes(8))
	assert.Equal(append(first[8:], second[:4]...), d.GetBytes(28))

	// a non-zero IV changes the output
	d2, _ := NewAesDeriveBytes(password, seed, seq(16), 100, sha512.New)
	assert.NotEqual(first[:], d2.GetBytes(32))

	_, err = NewAesDeriveBytes(password, seed[:16], nil, 1, nil)
	assert.True(errors.Is(err, ErrKdfParameters))
}

func TestKdfParameters(t *testing.T) {
	assert := assert.New(t)

	params := NewAesKdfParameters(seq(32), 6000)
	b, err := params.MarshalBinary()
	require.Nil(t, err)
	parsed, err := ParseKdfParameters(b)
	require.Nil(t, err)

	id, err := parsed.UUID()
	assert.Nil(err)
	assert.Equal(AesKdfID, id)
	r, err := parsed.Rounds()
	assert.Nil(err)
	assert.Equal(uint64(6000), r)

	argon := NewAesKdfParameters(seq(32), 1)
	argon.Set(KdfParamUUID, Argon2dKdfID.Bytes())
	_, err = TransformKey(seq(32), argon)
	assert.True(errors.Is(err, ErrUnsupportedKDF))
}
