package container

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestCipherEngineRoundTrip(t *testing.T) {
	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			engine, err := newCipherEngine(suite, testKey())
			require.NoError(t, err)

			plaintext := []byte("chunk payload")
			nonce, ciphertext, err := engine.seal(plaintext)
			require.NoError(t, err)
			assert.Len(t, nonce, engine.nonceSize())
			assert.Len(t, ciphertext, len(plaintext)+engine.overhead())

			got, err := engine.open(nonce, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestCipherEngineFreshNonces(t *testing.T) {
	engine, err := newCipherEngine(CipherAES256GCM, testKey())
	require.NoError(t, err)

	n1, c1, err := engine.seal([]byte("same"))
	require.NoError(t, err)
	n2, c2, err := engine.seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2, "nonces must be fresh per seal")
	assert.NotEqual(t, c1, c2)
}

func TestCipherEngineTamperDetection(t *testing.T) {
	engine, err := newCipherEngine(CipherAES256GCM, testKey())
	require.NoError(t, err)

	nonce, ciphertext, err := engine.seal([]byte("payload"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xff
	_, err = engine.open(nonce, ciphertext)
	assert.ErrorIs(t, err, ErrAuthFailed)

	ciphertext[0] ^= 0xff
	badNonce := make([]byte, len(nonce))
	_, err = engine.open(badNonce, ciphertext)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestCipherEngineBadKey(t *testing.T) {
	_, err := newCipherEngine(CipherAES256GCM, []byte("short"))
	assert.Error(t, err)

	_, err = newCipherEngine(CipherSuite(99), testKey())
	assert.ErrorIs(t, err, ErrUnsupportedCipher)
}

func TestCipherEngineNonceSizeCheck(t *testing.T) {
	engine, err := newCipherEngine(CipherAES256GCM, testKey())
	require.NoError(t, err)
	_, err = engine.open([]byte{1, 2, 3}, []byte("ciphertext"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthFailed, "a malformed nonce is a format error, not an auth failure")
}
