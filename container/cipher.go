package container

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherSuite selects the AEAD used for chunk payloads.
type CipherSuite uint8

const (
	// CipherAES256GCM uses AES-256 in Galois/Counter Mode. Fastest with
	// AES-NI, which is everywhere this is expected to run.
	CipherAES256GCM CipherSuite = iota + 1

	// CipherChaCha20Poly1305 is the software-friendly alternative.
	CipherChaCha20Poly1305
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

var (
	ErrAuthFailed        = errors.New("authentication failed - chunk may be corrupted or tampered")
	ErrUnsupportedCipher = errors.New("unsupported cipher suite")
)

// cipherEngine wraps one AEAD instance keyed for a store.
type cipherEngine struct {
	aead  cipher.AEAD
	suite CipherSuite
}

func newCipherEngine(suite CipherSuite, key []byte) (*cipherEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cipher requires a 32-byte key, got %d bytes", len(key))
	}
	var aead cipher.AEAD
	var err error
	switch suite {
	case CipherAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, ErrUnsupportedCipher
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s engine: %w", suite, err)
	}
	return &cipherEngine{aead: aead, suite: suite}, nil
}

// seal encrypts plaintext under a fresh random nonce and returns both.
func (e *cipherEngine) seal(plaintext []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, e.aead.Seal(nil, nonce, plaintext, nil), nil
}

// open decrypts ciphertext. Any authentication failure is reported as
// ErrAuthFailed without detail, as usual for AEADs.
func (e *cipherEngine) open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.aead.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *cipherEngine) nonceSize() int {
	return e.aead.NonceSize()
}

func (e *cipherEngine) overhead() int {
	return e.aead.Overhead()
}
