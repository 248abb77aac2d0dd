package container

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KeyProvider supplies the store's encryption key.
type KeyProvider interface {
	// DeriveKey derives the encryption key from the given salt.
	DeriveKey(salt []byte) ([]byte, error)

	// GenerateSalt generates a new random salt.
	GenerateSalt() ([]byte, error)
}

// Argon2idParams tunes password-based key derivation.
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g. 64*1024 for 64 MB)
	Iterations  uint32 // Time parameter
	Parallelism uint8  // Degree of parallelism
	SaltSize    int    // Salt size in bytes (default 32)
	KeySize     int    // Derived key size in bytes (default 32)
}

// PasswordKeyProvider derives the store key from a password with Argon2id.
type PasswordKeyProvider struct {
	password []byte
	params   Argon2idParams
}

// NewPasswordKeyProvider creates a password-based key provider. Zero params
// fall back to 64 MB memory, 3 iterations, parallelism 4, 32-byte salt and
// key.
func NewPasswordKeyProvider(password []byte, params Argon2idParams) *PasswordKeyProvider {
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PasswordKeyProvider{password: password, params: params}
}

func (p *PasswordKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}
	key := argon2.IDKey(p.password, salt,
		p.params.Iterations, p.params.Memory, p.params.Parallelism,
		uint32(p.params.KeySize))
	return key, nil
}

func (p *PasswordKeyProvider) GenerateSalt() ([]byte, error) {
	salt := make([]byte, p.params.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// RawKeyProvider wraps a pre-derived 32-byte key. Useful for tests and for
// deployments that manage keys externally.
type RawKeyProvider struct {
	Key []byte
}

func (p *RawKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	if len(p.Key) != 32 {
		return nil, fmt.Errorf("raw key must be 32 bytes, got %d", len(p.Key))
	}
	key := make([]byte, len(p.Key))
	copy(key, p.Key)
	return key, nil
}

func (p *RawKeyProvider) GenerateSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}
