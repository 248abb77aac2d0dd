package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastArgon keeps key derivation cheap in tests.
func fastArgon() Argon2idParams {
	return Argon2idParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func TestPasswordKeyProviderDeterministic(t *testing.T) {
	kp := NewPasswordKeyProvider([]byte("correct horse"), fastArgon())
	salt, err := kp.GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, 32)

	k1, err := kp.DeriveKey(salt)
	require.NoError(t, err)
	k2, err := kp.DeriveKey(salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "same password and salt must derive the same key")
	assert.Len(t, k1, 32)

	other, err := kp.GenerateSalt()
	require.NoError(t, err)
	k3, err := kp.DeriveKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "different salts must derive different keys")

	wrong := NewPasswordKeyProvider([]byte("wrong password"), fastArgon())
	k4, err := wrong.DeriveKey(salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestPasswordKeyProviderValidation(t *testing.T) {
	kp := NewPasswordKeyProvider(nil, fastArgon())
	_, err := kp.DeriveKey([]byte("salt"))
	assert.Error(t, err)

	kp = NewPasswordKeyProvider([]byte("pw"), fastArgon())
	_, err = kp.DeriveKey(nil)
	assert.Error(t, err)
}

func TestRawKeyProviderCopies(t *testing.T) {
	kp := &RawKeyProvider{Key: testKey()}
	salt, err := kp.GenerateSalt()
	require.NoError(t, err)

	key, err := kp.DeriveKey(salt)
	require.NoError(t, err)
	require.Equal(t, kp.Key, key)

	// The store wipes the derived copy after keying the AEAD; the provider's
	// own key must survive that.
	for i := range key {
		key[i] = 0
	}
	assert.Equal(t, testKey(), kp.Key)
}

func TestRawKeyProviderRejectsWrongLength(t *testing.T) {
	kp := &RawKeyProvider{Key: []byte("short")}
	_, err := kp.DeriveKey(nil)
	assert.Error(t, err)
}
