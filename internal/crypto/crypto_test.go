package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	key, err := GenerateKey()
	require.NoError(t, err)
	enc, err := NewEncryptorFromBase64(key)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptorFromBase64(t *testing.T) {
	t.Run("generated key", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)
		enc, err := NewEncryptorFromBase64(key)
		require.NoError(t, err)
		assert.NotNil(t, enc)
	})

	t.Run("key too short", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString(make([]byte, 16))
		enc, err := NewEncryptorFromBase64(short)
		assert.ErrorIs(t, err, ErrInvalidKeySize)
		assert.Nil(t, enc)
	})

	t.Run("not base64", func(t *testing.T) {
		enc, err := NewEncryptorFromBase64("not-a-key!!!")
		assert.Error(t, err)
		assert.Nil(t, enc)
	})
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	tokens := []string{
		"ya29.a0AfH6SMBx7-drive-access-token",
		"sl.BdropboxShortLivedToken",
		"1//0gRefreshTokenWithSlashes",
		strings.Repeat("long-scope ", 200),
	}
	for _, token := range tokens {
		sealed, err := enc.Encrypt(token)
		require.NoError(t, err)
		assert.NotEqual(t, token, sealed)

		opened, err := enc.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, token, opened)
	}
}

func TestEncryptor_EmptyValuePassesThrough(t *testing.T) {
	enc := newTestEncryptor(t)

	// An account without a refresh token stores an empty column.
	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestEncryptor_NonceMakesCiphertextsUnique(t *testing.T) {
	enc := newTestEncryptor(t)

	first, err := enc.Encrypt("same-access-token")
	require.NoError(t, err)
	second, err := enc.Encrypt("same-access-token")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestEncryptor_TamperedCiphertextRejected(t *testing.T) {
	enc := newTestEncryptor(t)

	sealed, err := enc.Encrypt("access-token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = enc.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptor_WrongKeyRejected(t *testing.T) {
	enc := newTestEncryptor(t)
	other := newTestEncryptor(t)

	sealed, err := enc.Encrypt("access-token")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptor_MalformedCiphertext(t *testing.T) {
	enc := newTestEncryptor(t)

	t.Run("not base64", func(t *testing.T) {
		_, err := enc.Decrypt("%%% not base64 %%%")
		assert.Error(t, err)
	})

	t.Run("shorter than a nonce", func(t *testing.T) {
		tiny := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		_, err := enc.Decrypt(tiny)
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})
}

func TestGenerateKey(t *testing.T) {
	first, err := GenerateKey()
	require.NoError(t, err)
	second, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	raw, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)
}
