package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("", false)
	assert.ErrorIs(t, err, ErrNoMasterSecret)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("operator-secret", false)
	require.NoError(t, err)
	assert.False(t, v.Ephemeral())

	plaintext := []byte{0x01, 0x02, 0x03, 0xff}
	ciphertext, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)

	decrypted, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestSameSecretSameKey(t *testing.T) {
	a, err := New("operator-secret", false)
	require.NoError(t, err)
	b, err := New("operator-secret", false)
	require.NoError(t, err)

	// 同一口令派生同一密钥，跨进程可解
	ciphertext, err := a.Encrypt([]byte("priv"))
	require.NoError(t, err)
	decrypted, err := b.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("priv"), decrypted)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	v, err := New("operator-secret", false)
	require.NoError(t, err)

	ciphertext, err := v.Encrypt([]byte("priv"))
	require.NoError(t, err)

	_, err = v.Decrypt("x" + ciphertext[1:])
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = v.Decrypt("not a ciphertext")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptWrongSecret(t *testing.T) {
	a, err := New("secret-a", false)
	require.NoError(t, err)
	b, err := New("secret-b", false)
	require.NoError(t, err)

	ciphertext, err := a.Encrypt([]byte("priv"))
	require.NoError(t, err)

	_, err = b.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEphemeralMode(t *testing.T) {
	v, err := New("", true)
	require.NoError(t, err)
	assert.True(t, v.Ephemeral())

	ciphertext, err := v.Encrypt([]byte("priv"))
	require.NoError(t, err)
	decrypted, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("priv"), decrypted)

	// 另一个ephemeral实例密钥不同
	other, err := New("", true)
	require.NoError(t, err)
	_, err = other.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
