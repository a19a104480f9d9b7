package secure

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal("hello #lobby")
	require.NoError(t, err)

	plaintext, err := c.Open(sealed.Content, sealed.IV)
	require.NoError(t, err)
	assert.Equal(t, "hello #lobby", plaintext)
}

func TestSealFreshNonce(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	a, err := c.Seal("same text")
	require.NoError(t, err)
	b, err := c.Seal("same text")
	require.NoError(t, err)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Content, b.Content)
}

func TestOpenTamperedTag(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal("do not touch")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed.Content)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01

	_, err = c.Open(base64.StdEncoding.EncodeToString(raw), sealed.IV)
	assert.Error(t, err)
}

func TestOpenHex(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal("legacy payload")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed.Content)
	require.NoError(t, err)
	nonce, err := base64.StdEncoding.DecodeString(sealed.IV)
	require.NoError(t, err)

	ciphertext := raw[:len(raw)-TagSize]
	tag := raw[len(raw)-TagSize:]

	plaintext, err := c.OpenHex(
		hex.EncodeToString(ciphertext),
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
	)
	require.NoError(t, err)
	assert.Equal(t, "legacy payload", plaintext)
}

func TestNewCipherBadKey(t *testing.T) {
	_, err := NewCipher("not base64!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, err = NewCipher(short)
	assert.Error(t, err)
}
