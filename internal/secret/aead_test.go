package secret

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawKey = "0123456789abcdef0123456789abcdef"

func TestBox_RoundTrip(t *testing.T) {
	box, err := NewBox(base64.StdEncoding.EncodeToString([]byte(rawKey)))
	require.NoError(t, err)

	ct, err := box.Encrypt("postgres://u:p@db/app")
	require.NoError(t, err)
	assert.NotContains(t, ct, "postgres")

	again, err := box.Encrypt("postgres://u:p@db/app")
	require.NoError(t, err)
	assert.NotEqual(t, ct, again, "每次加密应使用不同的 nonce")

	plain, err := box.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/app", plain)

	plain, err = box.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestBox_KeyFormats(t *testing.T) {
	for _, key := range []string{rawKey, hex.EncodeToString([]byte(rawKey)), base64.StdEncoding.EncodeToString([]byte(rawKey))} {
		_, err := NewBox(key)
		assert.NoError(t, err, key)
	}
	_, err := NewBox("short")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestBox_DecryptFailures(t *testing.T) {
	box, err := NewBox(rawKey)
	require.NoError(t, err)
	other, err := NewBox(strings.Repeat("z", 32))
	require.NoError(t, err)

	ct, err := box.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	assert.ErrorIs(t, err, ErrAuthenticationTag)

	_, err = box.Decrypt("%%%not-base64")
	assert.ErrorIs(t, err, ErrMalformedCipher)

	_, err = box.Decrypt(base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrMalformedCipher)
}
