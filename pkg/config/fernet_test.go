package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "test-secret-key-12345"

	tests := []struct {
		name  string
		value string
	}{
		{name: "plain ascii", value: "hunter2"},
		{name: "empty string", value: ""},
		{name: "unicode", value: "密码 пароль 🔑"},
		{name: "long value", value: string(make([]byte, 4096))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Encrypt(secret, tt.value)
			require.NoError(t, err)
			assert.NotEqual(t, tt.value, token)

			plain, err := Decrypt(secret, token)
			require.NoError(t, err)
			assert.Equal(t, tt.value, plain)
		})
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	secret := "test-secret-key-12345"

	a, err := Encrypt(secret, "same value")
	require.NoError(t, err)
	b, err := Encrypt(secret, "same value")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	decA, err := Decrypt(secret, a)
	require.NoError(t, err)
	decB, err := Decrypt(secret, b)
	require.NoError(t, err)
	assert.Equal(t, decA, decB)
}

func TestDecryptWithWrongKey(t *testing.T) {
	token, err := Encrypt("key-one", "value")
	require.NoError(t, err)

	_, err = Decrypt("key-two", token)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestEncryptRequiresSecretKey(t *testing.T) {
	_, err := Encrypt("", "value")
	assert.ErrorIs(t, err, ErrNoSecretKey)

	_, err = Decrypt("", "token")
	assert.ErrorIs(t, err, ErrNoSecretKey)
}
