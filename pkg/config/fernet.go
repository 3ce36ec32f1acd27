package config

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// ErrNoSecretKey is returned when a secret value must be encrypted or
// decrypted but SECRET_KEY is not configured.
var ErrNoSecretKey = errors.New("SECRET_KEY is required for encrypted config values")

// ErrDecryptFailed is returned when a stored ciphertext cannot be decrypted,
// usually because SECRET_KEY changed since the value was written.
var ErrDecryptFailed = errors.New("failed to decrypt config value")

// deriveKey turns the process SECRET_KEY into a Fernet key: SHA-256 of the
// secret, url-safe base64 encoded. The derivation is deterministic so every
// process with the same secret reads the same ciphertexts.
func deriveKey(secretKey string) (*fernet.Key, error) {
	if secretKey == "" {
		return nil, ErrNoSecretKey
	}
	digest := sha256.Sum256([]byte(secretKey))
	encoded := base64.URLEncoding.EncodeToString(digest[:])
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to derive fernet key: %w", err)
	}
	return key, nil
}

// Encrypt produces a Fernet token for value. Tokens are non-deterministic;
// only Decrypt can compare them.
func Encrypt(secretKey, value string) (string, error) {
	key, err := deriveKey(secretKey)
	if err != nil {
		return "", err
	}
	token, err := fernet.EncryptAndSign([]byte(value), key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt config value: %w", err)
	}
	return string(token), nil
}

// Decrypt reverses Encrypt. Tokens never expire; rotation happens by
// rewriting values, not by TTL.
func Decrypt(secretKey, token string) (string, error) {
	key, err := deriveKey(secretKey)
	if err != nil {
		return "", err
	}
	plain := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{key})
	if plain == nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
