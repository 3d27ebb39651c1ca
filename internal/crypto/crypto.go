// Package crypto provides at-rest encryption for stored provider
// credentials and helpers for opaque bearer tokens.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey is returned when the encryption key is not 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Codec encrypts and decrypts credential strings with AES-256-GCM.
// A nil Codec passes values through unchanged, so deployments without a
// configured key keep working on plaintext storage.
type Codec struct {
	gcm cipher.AEAD
}

// NewCodec creates a Codec from a base64 or raw 32-byte key. An empty key
// yields a nil Codec (passthrough).
func NewCodec(key string) (*Codec, error) {
	if key == "" {
		return nil, nil
	}

	raw := []byte(key)
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		raw = decoded
	}
	if len(raw) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Codec{gcm: gcm}, nil
}

// Encrypt returns base64-encoded ciphertext for plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if c == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Values that do not decode as ciphertext are
// returned unchanged for compatibility with rows written before a key was
// configured.
func (c *Codec) Decrypt(value string) (string, error) {
	if c == nil || value == "" {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value, nil
	}

	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return value, nil
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return value, nil
	}
	return string(plaintext), nil
}

// RandomToken returns n random bytes hex-encoded (2n characters).
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex-encoded SHA-256 of a token. Bearer tokens are
// stored and compared only in hashed form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a random 32-byte key base64-encoded, suitable for
// the TOKEN_ENCRYPTION_KEY setting.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
