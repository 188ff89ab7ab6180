package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const prefix = "enc:v1:"

var errMalformed = errors.New("malformed encrypted value")

// Cipher applies AES-GCM field-level encryption to sensitive text columns
// (task notes and transcriptions) before they reach the database.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the configured secret and returns a Cipher.
func New(key string) (*Cipher, error) {
	if key == "" {
		return nil, errors.New("field encryption key is required")
	}

	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// EncryptString encrypts plaintext and returns a self-describing string that
// DecryptString can reverse. Empty strings pass through unchanged so that
// optional columns stay empty rather than becoming ciphertext.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. Values without the encryption prefix
// are returned as-is, which keeps rows written before encryption was enabled
// readable.
func (c *Cipher) DecryptString(value string) (string, error) {
	if value == "" || !strings.HasPrefix(value, prefix) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", errMalformed
	}

	if len(raw) < c.aead.NonceSize() {
		return "", errMalformed
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}

	return string(plaintext), nil
}
