// Package credential stores and serves the API keys used to reach the
// automation platform on behalf of an account.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/flowvault/flowvault/internal/platform/config"
)

// Encryptor handles credential encryption at rest (AES-256-GCM)
type Encryptor struct {
	key []byte
}

// NewEncryptor derives the encryption key from the configured passphrase
func NewEncryptor(cfg config.CryptoConfig) (*Encryptor, error) {
	if cfg.Passphrase == "" {
		return nil, errors.New("encryption passphrase is required")
	}

	salt := []byte(cfg.Salt)
	if len(salt) == 0 {
		salt = []byte("flowvault-default-salt")
	}

	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100000
	}

	key := pbkdf2.Key([]byte(cfg.Passphrase), salt, iterations, 32, sha256.New)

	return &Encryptor{key: key}, nil
}

// Encrypt encrypts plaintext and returns a base64-encoded ciphertext
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64-encoded ciphertext
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
