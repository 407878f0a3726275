// Package crypto provides the SecretBox used to encrypt data source
// credentials and other secrets at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretBox encrypts and decrypts small secrets with AES-256-GCM, keyed by
// a value derived from a passphrase via HKDF-SHA256.
type SecretBox struct {
	gcm cipher.AEAD
}

// NewSecretBox derives a 32-byte key from passphrase via HKDF and
// constructs an AES-256-GCM AEAD around it. salt should be stable for the
// lifetime of the deployment; rotating it invalidates every stored secret.
func NewSecretBox(passphrase, salt string) (*SecretBox, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: empty passphrase")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte("syncengine-secretbox"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return &SecretBox{gcm: gcm}, nil
}

// Encrypt returns a base64 string of nonce||ciphertext||tag.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}

	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// IsEncrypted reports whether s looks like a SecretBox payload: valid
// standard base64 decoding to at least nonce+tag bytes. Credentials
// stored before encryption was enabled fail this check.
func (b *SecretBox) IsEncrypted(s string) bool {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) >= b.gcm.NonceSize()+b.gcm.Overhead()
}

// Decrypt reverses Encrypt. A value that is not a SecretBox payload is
// treated as a plaintext credential and returned unchanged; a payload
// whose tag does not verify is an error.
func (b *SecretBox) Decrypt(encoded string) (string, error) {
	if !b.IsEncrypted(encoded) {
		return encoded, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: decode: %w", err)
	}

	nonce, ciphertext := raw[:b.gcm.NonceSize()], raw[b.gcm.NonceSize():]
	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open: %w", err)
	}

	return string(plaintext), nil
}
