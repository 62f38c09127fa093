// Package cipher provides stateless AES-256-GCM encryption for entry
// payloads. Ciphertext layout is nonce || sealed bytes, the same envelope
// per value so each field stands alone.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrDecryptFailed is returned when ciphertext fails authentication, which
// includes data encrypted under a different (rotated) key. Decryption never
// returns garbage.
var ErrDecryptFailed = errors.New("cipher: decryption failed (wrong key or corrupted data)")

// Cipher encrypts and decrypts byte payloads under a fixed 256-bit key.
type Cipher struct {
	aead gocipher.AEAD
}

// New builds a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cipher: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cipher: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce := ciphertext[:c.aead.NonceSize()]
	sealed := ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptString seals a string, returning nil for the empty string so
// unset fields stay NULL in storage.
func (c *Cipher) EncryptString(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return c.Encrypt([]byte(s))
}

// DecryptString opens a sealed string; nil or empty input yields "".
func (c *Cipher) DecryptString(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	plaintext, err := c.Decrypt(b)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
