// Package secure seals and opens chat message payloads with AES-256-GCM.
//
// Two wire encodings are accepted. The current one carries
// base64(ciphertext||tag) alongside a separate base64 12-byte nonce. The
// legacy one carries ciphertext, nonce and tag as three separate hex
// fields. Sealing always produces the current encoding.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// Cipher seals and opens messages under a single symmetric key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a standard-base64 encoded 256-bit key.
func NewCipher(keyBase64 string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Sealed is an encrypted message in the current wire encoding.
type Sealed struct {
	// Content is base64(ciphertext||tag).
	Content string
	// IV is the base64 nonce.
	IV string
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext string) (*Sealed, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return &Sealed{
		Content: base64.StdEncoding.EncodeToString(sealed),
		IV:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Open decrypts a message in the current encoding: base64 ciphertext with
// the tag appended, and a separate base64 nonce.
func (c *Cipher) Open(contentBase64, ivBase64 string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return "", fmt.Errorf("decode content: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(ivBase64)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", NonceSize, len(nonce))
	}
	if len(sealed) < TagSize {
		return "", fmt.Errorf("content too short: %d bytes", len(sealed))
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}

// OpenHex decrypts a message in the legacy encoding: ciphertext, nonce and
// tag as three separate hex fields.
func (c *Cipher) OpenHex(contentHex, ivHex, tagHex string) (string, error) {
	ciphertext, err := hex.DecodeString(contentHex)
	if err != nil {
		return "", fmt.Errorf("decode content: %w", err)
	}
	nonce, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", NonceSize, len(nonce))
	}
	if len(tag) != TagSize {
		return "", fmt.Errorf("tag must be %d bytes, got %d", TagSize, len(tag))
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh random 256-bit key, standard-base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
