// Package vault encrypts and decrypts account credentials at rest.
//
// The serialized token format is three dot-separated base64 segments:
// nonce, ciphertext, and authentication tag. AES-GCM produces the tag
// appended to the ciphertext; it is split out on serialize and re-appended
// before opening.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryption reports a malformed token or authentication failure. It is
// fatal for the calling operation; callers must not fall back to a stale or
// partially decrypted secret.
var ErrDecryption = errors.New("vault: decryption failed")

// Vault performs authenticated symmetric encryption with a per-call nonce.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a raw AES key (16, 24, or 32 bytes).
func New(key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromHex creates a Vault from a hex-encoded key, as carried in config.
func NewFromHex(keyHex string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("vault key hex: %w", err)
	}
	return New(key)
}

// Encrypt seals the plaintext under a fresh random nonce and returns the
// three-segment token.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - v.aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(nonce),
		enc.EncodeToString(ciphertext),
		enc.EncodeToString(tag),
	}, "."), nil
}

// Decrypt opens a three-segment token. Any malformed segment or tag
// mismatch yields ErrDecryption.
func (v *Vault) Decrypt(token string) ([]byte, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrDecryption, len(segments))
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(segments[0])
	if err != nil {
		return nil, fmt.Errorf("%w: nonce segment", ErrDecryption)
	}
	if len(nonce) != v.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce length", ErrDecryption)
	}
	ciphertext, err := enc.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext segment", ErrDecryption)
	}
	tag, err := enc.DecodeString(segments[2])
	if err != nil {
		return nil, fmt.Errorf("%w: tag segment", ErrDecryption)
	}
	if len(tag) != v.aead.Overhead() {
		return nil, fmt.Errorf("%w: tag length", ErrDecryption)
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication", ErrDecryption)
	}
	return plaintext, nil
}
