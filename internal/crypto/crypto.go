// Package crypto provides the at-rest encryption primitives: AES-256-GCM
// sealing with a master key held in the OS credential store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SealedPrefix marks a stored value as sealed so the metadata store can
// detect and unseal on read.
const SealedPrefix = "enc:v1:"

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	// PBKDF2Iterations is the iteration count for passphrase derivation.
	PBKDF2Iterations = 100_000

	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 16
)

// Error is the distinct error kind for crypto failures. It wraps the
// underlying cause.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "crypto: " + e.Op
	}
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Cipher seals and unseals values with a fixed 256-bit key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, &Error{Op: fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Op: "init cipher", Cause: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &Error{Op: "init gcm", Cause: err}
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns the stored-value form:
// SealedPrefix + base64(nonce || ciphertext).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", &Error{Op: "generate nonce", Cause: err}
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts a value produced by Seal.
func (c *Cipher) Unseal(value string) ([]byte, error) {
	if !IsSealed(value) {
		return nil, &Error{Op: "value is not sealed"}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return nil, &Error{Op: "decode sealed value", Cause: err}
	}
	if len(raw) < NonceSize {
		return nil, &Error{Op: "sealed value too short"}
	}
	nonce, ciphertext := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &Error{Op: "unseal", Cause: err}
	}
	return plaintext, nil
}

// SealString is Seal for string content.
func (c *Cipher) SealString(plaintext string) (string, error) {
	return c.Seal([]byte(plaintext))
}

// UnsealString is Unseal returning string content.
func (c *Cipher) UnsealString(value string) (string, error) {
	b, err := c.Unseal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsSealed reports whether a stored value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// SealFile encrypts src into dst using the same primitive as Seal. The file
// body is raw nonce || ciphertext, no base64.
func (c *Cipher) SealFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &Error{Op: "read " + src, Cause: err}
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return &Error{Op: "generate nonce", Cause: err}
	}
	sealed := c.aead.Seal(nonce, nonce, data, nil)
	if err := os.WriteFile(dst, sealed, 0o600); err != nil {
		return &Error{Op: "write " + dst, Cause: err}
	}
	return nil
}

// UnsealFile decrypts src (produced by SealFile) into dst.
func (c *Cipher) UnsealFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &Error{Op: "read " + src, Cause: err}
	}
	if len(data) < NonceSize {
		return &Error{Op: "encrypted file too short"}
	}
	plaintext, err := c.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return &Error{Op: "unseal " + src, Cause: err}
	}
	if err := os.WriteFile(dst, plaintext, 0o600); err != nil {
		return &Error{Op: "write " + dst, Cause: err}
	}
	return nil
}

// DeriveKey derives a 256-bit key from a passphrase with
// PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// NewSalt returns a fresh random PBKDF2 salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, &Error{Op: "generate salt", Cause: err}
	}
	return salt, nil
}

// NewKey returns 32 fresh random bytes.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, &Error{Op: "generate key", Cause: err}
	}
	return key, nil
}
