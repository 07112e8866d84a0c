// Package secret seals credential tokens before they are written to storage.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// Box encrypts with XChaCha20-Poly1305. The nonce is prepended to the ciphertext.
type Box struct {
	key []byte
}

// NewBox builds a Box from a raw 32 byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k}, nil
}

// NewBoxFromBase64 decodes a standard base64 key.
func NewBoxFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("token encryption key is not valid base64: %w", err)
	}
	return NewBox(key)
}

// Seal encrypts plaintext. additional binds the ciphertext to its row.
func (b *Box) Seal(plaintext, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, additional), nil
}

func (b *Box) Open(ciphertext, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformedCiphertext
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, additional)
	if err != nil {
		return nil, fmt.Errorf("failed to open ciphertext: %w", err)
	}
	return plaintext, nil
}

// SealString is Seal for optional string values; nil stays nil.
func (b *Box) SealString(value *string, additional []byte) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return b.Seal([]byte(*value), additional)
}

// OpenString reverses SealString.
func (b *Box) OpenString(ciphertext, additional []byte) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	plaintext, err := b.Open(ciphertext, additional)
	if err != nil {
		return nil, err
	}
	value := string(plaintext)
	return &value, nil
}
