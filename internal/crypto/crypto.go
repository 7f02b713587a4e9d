// Package crypto provides the symmetric primitives used between two peers:
// key generation, raw key import/export and AES-GCM sealing with a fresh
// random nonce per call.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the size of generated session keys (AES-256).
	KeySize = 32

	// NonceSize is the GCM nonce length (96 bits).
	NonceSize = 12
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrDecrypt    = errors.New("decryption failed")
)

// Key is a symmetric session key shared by exactly one pair of peers.
type Key struct {
	raw  []byte
	aead cipher.AEAD
}

// Sealed is the output of a single Encrypt call.
type Sealed struct {
	IV         []byte
	Ciphertext []byte
}

// GenerateKey creates a new random AES-256 key.
func GenerateKey() (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKey(raw)
}

// ImportKey builds a key from raw bytes received from the remote side.
func ImportKey(raw []byte) (*Key, error) {
	switch len(raw) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKey, len(raw))
	}
	return newKey(append([]byte(nil), raw...))
}

func newKey(raw []byte) (*Key, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Key{raw: raw, aead: aead}, nil
}

// Export returns a copy of the raw key bytes.
func (k *Key) Export() []byte {
	return append([]byte(nil), k.raw...)
}

// Encrypt seals plaintext under a nonce read from crypto/rand. Nonces are
// never derived from counters, so two calls with the same input differ.
func (k *Key) Encrypt(plaintext []byte) (Sealed, error) {
	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	return Sealed{
		IV:         iv,
		Ciphertext: k.aead.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (k *Key) Decrypt(iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", ErrDecrypt, len(iv))
	}
	plaintext, err := k.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
