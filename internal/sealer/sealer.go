// Package sealer encrypts signing material before it is written to the
// allocation ledger.
//
// Boxes are NaCl secretbox (XSalsa20-Poly1305) with a random 24-byte nonce
// prepended. The key is derived from an operator passphrase with scrypt and a
// per-ledger salt, so the same passphrase yields different keys for different
// ledgers.
package sealer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the secretbox key length.
	KeySize = 32
	// SaltSize is the length of salts produced by NewSalt.
	SaltSize = 16

	nonceSize = 24

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrEmptyPassphrase is returned when no passphrase is configured.
	ErrEmptyPassphrase = errors.New("sealer: passphrase is empty")
	// ErrOpen is returned when a box fails authentication: wrong key or tampered data.
	ErrOpen = errors.New("sealer: cannot open box (wrong passphrase or corrupted data)")
)

// Sealer seals and opens secret material with a fixed key.
// Safe for concurrent use.
type Sealer struct {
	key [KeySize]byte
}

// New derives a key from passphrase and salt.
func New(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) == 0 {
		return nil, errors.New("sealer: salt is empty")
	}
	k, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("sealer: derive key: %w", err)
	}
	return NewFromKey(k)
}

// NewFromKey uses a raw 32-byte key.
func NewFromKey(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealer: key must be %d bytes, got %d", KeySize, len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("sealer: read salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plain. The output is nonce || box.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("sealer: read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}
