// Package secret seals account credentials at rest with NaCl secretbox.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrMissingKey = errors.New("encryption key is not configured")

type Box struct {
	key [32]byte
}

// New derives the box key from the configured passphrase.
// The device salt must never be used here: the two secrets rotate independently.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, ErrMissingKey
	}
	return &Box{key: sha256.Sum256([]byte(passphrase))}, nil
}

func (b *Box) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed secret is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", errors.New("failed to open secret: wrong key or corrupted data")
	}
	return string(plain), nil
}
