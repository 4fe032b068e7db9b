// Package vault seals and opens advice payloads with authenticated
// encryption. The associated data binds each blob to its (category, merchant
// key) pair, so a record fetched for the wrong pair fails closed instead of
// decrypting to someone else's advice.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// aadVersion is baked into the associated data so a future payload format
// change can rotate without ambiguity.
const aadVersion = "vault:advice:v1"

// Sealer encrypts and decrypts advice payloads with AES-256-GCM.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// AAD returns the associated-data string for a (category, merchantKey) pair.
func AAD(category, merchantKey string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", aadVersion, category, merchantKey))
}

// Seal encrypts payload bound to (category, merchantKey). The nonce is
// prepended to the returned blob.
func (s *Sealer) Seal(payload []byte, category, merchantKey string) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, payload, AAD(category, merchantKey)), nil
}

// Open decrypts a blob sealed for (category, merchantKey). Authentication
// failure, including a mismatched pair, returns an error and no plaintext.
func (s *Sealer) Open(blob []byte, category, merchantKey string) ([]byte, error) {
	if len(blob) < s.gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short: %d bytes", len(blob))
	}
	nonce, ciphertext := blob[:s.gcm.NonceSize()], blob[s.gcm.NonceSize():]
	payload, err := s.gcm.Open(nil, nonce, ciphertext, AAD(category, merchantKey))
	if err != nil {
		return nil, fmt.Errorf("open sealed advice: %w", err)
	}
	return payload, nil
}
