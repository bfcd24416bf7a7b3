// Package crypto implements the Credential Store: envelope encryption for
// OAuth access/refresh tokens at rest.
//
// Wire layout: version_byte(0x01) || nonce(12) || ciphertext || tag(16).
// A payload not prefixed by 0x01 is legacy plaintext and is returned
// verbatim by Decrypt — decryption must never mutate stored bytes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	keyLen      = 32
	versionByte = 0x01
	nonceLen    = 12
	tagLen      = 16
	// minCiphertextLen is version(1) + nonce(12) + tag(16); anything shorter
	// but version-prefixed is malformed.
	minCiphertextLen = 1 + nonceLen + tagLen
)

var (
	// ErrInvalidFormat is returned for a version-prefixed payload that is
	// too short or otherwise structurally malformed.
	ErrInvalidFormat = errors.New("crypto: invalid ciphertext format")
	// ErrDecryptionFailed covers tag mismatch, wrong key, and AAD mismatch.
	// These three causes are intentionally indistinguishable to callers —
	// there is no oracle to tell them apart.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	// ErrInvalidKeyLength is returned by NewKey when the supplied key is
	// not exactly 32 bytes.
	ErrInvalidKeyLength = fmt.Errorf("crypto: key must be exactly %d bytes", keyLen)
)

// Key holds 256-bit key material. Zero is called to scrub the bytes once
// the key is no longer needed (startup failure, test teardown); callers
// that hold a Key for the process lifetime are not required to zero it
// before exit.
type Key struct {
	bytes [keyLen]byte
}

// NewKey validates and copies raw into a Key. raw must be exactly 32 bytes.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != keyLen {
		return nil, ErrInvalidKeyLength
	}
	k := &Key{}
	copy(k.bytes[:], raw)
	return k, nil
}

// Zero overwrites the key material in place.
func (k *Key) Zero() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
}

func (k *Key) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.bytes[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// IsEncryptedPayload reports whether b looks like a versioned ciphertext
// blob (as opposed to legacy plaintext).
func IsEncryptedPayload(b []byte) bool {
	return len(b) > 0 && b[0] == versionByte
}

// Encrypt seals plaintext under key, binding aad into the authentication
// tag. Returns a fresh random-nonce ciphertext blob on every call — two
// encryptions of identical plaintext produce distinct ciphertexts.
func Encrypt(key *Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := key.aead()
	if err != nil {
		return nil, fmt.Errorf("crypto: build aead: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 0, 1+nonceLen+len(sealed))
	out = append(out, versionByte)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a ciphertext blob produced by Encrypt. A payload whose
// first byte is not the version byte is treated as legacy plaintext and
// returned unchanged. A version-prefixed payload shorter than the minimum
// length is ErrInvalidFormat; any other failure (bad key, tampered
// ciphertext, wrong aad) is ErrDecryptionFailed.
func Decrypt(key *Key, payload, aad []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	if !IsEncryptedPayload(payload) {
		return payload, nil
	}
	if len(payload) < minCiphertextLen {
		return nil, ErrInvalidFormat
	}

	nonce := payload[1 : 1+nonceLen]
	sealed := payload[1+nonceLen:]

	aead, err := key.aead()
	if err != nil {
		return nil, fmt.Errorf("crypto: build aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// AAD builds the additional-authenticated-data string that binds a
// ciphertext to a single connection identity, preventing cross-connection
// ciphertext substitution.
func AAD(tenantID, providerSlug, externalID string) []byte {
	return []byte(tenantID + "|" + providerSlug + "|" + externalID)
}
