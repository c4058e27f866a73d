// Package security implements the engine's submessage protection
// plugin: a narrow Transform interface plus one AEAD-backed
// implementation, so a participant can encrypt and authenticate DATA
// payloads end to end without the wire codec knowing anything about
// key management.
package security

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrAuthFailed is returned by Open when the ciphertext fails
// authentication, whether from tampering or a key mismatch.
var ErrAuthFailed = errors.New("security: message authentication failed")

// KeySize is the symmetric key size this plugin requires.
const KeySize = 32

// nonceSize is secretbox's required nonce size.
const nonceSize = 24

// Transform is the narrow collaborator interface the writer/reader
// state machines use to protect and unprotect serialized payloads. A
// no-op Transform is valid for an unsecured domain.
type Transform interface {
	Seal(plaintext []byte) (ciphertext []byte, err error)
	Open(ciphertext []byte) (plaintext []byte, err error)
}

// NoopTransform passes data through unchanged.
type NoopTransform struct{}

func (NoopTransform) Seal(p []byte) ([]byte, error) { return p, nil }
func (NoopTransform) Open(c []byte) ([]byte, error) { return c, nil }

// SecretBoxTransform protects payloads with a pre-shared symmetric key
// using XSalsa20-Poly1305 (nacl/secretbox): a fresh random nonce is
// prepended to every sealed message.
type SecretBoxTransform struct {
	key [KeySize]byte
}

// NewSecretBoxTransform builds a Transform from a pre-shared key, as
// established out of band by the security discovery exchange.
func NewSecretBoxTransform(key [KeySize]byte) *SecretBoxTransform {
	return &SecretBoxTransform{key: key}
}

// Seal encrypts and authenticates plaintext, returning nonce||ciphertext.
func (t *SecretBoxTransform) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &t.key), nil
}

// Open verifies and decrypts a nonce||ciphertext blob produced by Seal.
func (t *SecretBoxTransform) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrAuthFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &t.key)
	if !ok {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
