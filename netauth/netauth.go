// Package netauth implements an optional pre-shared-secret handshake for
// peer connections: the dialing side proves knowledge of the cluster secret
// by sealing the fixed Challenge string with a key derived via PBKDF2 from a
// fresh random salt, without ever putting the secret itself on the wire.
// The accepting side verifies the token and sends none of its own.
package netauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen      = 32
	pbkdf2Iters = 100_000
	saltLen     = 16
	nonceLen    = 12
)

// deriveKey stretches secret into an AES-256 key using salt, the same
// PBKDF2-then-AEAD shape used to protect an on-disk keystore, repurposed
// here to protect a single handshake token instead of a private key.
func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iters, keyLen, sha256.New)
}

// Seal encrypts plaintext under a key derived from secret, returning
// salt||nonce||ciphertext. Called once per handshake message; the salt is
// fresh each call so repeated handshakes never reuse a derived key.
func Seal(secret string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("netauth: salt: %w", err)
	}
	gcm, err := newGCM(deriveKey(secret, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("netauth: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, saltLen+nonceLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open reverses Seal, recovering plaintext if secret matches the one used
// to seal it.
func Open(secret string, sealed []byte) ([]byte, error) {
	if len(sealed) < saltLen+nonceLen {
		return nil, fmt.Errorf("netauth: sealed token too short")
	}
	salt := sealed[:saltLen]
	nonce := sealed[saltLen : saltLen+nonceLen]
	ciphertext := sealed[saltLen+nonceLen:]
	gcm, err := newGCM(deriveKey(secret, salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("netauth: handshake authentication failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("netauth: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Challenge is the fixed plaintext a handshake initiator seals and the
// responder must recover. It carries no information of its own; its only
// purpose is to give Open something to authenticate.
const Challenge = "paxokv-cluster-handshake"

// NewToken produces a handshake token for secret, to be sent to a peer on
// first connect.
func NewToken(secret string) ([]byte, error) {
	return Seal(secret, []byte(Challenge))
}

// VerifyToken reports whether token was sealed with secret.
func VerifyToken(secret string, token []byte) bool {
	plaintext, err := Open(secret, token)
	if err != nil {
		return false
	}
	return string(plaintext) == Challenge
}
