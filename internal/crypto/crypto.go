// Package crypto provides the symmetric primitives for the authenticated
// message protocol: nonce generation, HMAC-SHA256 message authentication,
// and Argon2id password hashing.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const (
	// KeySize is the required length of the shared MAC key in bytes.
	KeySize = 32
	// NonceSize is the length of a message nonce in bytes.
	NonceSize = 32
	// MACSize is the length of an HMAC-SHA256 tag in bytes.
	MACSize = 32
)

// NewNonce returns NonceSize cryptographically secure random bytes.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}

// MAC computes HMAC-SHA256(key, msg || nonce). Binding the nonce into the
// tag means neither the message nor the nonce can be swapped out without
// invalidating the MAC.
func MAC(key, msg, nonce []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	h.Write(nonce)
	return h.Sum(nil)
}

// VerifyMAC recomputes the tag for (msg, nonce) and compares it against the
// received tag in constant time.
func VerifyMAC(key, msg, nonce, tag []byte) bool {
	return hmac.Equal(MAC(key, msg, nonce), tag)
}

// Equal reports whether a and b are equal without short-circuiting on the
// first differing byte.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
