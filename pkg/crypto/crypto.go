// Package crypto provides credential hashing for user and room passwords.
//
// Passwords are hashed with Argon2id and a per-credential random salt; the
// encoded form stored by the datastore is "argon2id$<salt>$<key>" with both
// parts base64. Verification is constant-time.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32

	// Argon2id parameters: 1 pass, 64 MiB, 4 lanes.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// HashPassword hashes a raw password with a fresh random salt and returns
// the encoded hash suitable for storage.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keySize)
	return "argon2id$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// VerifyPassword reports whether password matches an encoded hash produced
// by HashPassword. Malformed hashes verify as false, never as a fault:
// a corrupt credential row should read as "wrong password".
func VerifyPassword(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
