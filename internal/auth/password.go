// Package auth holds the password and token primitives. Everything here is
// pure; persistence lives in the app layer.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor.
	Iterations = 200_000
	saltBytes  = 16
	keyBytes   = 32
	tokenBytes = 32
)

// ErrMalformedHash is returned when a stored hash is not in salt$digest form.
var ErrMalformedHash = errors.New("malformed password hash")

// HashPassword derives a salted PBKDF2-SHA256 digest encoded as "salt$digest".
func HashPassword(password string) (string, error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	salt := hex.EncodeToString(raw)
	return salt + "$" + hex.EncodeToString(derive(password, salt)), nil
}

// VerifyPassword reports whether password matches stored.
func VerifyPassword(password, stored string) (bool, error) {
	salt, digestHex, ok := strings.Cut(stored, "$")
	if !ok || salt == "" || digestHex == "" {
		return false, ErrMalformedHash
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil || len(digest) != keyBytes {
		return false, ErrMalformedHash
	}
	return subtle.ConstantTimeCompare(derive(password, salt), digest) == 1, nil
}

// NewSessionToken returns an unguessable URL-safe token.
func NewSessionToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func derive(password, salt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), Iterations, keyBytes, sha256.New)
}
