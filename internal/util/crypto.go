package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	KeyBytes  = 32
	SaltBytes = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateKey returns a random hex-encoded AES-256 key.
func GenerateKey() (string, error) {
	return randomHex(KeyBytes)
}

func GenerateSalt() (string, error) {
	return randomHex(SaltBytes)
}

// DeriveKey turns secret into a hex AES-256 key. A secret that already is a
// 64-char hex key is returned unchanged; anything else is treated as a
// passphrase and stretched with Argon2id over the hex salt.
func DeriveKey(secret, saltHex string) (string, error) {
	if isHexKey(secret) {
		return strings.ToLower(secret), nil
	}
	if secret == "" {
		return "", fmt.Errorf("empty passphrase")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	if len(salt) < SaltBytes {
		return "", fmt.Errorf("salt must be at least %d bytes", SaltBytes)
	}

	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, KeyBytes)
	return hex.EncodeToString(key), nil
}

func isHexKey(s string) bool {
	if len(s) != KeyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// MaskCode hides all but the first digit of a pairing code for logs.
func MaskCode(code string) string {
	if code == "" {
		return ""
	}
	return code[:1] + strings.Repeat("*", len(code)-1)
}

// MaskSecret keeps the first two characters of s.
func MaskSecret(s string) string {
	if len(s) <= 2 {
		return "***"
	}
	return s[:2] + "***"
}
