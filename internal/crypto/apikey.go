package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// apiKeyIterations matches the PBKDF2 work factor used for key files.
	apiKeyIterations = 480_000
	apiKeySaltLen    = 16
	apiKeyHashLen    = 32

	apiKeyScheme = "pbkdf2"
)

// HashAPIKey derives a storable hash of an API key in the form
// "pbkdf2$<iterations>$<salt_b64>$<hash_b64>". Config files carry this form
// instead of the plaintext key.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("crypto: api key must not be empty")
	}
	salt := make([]byte, apiKeySaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generate api key salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(key), salt, apiKeyIterations, apiKeyHashLen, sha256.New)
	return strings.Join([]string{
		apiKeyScheme,
		strconv.Itoa(apiKeyIterations),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	}, "$"), nil
}

// VerifyAPIKey reports whether the presented key matches the stored value.
// Stored values are either a PBKDF2 hash produced by HashAPIKey or a
// plaintext key; both comparisons are constant-time.
func VerifyAPIKey(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	if !strings.HasPrefix(stored, apiKeyScheme+"$") {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 4 {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(presented), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(want, got) == 1
}
