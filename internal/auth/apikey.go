// Package auth provides API key generation and validation for the recondor
// API server. Keys are random, prefixed for easy identification, and stored
// only as bcrypt hashes.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of an API key.
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys.
	APIKeyPrefix = "rk"
	// DisplayPrefixLength is how much of a key is safe to show in logs and UIs.
	DisplayPrefixLength = 12

	// BcryptCost balances hashing cost against login latency.
	BcryptCost = 12
	// bcryptMaxInputLength is bcrypt's hard input limit in bytes.
	bcryptMaxInputLength = 72

	minKeyNameLength = 1
	maxKeyNameLength = 255
)

// APIKeyInfo is the stored metadata for one issued key. The key itself is
// never stored; only Hash is.
type APIKeyInfo struct {
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Hash       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active"`
}

// GeneratedAPIKey carries a newly generated key. Key is only available at
// generation time.
type GeneratedAPIKey struct {
	Key  string     `json:"key"`
	Info APIKeyInfo `json:"info"`
}

// GenerateAPIKey creates a new named API key and its bcrypt hash.
func GenerateAPIKey(name string) (*GeneratedAPIKey, error) {
	if err := validateKeyName(name); err != nil {
		return nil, fmt.Errorf("invalid key name: %w", err)
	}

	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters in keys people will copy around.
	randomPart := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).
		EncodeToString(randomBytes))
	if len(randomPart) > APIKeyLength {
		randomPart = randomPart[:APIKeyLength]
	}

	fullKey := fmt.Sprintf("%s_%s", APIKeyPrefix, randomPart)
	hash, err := HashAPIKey(fullKey)
	if err != nil {
		return nil, err
	}

	return &GeneratedAPIKey{
		Key: fullKey,
		Info: APIKeyInfo{
			Name:      name,
			KeyPrefix: CreateDisplayPrefix(fullKey),
			Hash:      hash,
			CreatedAt: time.Now().UTC(),
			Active:    true,
		},
	}, nil
}

// HashAPIKey creates a bcrypt hash of an API key for storage.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	// Keys longer than bcrypt's input limit are pre-hashed with SHA-256.
	keyBytes := []byte(apiKey)
	if len(keyBytes) > bcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}

	hash, err := bcrypt.GenerateFromPassword(keyBytes, BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey checks a presented key against a stored hash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}

	keyBytes := []byte(apiKey)
	if len(keyBytes) > bcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}

	return bcrypt.CompareHashAndPassword([]byte(storedHash), keyBytes) == nil
}

// IsValidAPIKeyFormat checks the shape of a key without touching any hash.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < 15 || len(apiKey) > 50 {
		return false
	}
	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// CreateDisplayPrefix returns a log-safe prefix like "rk_abcd1234...".
func CreateDisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}
	parts := strings.SplitN(apiKey, "_", 2)
	if len(parts[1]) >= 8 {
		return fmt.Sprintf("%s_%s...", parts[0], parts[1][:8])
	}
	return fmt.Sprintf("%s_%s...", parts[0], parts[1])
}

// IsExpired reports whether the key passed its expiry, if one is set.
func (k *APIKeyInfo) IsExpired() bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now().UTC())
}

// IsValid reports whether the key is active and not expired.
func (k *APIKeyInfo) IsValid() bool {
	return k.Active && !k.IsExpired()
}

func validateKeyName(name string) error {
	if len(name) < minKeyNameLength {
		return fmt.Errorf("key name cannot be empty")
	}
	if len(name) > maxKeyNameLength {
		return fmt.Errorf("key name must be at most %d characters", maxKeyNameLength)
	}
	for _, char := range name {
		// Control and bidi formatting characters are rejected outright.
		if char < 32 || char == 127 ||
			(char >= 0x0080 && char <= 0x009F) ||
			(char >= 0x202A && char <= 0x202E) ||
			(char >= 0x2066 && char <= 0x2069) {
			return fmt.Errorf("key name contains invalid characters")
		}
	}
	return nil
}
