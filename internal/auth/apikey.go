// Package auth authenticates callers of the audit API. Two credentials are accepted:
// JWTs carrying an actor identity and scopes (people, dashboards), and API keys
// configured per business service for event ingestion. Keys are stored only as
// bcrypt hashes in the configuration.
// See internal/middleware/auth.go for the request-time logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/auditcore/audit-service/internal/config"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAPIKey creates a new random key. It returns the full key (shown once), the
// bcrypt hash to put in the configuration, and a display prefix.
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	fullKey := prefix + "_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	displayPrefix = fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefix = fullKey[:DisplayPrefixLength]
	}
	return fullKey, string(hashBytes), displayPrefix, nil
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// ExtractBearerToken extracts the credential from an Authorization header of the
// form "Bearer <token>".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}

// ServiceKey is the identity behind a configured API key
type ServiceKey struct {
	Name   string
	Scopes []string
}

// KeyRing checks presented keys against the configured hashes. A successful bcrypt
// match is remembered by the key's SHA-256 so repeat requests skip the bcrypt cost.
type KeyRing struct {
	keys     []config.APIKeyConfig
	verified sync.Map // sha256(key) -> *ServiceKey
}

// NewKeyRing builds a key ring from configuration. Entries without a hash are skipped.
func NewKeyRing(keys []config.APIKeyConfig) *KeyRing {
	kr := &KeyRing{}
	for _, k := range keys {
		if k.Hash != "" {
			kr.keys = append(kr.keys, k)
		}
	}
	return kr
}

// Len returns the number of usable keys
func (kr *KeyRing) Len() int { return len(kr.keys) }

// Authenticate returns the service owning key, or false when no configured hash matches.
func (kr *KeyRing) Authenticate(key string) (*ServiceKey, bool) {
	if key == "" {
		return nil, false
	}
	digest := sha256.Sum256([]byte(key))
	if v, ok := kr.verified.Load(digest); ok {
		return v.(*ServiceKey), true
	}
	for _, k := range kr.keys {
		if ValidateAPIKey(key, k.Hash) {
			sk := &ServiceKey{Name: k.Name, Scopes: append([]string(nil), k.Scopes...)}
			kr.verified.Store(digest, sk)
			return sk, true
		}
	}
	return nil, false
}
