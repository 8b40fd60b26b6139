package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// tokenLength is the number of charset characters per token. 24 characters
// over a 62-symbol alphabet give ~143 bits of entropy.
const tokenLength = 24

// maxTokenAttempts bounds collision retries. With 143-bit tokens a real
// collision is not expected within the lifetime of the service; running
// out of attempts signals a broken random source.
const maxTokenAttempts = 5

// TokenIssuer produces unique download tokens, using the registry as a
// uniqueness backstop across both the share and group-share token spaces.
type TokenIssuer struct {
	registry Registry
}

// NewTokenIssuer creates a token issuer backed by the given registry.
func NewTokenIssuer(registry Registry) *TokenIssuer {
	return &TokenIssuer{registry: registry}
}

// Issue returns a fresh token not present in either token space.
func (ti *TokenIssuer) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := generateSecureToken(tokenLength)
		if err != nil {
			return "", err
		}
		exists, err := ti.registry.TokenExists(ctx, token)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if !exists {
			return token, nil
		}
	}
	return "", fmt.Errorf("failed to issue a unique token after %d attempts", maxTokenAttempts)
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
