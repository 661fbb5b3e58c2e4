package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

const (
	tokenPrefix = "pt_"
	tokenLength = 32 // 32 bytes = 256 bits
)

// GenerateToken creates a new pairing token with crypto/rand
func GenerateToken() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashToken computes the SHA-256 digest sessions are keyed by.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// TokenPrefix returns a log-safe prefix of a token.
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}

// ResolveLabel applies the single precedence rule for an optional device
// label: request body, then header, then query parameter. Blank values count
// as absent.
func ResolveLabel(body *string, header, query string) string {
	var fromBody string
	if body != nil {
		fromBody = *body
	}
	return lo.CoalesceOrEmpty(
		strings.TrimSpace(fromBody),
		strings.TrimSpace(header),
		strings.TrimSpace(query),
	)
}
