package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used for service key hashing
const DefaultCost = bcrypt.DefaultCost

// HashServiceKey generates a bcrypt hash from a plaintext service key
func HashServiceKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash service key: %w", err)
	}
	return string(hash), nil
}

// ServiceKeys holds the bcrypt hashes of the keys devices may present.
type ServiceKeys struct {
	hashes []string
}

func NewServiceKeys(hashes []string) *ServiceKeys {
	keys := &ServiceKeys{}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			keys.hashes = append(keys.hashes, h)
		}
	}
	return keys
}

func (k *ServiceKeys) Configured() bool {
	return k != nil && len(k.hashes) > 0
}

// Check compares a plaintext service key with every configured hash
func (k *ServiceKeys) Check(key string) bool {
	if !k.Configured() || key == "" {
		return false
	}
	for _, h := range k.hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return true
		}
	}
	return false
}
