// Package credcrypt seals WiFi credentials for storage with AES-256-GCM.
//
// A sealed blob is the random nonce followed by the GCM ciphertext (which
// carries its authentication tag). The key is a process-wide secret supplied
// as base64 in configuration.
package credcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const KeySize = 32

var (
	ErrKeyMissing   = errors.New("credential encryption key is not configured")
	ErrKeyMalformed = errors.New("credential encryption key is malformed")
	ErrBlobTooShort = errors.New("sealed blob is too short")
	ErrOpen         = errors.New("unable to open sealed blob")
)

// WiFiCredential is the structured plaintext that gets sealed.
type WiFiCredential struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

type Sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

// ParseKey decodes a standard or URL-safe base64 key and checks its length.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrKeyMissing
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		key, err := enc.DecodeString(encoded)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKeyMalformed, KeySize, len(key))
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: not valid base64", ErrKeyMalformed)
}

// NewSealer builds a sealer from a base64 encoded 32 byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	key, err := ParseKey(encodedKey)
	if err != nil {
		return nil, err
	}
	return newSealer(key)
}

func newSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyMalformed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyMalformed, err)
	}
	return &Sealer{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(blob []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(blob) < ns+s.aead.Overhead() {
		return nil, ErrBlobTooShort
	}
	plaintext, err := s.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

func (s *Sealer) SealCredential(c WiFiCredential) ([]byte, error) {
	plaintext, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential: %w", err)
	}
	return s.Seal(plaintext)
}

func (s *Sealer) OpenCredential(blob []byte) (WiFiCredential, error) {
	var c WiFiCredential
	plaintext, err := s.Open(blob)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return c, fmt.Errorf("failed to decode credential: %w", err)
	}
	return c, nil
}

// GenerateKey returns a new random key in the base64 form NewSealer accepts.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
