package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// secretPrefix marks AEAD-wrapped values in app_state.
const secretPrefix = "enc:v1:"

// SecretBox wraps secret state values with AES-256-GCM. The key is the
// SHA-256 of the configured secret, so any passphrase length works.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the AEAD key from the configured secret.
func NewSecretBox(secret string) (*SecretBox, error) {
	if secret == "" {
		return nil, errors.New("store: empty key material")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("store: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: gcm: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// IsWrapped reports whether a stored value carries the secret prefix.
func IsWrapped(value string) bool {
	return strings.HasPrefix(value, secretPrefix)
}

// Seal encrypts plaintext into "enc:v1:<iv_b64>:<ct_b64>:<tag_b64>".
func (s *SecretBox) Seal(plaintext string) (string, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("store: nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagLen := s.aead.Overhead()
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]
	return secretPrefix +
		base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ct) + ":" +
		base64.StdEncoding.EncodeToString(tag), nil
}

// Open decrypts a wrapped value. Malformed ciphertext is an error, never
// a silent empty value.
func (s *SecretBox) Open(wrapped string) (string, error) {
	rest, ok := strings.CutPrefix(wrapped, secretPrefix)
	if !ok {
		return "", errors.New("store: value is not wrapped")
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return "", errors.New("store: malformed ciphertext")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errors.New("store: malformed ciphertext")
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("store: malformed ciphertext")
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", errors.New("store: malformed ciphertext")
	}
	if len(iv) != s.aead.NonceSize() || len(tag) != s.aead.Overhead() {
		return "", errors.New("store: malformed ciphertext")
	}
	plaintext, err := s.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypt: %w", err)
	}
	return string(plaintext), nil
}
