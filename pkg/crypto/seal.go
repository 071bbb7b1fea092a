package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// Sealer encrypts audit payloads at rest with AES-GCM. A nil *Sealer passes
// payloads through unchanged, so callers need no branching on configuration.
type Sealer struct {
	gcm cipher.AEAD
}

// sealedEnvelope is the stored form of a sealed payload.
type sealedEnvelope struct {
	Sealed string `json:"sealed"`
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key string) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// Seal wraps a JSON payload as {"sealed":"<base64 nonce+ciphertext>"}.
// The result is still valid JSON so it fits a JSONB column.
func (s *Sealer) Seal(payload []byte) (json.RawMessage, error) {
	if s == nil || len(payload) == 0 {
		return payload, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nonce, nonce, payload, nil)
	return json.Marshal(sealedEnvelope{Sealed: base64.StdEncoding.EncodeToString(ciphertext)})
}

// Open reverses Seal. Payloads that were never sealed are returned as is.
func (s *Sealer) Open(stored []byte) (json.RawMessage, error) {
	var env sealedEnvelope
	if len(stored) == 0 || json.Unmarshal(stored, &env) != nil || env.Sealed == "" {
		return stored, nil
	}
	if s == nil {
		return nil, fmt.Errorf("payload is sealed but no encryption key is configured")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
