package jwtx

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Encrypter seals plaintext for the downstream platform.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// OAEPEncrypter encrypts with RSA-OAEP, SHA-256 for both the digest and
// MGF1, and an empty label.
type OAEPEncrypter struct {
	key    *rsa.PublicKey
	random io.Reader
}

// OAEPOption customizes an OAEPEncrypter.
type OAEPOption func(*OAEPEncrypter)

// WithRandom replaces the entropy source used for OAEP seeds.
func WithRandom(r io.Reader) OAEPOption {
	return func(e *OAEPEncrypter) {
		if r != nil {
			e.random = r
		}
	}
}

// NewOAEPEncrypter returns an encrypter for the recipient key.
func NewOAEPEncrypter(key *rsa.PublicKey, opts ...OAEPOption) (*OAEPEncrypter, error) {
	if key == nil {
		return nil, errors.New("recipient key is nil")
	}
	e := &OAEPEncrypter{key: key, random: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MaxPlaintext is the largest message the key can seal: k - 2*hLen - 2.
func (e *OAEPEncrypter) MaxPlaintext() int {
	return MaxOAEPPlaintext(e.key)
}

// Encrypt seals plaintext. Oversized input fails with ErrCodeEncryption.
func (e *OAEPEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	if limit := e.MaxPlaintext(); len(plaintext) > limit {
		return nil, newError(ErrCodeEncryption, fmt.Errorf("plaintext is %d bytes, key allows at most %d", len(plaintext), limit))
	}
	out, err := rsa.EncryptOAEP(sha256.New(), e.random, e.key, plaintext, nil)
	if err != nil {
		return nil, newError(ErrCodeEncryption, err)
	}
	return out, nil
}

// MaxOAEPPlaintext reports the OAEP-SHA256 message limit for key.
func MaxOAEPPlaintext(key *rsa.PublicKey) int {
	n := key.Size() - 2*sha256.Size - 2
	if n < 0 {
		return 0
	}
	return n
}

// sealJSON serializes v and returns the base64 (standard alphabet) ciphertext.
func sealJSON(enc Encrypter, v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", newError(ErrCodeEncryption, fmt.Errorf("marshal payload: %w", err))
	}
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		var jerr *Error
		if errors.As(err, &jerr) {
			return "", err
		}
		return "", newError(ErrCodeEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPayload reverses the user_payload encoding with the recipient's
// private key and decodes the JSON into a map.
func DecryptPayload(key *rsa.PrivateKey, payload string) (map[string]any, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("decode payload: %w", err))
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, key, ciphertext, nil)
	if err != nil {
		return nil, newError(ErrCodeEncryption, err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, newError(ErrCodeEncryption, fmt.Errorf("decode plaintext: %w", err))
	}
	return out, nil
}
