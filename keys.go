package jwtx

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySource locates PEM key material either inline or on disk.
// PEM takes precedence when both are set.
type KeySource struct {
	PEM  string `yaml:"pem"`
	Path string `yaml:"path"`
}

// KeyFromPEM returns a KeySource for inline PEM text.
func KeyFromPEM(pem string) KeySource {
	return KeySource{PEM: pem}
}

// KeyFromFile returns a KeySource reading PEM text from path.
func KeyFromFile(path string) KeySource {
	return KeySource{Path: path}
}

// IsZero reports whether the source names no key material at all.
func (s KeySource) IsZero() bool {
	return strings.TrimSpace(s.PEM) == "" && strings.TrimSpace(s.Path) == ""
}

func (s KeySource) String() string {
	switch {
	case strings.TrimSpace(s.PEM) != "":
		return "inline PEM"
	case s.Path != "":
		return s.Path
	}
	return "<none>"
}

func (s KeySource) read() ([]byte, error) {
	if pem := strings.TrimSpace(s.PEM); pem != "" {
		// Keys pasted into environment variables often carry literal \n.
		if !strings.Contains(pem, "\n") {
			pem = strings.ReplaceAll(pem, `\n`, "\n")
		}
		return []byte(pem), nil
	}
	if s.Path == "" {
		return nil, errors.New("no PEM or path configured")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return data, nil
}

func parseRSAKey(src KeySource) (jwk.Key, error) {
	data, err := src.read()
	if err != nil {
		return nil, err
	}
	key, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src, err)
	}
	if key.KeyType() != jwa.RSA {
		return nil, fmt.Errorf("%s: expected RSA key, got %s", src, key.KeyType())
	}
	return key, nil
}

// LoadPrivateKey parses an RSA private key from src.
func LoadPrivateKey(src KeySource) (*rsa.PrivateKey, error) {
	key, err := parseRSAKey(src)
	if err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	if _, ok := key.(jwk.RSAPrivateKey); !ok {
		return nil, newError(ErrCodeKeyLoad, fmt.Errorf("%s: signing key must be a private key", src))
	}
	var raw rsa.PrivateKey
	if err := key.Raw(&raw); err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	return &raw, nil
}

// LoadPublicKey parses an RSA public key from src. A private key is accepted
// and reduced to its public half.
func LoadPublicKey(src KeySource) (*rsa.PublicKey, error) {
	key, err := parseRSAKey(src)
	if err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	var raw rsa.PublicKey
	if err := pub.Raw(&raw); err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	return &raw, nil
}

// publicJWK converts an RSA public key to a signature-use JWK whose kid is
// the RFC 7638 thumbprint.
func publicJWK(pub *rsa.PublicKey) (jwk.Key, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, err
	}
	thumb, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, err
	}
	for k, v := range map[string]any{
		jwk.KeyIDKey:     base64.RawURLEncoding.EncodeToString(thumb),
		jwk.AlgorithmKey: jwa.RS256,
		jwk.KeyUsageKey:  jwk.ForSignature,
	} {
		if err := key.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}
	return key, nil
}
