package jwtx

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Signer produces compact RS256 tokens and exposes the key that verifies them.
type Signer interface {
	Sign(token jwt.Token) ([]byte, error)
	PublicKey() jwk.Key
}

// RSASigner signs with an RSA private key using RS256.
type RSASigner struct {
	private jwk.Key
	public  jwk.Key
}

// NewRSASigner wraps key for RS256 signing.
func NewRSASigner(key *rsa.PrivateKey) (*RSASigner, error) {
	if key == nil {
		return nil, errors.New("signing key is nil")
	}
	public, err := publicJWK(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("public jwk: %w", err)
	}
	private, err := jwk.FromRaw(key)
	if err != nil {
		return nil, fmt.Errorf("private jwk: %w", err)
	}
	kid, _ := public.Get(jwk.KeyIDKey)
	if err := private.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("set kid: %w", err)
	}
	if err := private.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, fmt.Errorf("set alg: %w", err)
	}
	return &RSASigner{private: private, public: public}, nil
}

// Sign serializes token as header.payload.signature with alg=RS256, typ=JWT.
func (s *RSASigner) Sign(token jwt.Token) ([]byte, error) {
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return nil, err
	}
	return jwt.Sign(token, jwt.WithKey(jwa.RS256, s.private, jws.WithProtectedHeaders(hdrs)))
}

// PublicKey returns the verification key, including kid and alg.
func (s *RSASigner) PublicKey() jwk.Key {
	return s.public
}
