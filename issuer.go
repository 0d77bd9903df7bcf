package jwtx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Issuer mints agent identity tokens: claims signed with RS256 by a Signer,
// user attributes sealed for the agent platform by an Encrypter.
// An Issuer is immutable and safe for concurrent use.
type Issuer struct {
	signer    Signer
	encrypter Encrypter
	validity  time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

// NewIssuer loads both keys and builds an RS256 / RSA-OAEP issuer. Any key
// problem is reported as ErrCodeKeyLoad and no issuer is returned.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	private, err := LoadPrivateKey(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	recipient, err := LoadPublicKey(cfg.RecipientKey)
	if err != nil {
		return nil, err
	}
	signer, err := NewRSASigner(private)
	if err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	encrypter, err := NewOAEPEncrypter(recipient)
	if err != nil {
		return nil, newError(ErrCodeKeyLoad, err)
	}
	return NewIssuerWithRoles(signer, encrypter, cfg)
}

// NewIssuerWithRoles composes an issuer from an existing signer and
// encrypter. Key sources in cfg are ignored.
func NewIssuerWithRoles(signer Signer, encrypter Encrypter, cfg IssuerConfig) (*Issuer, error) {
	switch {
	case signer == nil:
		return nil, newError(ErrCodeInvalidArgument, errors.New("signer is required"))
	case encrypter == nil:
		return nil, newError(ErrCodeInvalidArgument, errors.New("encrypter is required"))
	}
	cfg.normalize()
	return &Issuer{
		signer:    signer,
		encrypter: encrypter,
		validity:  cfg.DefaultValidity,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}, nil
}

type issueParams struct {
	userData map[string]any
	context  map[string]any
	validity time.Duration
}

// IssueOption customizes a single Issue call.
type IssueOption func(*issueParams)

// WithUserData encrypts data into the user_payload claim. Empty data adds no claim.
func WithUserData(data map[string]any) IssueOption {
	return func(p *issueParams) {
		p.userData = data
	}
}

// WithAgentContext sets the context claim, visible to the agent unencrypted.
func WithAgentContext(values map[string]any) IssueOption {
	return func(p *issueParams) {
		p.context = values
	}
}

// WithValidity overrides the token lifetime. Sub-second precision is dropped.
func WithValidity(d time.Duration) IssueOption {
	return func(p *issueParams) {
		p.validity = d
	}
}

// WithValidityHours is WithValidity expressed in hours, rounded to the
// nearest second.
func WithValidityHours(hours float64) IssueOption {
	return WithValidity(time.Duration(math.Round(hours*3600)) * time.Second)
}

// EncryptPayload serializes userData to JSON and returns it RSA-OAEP
// encrypted and base64 encoded.
func (i *Issuer) EncryptPayload(userData map[string]any) (string, error) {
	return sealJSON(i.encrypter, userData)
}

// Issue returns a compact RS256 token for subject.
func (i *Issuer) Issue(subject string, opts ...IssueOption) (string, error) {
	tok, err := i.IssueToken(context.Background(), subject, opts...)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// IssueToken is Issue that also reports the expiry, for use with TokenCache.
func (i *Issuer) IssueToken(ctx context.Context, subject string, opts ...IssueOption) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(subject) == "" {
		return Token{}, newError(ErrCodeInvalidArgument, errors.New("subject is required"))
	}
	params := issueParams{validity: i.validity}
	for _, opt := range opts {
		opt(&params)
	}
	if params.validity < 0 {
		return Token{}, newError(ErrCodeInvalidArgument, fmt.Errorf("validity %s is negative", params.validity))
	}

	now := time.Unix(i.clock().Unix(), 0).UTC()
	expiresAt := now.Add(params.validity.Truncate(time.Second))

	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(expiresAt)
	if len(params.userData) > 0 {
		payload, err := i.EncryptPayload(params.userData)
		if err != nil {
			return Token{}, err
		}
		builder = builder.Claim(ClaimUserPayload, payload)
	}
	if len(params.context) > 0 {
		builder = builder.Claim(ClaimContext, params.context)
	}

	token, err := builder.Build()
	if err != nil {
		return Token{}, newError(ErrCodeInternal, fmt.Errorf("build claims: %w", err))
	}
	signed, err := i.signer.Sign(token)
	if err != nil {
		return Token{}, newError(ErrCodeInternal, fmt.Errorf("sign: %w", err))
	}

	i.logger.Debug("issued agent token",
		slog.String("subject", subject),
		slog.Time("expires_at", expiresAt),
		slog.Bool("user_payload", len(params.userData) > 0),
	)
	return Token{Value: string(signed), ExpiresAt: expiresAt}, nil
}

// IssueFunc binds subject and options so the issuer can feed a TokenCache.
func (i *Issuer) IssueFunc(subject string, opts ...IssueOption) IssueFunc {
	return func(ctx context.Context) (Token, error) {
		return i.IssueToken(ctx, subject, opts...)
	}
}

// Verify checks an issued token against the signer's public key. It is meant
// for diagnostics and tests; the agent platform does its own verification.
func (i *Issuer) Verify(ctx context.Context, token string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}
	parsed, err := parseSigned([]byte(token), jwt.WithKey(jwa.RS256, i.signer.PublicKey()))
	if err != nil {
		return nil, err
	}
	// jwx treats now == exp as expired; one second of skew makes only now > exp fail.
	if err := validateTimes(parsed, i.clock, time.Second); err != nil {
		return nil, err
	}
	return claimsFromToken(parsed), nil
}

// PublicKey returns the JWK that verifies tokens from this issuer.
func (i *Issuer) PublicKey() jwk.Key {
	return i.signer.PublicKey()
}

// JWKS returns the verification key as a JWK set.
func (i *Issuer) JWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	if err := set.AddKey(i.signer.PublicKey()); err != nil {
		return nil, newError(ErrCodeInternal, err)
	}
	return set, nil
}
