package jwtx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultValidity    = 24 * time.Hour
	defaultRefreshSkew = 300 * time.Second
	defaultClockSkew   = 30 * time.Second
	defaultMinRefresh  = 5 * time.Minute
	defaultHTTPTimeout = 5 * time.Second
)

// Environment variables read by IssuerConfigFromEnv.
const (
	EnvPrivateKey     = "WATSON_PRIVATE_KEY"
	EnvPrivateKeyPath = "WATSON_PRIVATE_KEY_PATH"
	EnvPublicKey      = "IBM_PUBLIC_KEY"
	EnvPublicKeyPath  = "IBM_PUBLIC_KEY_PATH"
)

// IssuerConfig describes the key material and defaults for an Issuer.
type IssuerConfig struct {
	// SigningKey is our RSA private key; it only ever signs.
	SigningKey KeySource
	// RecipientKey is the agent platform's RSA public key; it only ever encrypts.
	RecipientKey KeySource

	DefaultValidity time.Duration
	Clock           func() time.Time
	Logger          *slog.Logger
}

// IssuerConfigFromEnv reads key material from the process environment.
// Inline PEM variables win over their *_PATH counterparts.
func IssuerConfigFromEnv() IssuerConfig {
	return IssuerConfig{
		SigningKey: KeySource{
			PEM:  os.Getenv(EnvPrivateKey),
			Path: os.Getenv(EnvPrivateKeyPath),
		},
		RecipientKey: KeySource{
			PEM:  os.Getenv(EnvPublicKey),
			Path: os.Getenv(EnvPublicKeyPath),
		},
	}
}

// normalize sets default values for optional fields.
func (c *IssuerConfig) normalize() {
	if c.DefaultValidity <= 0 {
		c.DefaultValidity = defaultValidity
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// validate ensures the issuer configuration is usable.
func (c IssuerConfig) validate() error {
	switch {
	case c.SigningKey.IsZero():
		return errors.New("signing key is required")
	case c.RecipientKey.IsZero():
		return errors.New("recipient public key is required")
	}
	return nil
}

// ValidatorConfig describes all issuers the validator should trust.
type ValidatorConfig struct {
	Issuers []TrustedIssuer  `yaml:"issuers"`
	Clock   func() time.Time `yaml:"-"`
}

// TrustedIssuer contains validation parameters for one token issuer. Exactly
// one of JWKSURL and PublicKey must be set.
type TrustedIssuer struct {
	Name            string        `yaml:"name"`
	JWKSURL         string        `yaml:"jwks_url"`
	PublicKey       KeySource     `yaml:"public_key"`
	Issuer          string        `yaml:"issuer"`
	Audience        string        `yaml:"audience"`
	AllowedSubjects []string      `yaml:"allowed_subjects"`
	ClockSkew       time.Duration `yaml:"clock_skew"`
	MinRefresh      time.Duration `yaml:"min_refresh"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
}

// normalize sets default values for optional fields.
func (c *TrustedIssuer) normalize() {
	if c.ClockSkew <= 0 {
		c.ClockSkew = defaultClockSkew
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

// validate ensures the issuer configuration is usable.
func (c TrustedIssuer) validate() error {
	switch {
	case c.Name == "":
		return errors.New("issuer name is required")
	case c.JWKSURL == "" && c.PublicKey.IsZero():
		return errors.New("jwks url or public key is required")
	case c.JWKSURL != "" && !c.PublicKey.IsZero():
		return errors.New("jwks url and public key are mutually exclusive")
	}
	return nil
}

// issuerIndex returns the config mapped by issuer name.
func (c ValidatorConfig) issuerIndex() (map[string]TrustedIssuer, error) {
	if len(c.Issuers) == 0 {
		return nil, errors.New("at least one issuer must be configured")
	}
	index := make(map[string]TrustedIssuer, len(c.Issuers))
	for _, issuer := range c.Issuers {
		if err := issuer.validate(); err != nil {
			return nil, fmt.Errorf("issuer %q: %w", issuer.Name, err)
		}
		if _, exists := index[issuer.Name]; exists {
			return nil, fmt.Errorf("duplicate issuer name %q", issuer.Name)
		}
		clone := issuer
		clone.normalize()
		index[clone.Name] = clone
	}
	return index, nil
}

// LoadValidatorConfig reads trusted issuers from a YAML file:
//
//	issuers:
//	  - name: wxo
//	    jwks_url: https://example.com/.well-known/jwks.json
//	    clock_skew: 30s
//	  - name: local
//	    public_key:
//	      path: keys/public.pem
func LoadValidatorConfig(path string) (ValidatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ValidatorConfig{}, fmt.Errorf("read validator config: %w", err)
	}
	return ParseValidatorConfig(data)
}

// ParseValidatorConfig decodes YAML validator configuration and checks every
// issuer entry.
func ParseValidatorConfig(data []byte) (ValidatorConfig, error) {
	var cfg ValidatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ValidatorConfig{}, newError(ErrCodeInvalidArgument, fmt.Errorf("parse validator config: %w", err))
	}
	if _, err := cfg.issuerIndex(); err != nil {
		return ValidatorConfig{}, newError(ErrCodeInvalidArgument, err)
	}
	return cfg, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
