package jwtx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Validator validates RS256 tokens from configured issuers.
type Validator struct {
	mu            sync.RWMutex
	issuers       map[string]*issuerState
	defaultIssuer string
	clock         func() time.Time
}

type issuerState struct {
	cfg             TrustedIssuer
	cache           *jwk.Cache
	static          jwk.Key
	allowedSubjects map[string]struct{}
}

// NewValidator builds a validator from the given configuration.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	index, err := cfg.issuerIndex()
	if err != nil {
		return nil, err
	}

	defaultIssuer := ""
	if len(cfg.Issuers) == 1 {
		defaultIssuer = cfg.Issuers[0].Name
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	v := &Validator{
		issuers:       make(map[string]*issuerState, len(index)),
		defaultIssuer: defaultIssuer,
		clock:         clock,
	}
	for name, issuerCfg := range index {
		state := &issuerState{
			cfg:             issuerCfg,
			allowedSubjects: toSet(issuerCfg.AllowedSubjects),
		}
		if issuerCfg.JWKSURL == "" {
			pub, err := LoadPublicKey(issuerCfg.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("issuer %q: %w", name, err)
			}
			if state.static, err = publicJWK(pub); err != nil {
				return nil, fmt.Errorf("issuer %q: %w", name, err)
			}
		} else {
			cache := jwk.NewCache(context.Background())
			httpClient := &http.Client{
				Timeout: issuerCfg.HTTPTimeout,
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
				},
			}
			if err := cache.Register(
				issuerCfg.JWKSURL,
				jwk.WithMinRefreshInterval(issuerCfg.MinRefresh),
				jwk.WithHTTPClient(httpClient),
			); err != nil {
				return nil, fmt.Errorf("register jwks for %q: %w", name, err)
			}
			state.cache = cache
		}
		v.issuers[name] = state
	}

	return v, nil
}

// Warmup refreshes JWKS for the specified issuer. Static-key issuers are a no-op.
func (v *Validator) Warmup(ctx context.Context, issuerName string) error {
	state, ok := v.lookupIssuer(issuerName)
	if !ok {
		return newError(ErrCodeIssuerNotRegistered, fmt.Errorf("issuer %q not found", issuerName))
	}
	if state.cache == nil {
		return nil
	}
	refreshCtx := ctx
	if state.cfg.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(ctx, state.cfg.HTTPTimeout)
		defer cancel()
	}
	if _, err := state.cache.Refresh(refreshCtx, state.cfg.JWKSURL); err != nil {
		return newError(ErrCodeJWKSUnavailable, err)
	}
	return nil
}

// Validate verifies the token using the issuer identified by issuerName.
// An empty name selects the only configured issuer.
func (v *Validator) Validate(ctx context.Context, token, issuerName string) (*Claims, error) {
	if issuerName == "" {
		issuerName = v.defaultIssuer
	}
	if issuerName == "" {
		return nil, newError(ErrCodeIssuerNotRegistered, errors.New("issuer not specified"))
	}
	if token == "" {
		return nil, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}
	state, ok := v.lookupIssuer(issuerName)
	if !ok {
		return nil, newError(ErrCodeIssuerNotRegistered, fmt.Errorf("issuer %q not found", issuerName))
	}

	var keyOpt jwt.ParseOption
	if state.static != nil {
		keyOpt = jwt.WithKey(jwa.RS256, state.static)
	} else {
		keySet, err := state.cache.Get(ctx, state.cfg.JWKSURL)
		if err != nil {
			return nil, newError(ErrCodeJWKSUnavailable, err)
		}
		keyOpt = jwt.WithKeySet(keySet)
	}

	parsed, err := parseSigned([]byte(token), keyOpt)
	if err != nil {
		return nil, err
	}

	validateOpts := []jwt.ValidateOption{}
	if state.cfg.Issuer != "" {
		validateOpts = append(validateOpts, jwt.WithIssuer(state.cfg.Issuer))
	}
	if state.cfg.Audience != "" {
		validateOpts = append(validateOpts, jwt.WithAudience(state.cfg.Audience))
	}
	if err := validateTimes(parsed, v.clock, state.cfg.ClockSkew, validateOpts...); err != nil {
		return nil, err
	}

	claims := claimsFromToken(parsed)
	if !state.subjectAllowed(claims) {
		return nil, newError(ErrCodeSubjectNotAllowed, fmt.Errorf("subject %q not allowed", claims.Subject))
	}
	return claims, nil
}

func (v *Validator) lookupIssuer(name string) (*issuerState, bool) {
	if name == "" {
		name = v.defaultIssuer
	}
	if name == "" {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	state, ok := v.issuers[name]
	return state, ok
}

func (s *issuerState) subjectAllowed(claims *Claims) bool {
	if len(s.allowedSubjects) == 0 {
		return true
	}
	_, ok := s.allowedSubjects[strings.ToLower(claims.Subject)]
	return ok
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

// parseSigned verifies the signature only; time claims are checked by validateTimes.
func parseSigned(raw []byte, keyOpt jwt.ParseOption) (jwt.Token, error) {
	parsed, err := jwt.Parse(raw, keyOpt, jwt.WithValidate(false))
	if err == nil {
		return parsed, nil
	}
	if _, perr := jws.Parse(raw); perr != nil {
		return nil, newError(ErrCodeInvalidToken, perr)
	}
	return nil, newError(ErrCodeSignatureInvalid, err)
}

func validateTimes(token jwt.Token, clock func() time.Time, skew time.Duration, extra ...jwt.ValidateOption) error {
	opts := append([]jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(clock)),
		jwt.WithAcceptableSkew(skew),
	}, extra...)
	err := jwt.Validate(token, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired()):
		return newError(ErrCodeExpired, err)
	case errors.Is(err, jwt.ErrTokenNotYetValid()):
		return newError(ErrCodeNotYetValid, err)
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return newError(ErrCodeInvalidIssuer, err)
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return newError(ErrCodeInvalidAudience, err)
	}
	if mapped := classifyValidationError(err); mapped != nil {
		return mapped
	}
	return newError(ErrCodeInvalidToken, err)
}

func classifyValidationError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "token expired") || strings.Contains(lower, `"exp" not satisfied`):
		return newError(ErrCodeExpired, err)
	case strings.Contains(lower, `"nbf" not satisfied`):
		return newError(ErrCodeNotYetValid, err)
	}
	return nil
}
