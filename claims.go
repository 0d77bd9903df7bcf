package jwtx

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claim names carried by agent identity tokens beyond the registered ones.
const (
	ClaimUserPayload = "user_payload"
	ClaimContext     = "context"
)

// Claims represents a decoded agent identity token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time
	JWTID     string

	// UserPayload is the base64 RSA-OAEP ciphertext of the user attributes.
	UserPayload string
	// Context is visible to the agent as issued.
	Context map[string]any

	CustomClaims map[string]any
}

// Lifetime returns ExpiresAt - IssuedAt.
func (c *Claims) Lifetime() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

func claimsFromToken(token jwt.Token) *Claims {
	private := token.PrivateClaims()
	var audience []string
	if aud := token.Audience(); len(aud) > 0 {
		audience = append([]string(nil), aud...)
	}
	claims := &Claims{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		Audience:  audience,
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
		NotBefore: token.NotBefore(),
		JWTID:     token.JwtID(),
	}
	if v, ok := private[ClaimUserPayload].(string); ok {
		claims.UserPayload = v
	}
	if m := toMap(private[ClaimContext]); m != nil {
		claims.Context = m
	}
	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, v := range private {
			claims.CustomClaims[k] = v
		}
	}
	return claims
}

func toMap(value any) map[string]any {
	switch m := value.(type) {
	case map[string]any:
		return cloneMap(m)
	default:
		return nil
	}
}
