package jwtx

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

type callerClaimsKey struct{}

// CallerClaims represents the caller context stored during JWT validation.
type CallerClaims struct {
	Claims *Claims
	Demo   bool
}

// BindCallerClaims stores caller claims inside the context for downstream consumers.
func BindCallerClaims(ctx context.Context, claims CallerClaims) context.Context {
	return context.WithValue(ctx, callerClaimsKey{}, claims)
}

// CallerClaimsFromContext retrieves caller claims previously stored in the context.
func CallerClaimsFromContext(ctx context.Context) (CallerClaims, bool) {
	if ctx == nil {
		return CallerClaims{}, false
	}
	value := ctx.Value(callerClaimsKey{})
	if value == nil {
		return CallerClaims{}, false
	}
	claims, ok := value.(CallerClaims)
	return claims, ok
}

// Middleware validates the request's bearer token against issuerName and
// binds the resulting claims to the request context. Failures answer 401
// with {"error": code}.
func Middleware(v *Validator, issuerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, ErrCodeInvalidToken)
				return
			}
			claims, err := v.Validate(r.Context(), token, issuerName)
			if err != nil {
				code := CodeOf(err)
				if code == "" {
					code = ErrCodeInternal
				}
				writeAuthError(w, code)
				return
			}
			ctx := BindCallerClaims(r.Context(), CallerClaims{Claims: claims})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, code ErrorCode) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(code)})
}
