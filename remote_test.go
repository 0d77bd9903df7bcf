package jwtx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestAPIKeyExchange(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"accessToken":"iam-token","expires_at":1769500000}`))
	}))
	t.Cleanup(server.Close)

	issue, err := APIKeyExchange(APIKeyExchangeConfig{Endpoint: server.URL, APIKey: "secret-key"})
	if err != nil {
		t.Fatalf("APIKeyExchange: %v", err)
	}
	tok, err := issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if gotBody["apikey"] != "secret-key" {
		t.Fatalf("unexpected request body: %v", gotBody)
	}
	if tok.Value != "iam-token" {
		t.Fatalf("unexpected token: %s", tok.Value)
	}
	if tok.ExpiresAt.Unix() != 1769500000 {
		t.Fatalf("unexpected expiry: %v", tok.ExpiresAt)
	}
}

func TestAPIKeyExchangeExpiryFromJWT(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)
	jwtToken, err := issuer.Issue("service", WithValidity(2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": jwtToken})
	}))
	t.Cleanup(server.Close)

	issue, err := APIKeyExchange(APIKeyExchangeConfig{Endpoint: server.URL, APIKey: "k", Clock: clock.Now})
	if err != nil {
		t.Fatalf("APIKeyExchange: %v", err)
	}
	tok, err := issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := clock.Now().Add(2 * time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry from exp claim %v, got %v", want, tok.ExpiresAt)
	}
}

func TestAPIKeyExchangeFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, "401"},
		{"no token", http.StatusOK, `{"expires_in":3600}`, "did not include a token"},
		{"garbage", http.StatusOK, `not json`, "decode token response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(server.Close)

			issue, err := APIKeyExchange(APIKeyExchangeConfig{Endpoint: server.URL, APIKey: "k"})
			if err != nil {
				t.Fatalf("APIKeyExchange: %v", err)
			}
			_, err = issue(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	_, err := APIKeyExchange(APIKeyExchangeConfig{})
	expectCode(t, err, ErrCodeInvalidArgument)
}

func TestAPIKeyExchangeHonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	issue, err := APIKeyExchange(APIKeyExchangeConfig{
		Endpoint:    server.URL,
		APIKey:      "k",
		HTTPTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("APIKeyExchange: %v", err)
	}
	cache, err := NewTokenCache(CacheConfig{Issue: issue})
	if err != nil {
		t.Fatalf("NewTokenCache: %v", err)
	}

	start := time.Now()
	_, err = cache.Token(context.Background())
	expectCode(t, err, ErrCodeTokenUnavailable)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not applied, took %v", elapsed)
	}
}

func TestEdgeFunctionSource(t *testing.T) {
	clock := newFakeClock()
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"token":"edge-token"}`))
	}))
	t.Cleanup(server.Close)

	issue, err := EdgeFunctionSource(EdgeFunctionConfig{
		URL:        server.URL + "/functions/v1/watson-token",
		ServiceKey: "service-role",
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("EdgeFunctionSource: %v", err)
	}
	tok, err := issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if auth != "Bearer service-role" {
		t.Fatalf("unexpected authorization header: %q", auth)
	}
	if tok.Value != "edge-token" {
		t.Fatalf("unexpected token: %s", tok.Value)
	}
	if want := clock.Now().Add(time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expected default one hour lifetime, got %v", tok.ExpiresAt)
	}

	_, err = EdgeFunctionSource(EdgeFunctionConfig{URL: server.URL})
	expectCode(t, err, ErrCodeInvalidArgument)
}
