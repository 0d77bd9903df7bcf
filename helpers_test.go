package jwtx

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	keysOnce     sync.Once
	keysErr      error
	signingKey   *rsa.PrivateKey
	recipientKey *rsa.PrivateKey
)

// testKeys returns a signing key and the agent platform's key pair, generated
// once per test binary.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		if signingKey, keysErr = rsa.GenerateKey(rand.Reader, 2048); keysErr != nil {
			return
		}
		recipientKey, keysErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keysErr != nil {
		t.Fatalf("generate keys: %v", keysErr)
	}
	return signingKey, recipientKey
}

func privatePEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func publicPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 26, 13, 32, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	signing, recipient := testKeys(t)
	cfg := IssuerConfig{
		SigningKey:   KeyFromPEM(privatePEM(t, signing)),
		RecipientKey: KeyFromPEM(publicPEM(t, &recipient.PublicKey)),
	}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	issuer, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

// decodeUnverified parses a compact token without checking anything.
func decodeUnverified(t *testing.T, token string) jwt.Token {
	t.Helper()
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return parsed
}

func expectCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("expected %s, got %q (%v)", code, got, err)
	}
}

func tamperSignature(token string, pos int) string {
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[pos] == 'A' {
		sig[pos] = 'B'
	} else {
		sig[pos] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}
