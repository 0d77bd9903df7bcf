package jwtx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrivateKeyFromPEMAndFile(t *testing.T) {
	signing, _ := testKeys(t)
	pemText := privatePEM(t, signing)

	fromPEM, err := LoadPrivateKey(KeyFromPEM(pemText))
	if err != nil {
		t.Fatalf("LoadPrivateKey inline: %v", err)
	}
	if !fromPEM.Equal(signing) {
		t.Fatal("inline key does not match")
	}

	path := filepath.Join(t.TempDir(), "jwtRS256.key")
	if err := os.WriteFile(path, []byte(pemText), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	fromFile, err := LoadPrivateKey(KeyFromFile(path))
	if err != nil {
		t.Fatalf("LoadPrivateKey file: %v", err)
	}
	if !fromFile.Equal(signing) {
		t.Fatal("file key does not match")
	}
}

func TestLoadPrivateKeyEscapedNewlines(t *testing.T) {
	signing, _ := testKeys(t)
	escaped := strings.ReplaceAll(strings.TrimSpace(privatePEM(t, signing)), "\n", `\n`)

	key, err := LoadPrivateKey(KeyFromPEM(escaped))
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if !key.Equal(signing) {
		t.Fatal("key does not match")
	}
}

func TestLoadPublicKeyAcceptsPrivateKey(t *testing.T) {
	_, recipient := testKeys(t)

	pub, err := LoadPublicKey(KeyFromPEM(privatePEM(t, recipient)))
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if !pub.Equal(&recipient.PublicKey) {
		t.Fatal("public key does not match")
	}
}

func TestLoadKeyErrors(t *testing.T) {
	signing, _ := testKeys(t)
	valid := privatePEM(t, signing)
	corrupted := strings.Replace(valid, valid[40:60], strings.Repeat("!", 20), 1)

	tests := []struct {
		name string
		load func() error
	}{
		{"missing file", func() error {
			_, err := LoadPrivateKey(KeyFromFile(filepath.Join(t.TempDir(), "absent.pem")))
			return err
		}},
		{"not pem", func() error {
			_, err := LoadPrivateKey(KeyFromPEM("definitely not a key"))
			return err
		}},
		{"corrupted pem", func() error {
			_, err := LoadPrivateKey(KeyFromPEM(corrupted))
			return err
		}},
		{"public key used for signing", func() error {
			_, err := LoadPrivateKey(KeyFromPEM(publicPEM(t, &signing.PublicKey)))
			return err
		}},
		{"empty source", func() error {
			_, err := LoadPublicKey(KeySource{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, tt.load(), ErrCodeKeyLoad)
		})
	}
}
