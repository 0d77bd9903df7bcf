package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
	jwtx "github.com/ibelulu/wxo-jwtx"
	"github.com/ibelulu/wxo-jwtx/internal/envfile"
	"github.com/ibelulu/wxo-jwtx/internal/logging"
	"github.com/spf13/pflag"
)

func main() {
	logger := logging.New(logging.FromEnv("wxo-token"))

	envPath := envfile.DefaultPath()
	if err := envfile.Load(envPath, logger); err != nil {
		logger.Warn("load env file", "path", envPath, "error", err)
	}

	privateKeyPath := pflag.String("private-key", os.Getenv(jwtx.EnvPrivateKeyPath), "Path to the RS256 signing key (env WATSON_PRIVATE_KEY_PATH; WATSON_PRIVATE_KEY wins)")
	publicKeyPath := pflag.String("ibm-public-key", os.Getenv(jwtx.EnvPublicKeyPath), "Path to the agent platform public key (env IBM_PUBLIC_KEY_PATH; IBM_PUBLIC_KEY wins)")
	subject := pflag.String("subject", "demo-user-123", "Token subject (sub claim)")
	userData := pflag.String("user-data", `{"email":"demo@example.com","name":"Demo User","role":"test_user"}`, "JSON object encrypted into user_payload")
	agentContext := pflag.String("context", "", "JSON object sent unencrypted as the context claim")
	hours := pflag.Float64("hours", 24, "Token validity in hours")
	verify := pflag.Bool("verify", true, "Verify the token and print its claims")
	printJWKS := pflag.Bool("jwks", false, "Print the signing key as a JWK set and exit")
	pflag.Parse()

	cfg := jwtx.IssuerConfigFromEnv()
	cfg.SigningKey.Path = *privateKeyPath
	cfg.RecipientKey.Path = *publicKeyPath
	cfg.Logger = logger

	issuer, err := jwtx.NewIssuer(cfg)
	if err != nil {
		fatal(logger, "create issuer", err)
	}

	if *printJWKS {
		set, err := issuer.JWKS()
		if err != nil {
			fatal(logger, "build jwks", err)
		}
		out, _ := json.MarshalIndent(set, "", "  ")
		fmt.Println(string(out))
		return
	}

	opts := []jwtx.IssueOption{jwtx.WithValidityHours(*hours)}
	if m, err := parseObject(*userData); err != nil {
		fatal(logger, "parse -user-data", err)
	} else if m != nil {
		opts = append(opts, jwtx.WithUserData(m))
	}
	if m, err := parseObject(*agentContext); err != nil {
		fatal(logger, "parse -context", err)
	} else if m != nil {
		opts = append(opts, jwtx.WithAgentContext(m))
	}

	token, err := issuer.IssueToken(context.Background(), *subject, opts...)
	if err != nil {
		fatal(logger, "issue token", err)
	}
	fmt.Println(token.Value)

	if !*verify {
		return
	}
	claims, err := issuer.Verify(context.Background(), token.Value)
	if err != nil {
		fatal(logger, "verify token", err)
	}
	printClaims(claims)
}

func parseObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func printClaims(claims *jwtx.Claims) {
	fmt.Fprintln(os.Stderr, "== Agent identity token verified ==")
	fmt.Fprintf(os.Stderr, "subject      : %s\n", claims.Subject)
	fmt.Fprintf(os.Stderr, "issued_at    : %s\n", claims.IssuedAt.Format(time.RFC3339))
	fmt.Fprintf(os.Stderr, "expires_at   : %s\n", claims.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(os.Stderr, "lifetime     : %s\n", claims.Lifetime())
	if claims.UserPayload != "" {
		fmt.Fprintf(os.Stderr, "user_payload : %d bytes (encrypted)\n", len(claims.UserPayload))
	}
	if len(claims.Context) > 0 {
		fmt.Fprintln(os.Stderr, "context:")
		keys := make([]string, 0, len(claims.Context))
		for k := range claims.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", k, claims.Context[k])
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err, "code", string(jwtx.CodeOf(err)))
	os.Exit(1)
}
