package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	jwtx "github.com/ibelulu/wxo-jwtx"
	"github.com/ibelulu/wxo-jwtx/internal/envfile"
	"github.com/ibelulu/wxo-jwtx/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type server struct {
	issuer   *jwtx.Issuer
	provider *jwtx.Provider
	demo     jwtx.DemoIdentity
	logger   *slog.Logger
}

func main() {
	logger := logging.New(logging.FromEnv("wxo-server"))

	envPath := envfile.DefaultPath()
	if err := envfile.Load(envPath, logger); err != nil {
		logger.Warn("load env file", "path", envPath, "error", err)
	}

	addr := pflag.String("addr", envfile.Get("ADDR", ":5000"), "Listen address (env ADDR)")
	hours := pflag.Float64("hours", 24, "Validity of demo tokens in hours")
	issuersPath := pflag.String("issuers", envfile.Get("TRUSTED_ISSUERS_FILE", ""), "YAML file of extra trusted issuers served under /api/whoami/{name} (env TRUSTED_ISSUERS_FILE)")
	demoWhoami := pflag.Bool("demo-whoami", envfile.Get("DEMO_WHOAMI", "") == "true", "Answer unauthenticated /api/whoami with the demo identity (env DEMO_WHOAMI=true)")
	redisURL := pflag.String("redis", envfile.Get("REDIS_URL", ""), "Share issued tokens through this Redis (env REDIS_URL)")
	pflag.Parse()

	cfg := jwtx.IssuerConfigFromEnv()
	cfg.Logger = logger
	issuer, err := jwtx.NewIssuer(cfg)
	if err != nil {
		logger.Error("create issuer", "error", err)
		os.Exit(1)
	}

	opts := handlerOptions{
		verifyKey: cfg.SigningKey,
		demo:      jwtx.DefaultDemoIdentity(),
		hours:     *hours,
		demoAuth:  *demoWhoami,
	}
	if *issuersPath != "" {
		extra, err := jwtx.LoadValidatorConfig(*issuersPath)
		if err != nil {
			logger.Error("load trusted issuers", "path", *issuersPath, "error", err)
			os.Exit(1)
		}
		opts.trusted = extra.Issuers
	}
	if *redisURL != "" {
		redisOpts, err := redis.ParseURL(*redisURL)
		if err != nil {
			logger.Error("parse redis url", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		opts.stores = jwtx.RedisStores(rdb, "wxo-server")
	}

	handler, err := newHandler(issuer, opts, logger)
	if err != nil {
		logger.Error("build handler", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

type handlerOptions struct {
	// verifyKey is the signing key source; only its public half is used.
	verifyKey jwtx.KeySource
	demo      jwtx.DemoIdentity
	hours     float64
	trusted   []jwtx.TrustedIssuer
	stores    jwtx.StoreFactory

	// demoAuth lets requests without Authorization act as the demo identity.
	demoAuth bool
}

const selfIssuer = "self"

// newHandler wires the demo routes.
func newHandler(issuer *jwtx.Issuer, opts handlerOptions, logger *slog.Logger) (http.Handler, error) {
	issueOpts := append(opts.demo.Options(), jwtx.WithValidityHours(opts.hours))
	provider, err := jwtx.NewProvider(jwtx.ProviderConfig{
		Factory: jwtx.IssuerFactory(issuer, issueOpts...),
		Stores:  opts.stores,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	trusted := append([]jwtx.TrustedIssuer{{Name: selfIssuer, PublicKey: opts.verifyKey}}, opts.trusted...)
	validator, err := jwtx.NewValidator(jwtx.ValidatorConfig{Issuers: trusted})
	if err != nil {
		return nil, err
	}

	s := &server{issuer: issuer, provider: provider, demo: opts.demo, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /api/token", s.token)
	mux.HandleFunc("GET /.well-known/jwks.json", s.jwks)
	var self http.Handler = jwtx.Middleware(validator, selfIssuer)(http.HandlerFunc(s.whoami))
	if opts.demoAuth {
		self = s.demoFallback(self)
	}
	mux.Handle("GET /api/whoami", self)
	for _, ti := range opts.trusted {
		mux.Handle("GET /api/whoami/"+ti.Name, jwtx.Middleware(validator, ti.Name)(http.HandlerFunc(s.whoami)))
	}
	return mux, nil
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *server) token(w http.ResponseWriter, r *http.Request) {
	cache, err := s.provider.Cache(s.demo.Subject)
	if err != nil {
		s.fail(w, err)
		return
	}
	tok, err := cache.Current(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok.Value,
		"user_id":    s.demo.Subject,
		"expires_at": tok.ExpiresAt.Unix(),
	})
}

func (s *server) jwks(w http.ResponseWriter, _ *http.Request) {
	set, err := s.issuer.JWKS()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *server) whoami(w http.ResponseWriter, r *http.Request) {
	caller, _ := jwtx.CallerClaimsFromContext(r.Context())
	body := map[string]any{
		"subject": caller.Claims.Subject,
		"context": caller.Claims.Context,
		"demo":    caller.Demo,
	}
	if !caller.Claims.ExpiresAt.IsZero() {
		body["expires_at"] = caller.Claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, body)
}

// demoFallback binds the demo identity when the request carries no
// Authorization header; anything else goes through next.
func (s *server) demoFallback(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			next.ServeHTTP(w, r)
			return
		}
		s.logger.Debug("serving demo identity", "path", r.URL.Path)
		ctx := jwtx.BindCallerClaims(r.Context(), s.demo.ToCallerClaims())
		s.whoami(w, r.WithContext(ctx))
	})
}

func (s *server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	code := jwtx.CodeOf(err)
	if code == "" {
		code = jwtx.ErrCodeInternal
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(code)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
