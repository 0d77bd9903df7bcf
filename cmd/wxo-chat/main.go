package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/goccy/go-json"
	jwtx "github.com/ibelulu/wxo-jwtx"
	"github.com/ibelulu/wxo-jwtx/internal/envfile"
	"github.com/ibelulu/wxo-jwtx/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	logger := logging.New(logging.FromEnv("wxo-chat"))

	envPath := envfile.DefaultPath()
	if err := envfile.Load(envPath, logger); err != nil {
		logger.Warn("load env file", "path", envPath, "error", err)
	}

	host := pflag.String("host", envfile.Get("WATSON_HOST", ""), "Orchestrate host (env WATSON_HOST)")
	agentID := pflag.String("agent", envfile.Get("WATSON_AGENT_ID", ""), "Agent id (env WATSON_AGENT_ID)")
	envID := pflag.String("env", envfile.Get("WATSON_AGENT_ENV_ID", ""), "Agent environment id (env WATSON_AGENT_ENV_ID)")
	instanceID := pflag.String("instance", envfile.Get("WATSON_INSTANCE_ID", ""), "Instance id; selects the instance-scoped route (env WATSON_INSTANCE_ID)")
	apiKey := pflag.String("api-key", envfile.Get("IBM_API_KEY", ""), "Exchange this API key for tokens instead of signing locally (env IBM_API_KEY)")
	subject := pflag.String("subject", "", "Subject for locally signed tokens (default: demo identity)")
	agentContext := pflag.String("context", "", "JSON object passed as chat context")
	redisURL := pflag.String("redis", envfile.Get("REDIS_URL", ""), "Reuse the token cached in this Redis across runs (env REDIS_URL)")
	pflag.Parse()

	message := strings.TrimSpace(strings.Join(pflag.Args(), " "))
	if message == "" {
		fmt.Fprintln(os.Stderr, "usage: wxo-chat [flags] <message>")
		os.Exit(2)
	}

	issue, err := tokenSource(*apiKey, *subject, logger)
	if err != nil {
		fatal(logger, "configure tokens", err)
	}
	cacheCfg := jwtx.CacheConfig{Issue: issue, Logger: logger}
	if *redisURL != "" {
		redisOpts, err := redis.ParseURL(*redisURL)
		if err != nil {
			fatal(logger, "parse redis url", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		store, err := jwtx.NewRedisStore(rdb, "", "wxo-chat:"+*agentID)
		if err != nil {
			fatal(logger, "create token store", err)
		}
		cacheCfg.Store = store
	}
	cache, err := jwtx.NewTokenCache(cacheCfg)
	if err != nil {
		fatal(logger, "create token cache", err)
	}

	client, err := jwtx.NewAgentClient(jwtx.AgentConfig{
		Host:          *host,
		AgentID:       *agentID,
		EnvironmentID: *envID,
		InstanceID:    *instanceID,
		Tokens:        cache,
		Logger:        logger,
	})
	if err != nil {
		fatal(logger, "create agent client", err)
	}

	var extra map[string]any
	if *agentContext != "" {
		if err := json.Unmarshal([]byte(*agentContext), &extra); err != nil {
			fatal(logger, "parse -context", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reply, err := client.Send(ctx, []jwtx.ChatMessage{{Role: "user", Content: message}}, extra)
	if err != nil {
		fatal(logger, "send message", err)
	}
	logger.Debug("reply received", "thread_id", reply.ThreadID, "request_id", reply.RequestID)
	fmt.Println(reply.Content)
}

// tokenSource prefers API key exchange; without a key tokens are signed
// locally from the WATSON_* and IBM_* key settings.
func tokenSource(apiKey, subject string, logger *slog.Logger) (jwtx.IssueFunc, error) {
	if apiKey != "" {
		return jwtx.APIKeyExchange(jwtx.APIKeyExchangeConfig{
			Endpoint: envfile.Get("IBM_TOKEN_ENDPOINT", jwtx.DefaultAPIKeyEndpoint),
			APIKey:   apiKey,
		})
	}

	cfg := jwtx.IssuerConfigFromEnv()
	cfg.Logger = logger
	issuer, err := jwtx.NewIssuer(cfg)
	if err != nil {
		return nil, err
	}
	demo := jwtx.DefaultDemoIdentity()
	if subject != "" {
		demo.Subject = subject
	}
	return issuer.IssueFunc(demo.Subject, demo.Options()...), nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
