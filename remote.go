package jwtx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultAPIKeyEndpoint exchanges an IBM API key for an Orchestrate token.
const DefaultAPIKeyEndpoint = "https://iam.platform.saas.ibm.com/siusermgr/api/1.0/apikeys/token"

const defaultRemoteLifetime = time.Hour

// APIKeyExchangeConfig configures token issuance by API key exchange.
type APIKeyExchangeConfig struct {
	Endpoint    string
	APIKey      string
	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	Clock       func() time.Time
}

// EdgeFunctionConfig configures token issuance through a Supabase edge
// function that answers {token, expires_at}.
type EdgeFunctionConfig struct {
	URL         string
	ServiceKey  string
	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	Clock       func() time.Time
}

type remoteClient struct {
	http    *http.Client
	timeout time.Duration
	clock   func() time.Time
}

func newRemoteClient(client *http.Client, timeout time.Duration, clock func() time.Time) remoteClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if clock == nil {
		clock = time.Now
	}
	return remoteClient{http: client, timeout: timeout, clock: clock}
}

// APIKeyExchange returns an IssueFunc posting {"apikey": ...} to the IAM
// endpoint.
func APIKeyExchange(cfg APIKeyExchangeConfig) (IssueFunc, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("api key is required"))
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultAPIKeyEndpoint
	}
	rc := newRemoteClient(cfg.HTTPClient, cfg.HTTPTimeout, cfg.Clock)
	body := map[string]string{"apikey": cfg.APIKey}
	return func(ctx context.Context) (Token, error) {
		return rc.fetch(ctx, endpoint, body, nil)
	}, nil
}

// EdgeFunctionSource returns an IssueFunc calling the edge function with the
// service key as bearer.
func EdgeFunctionSource(cfg EdgeFunctionConfig) (IssueFunc, error) {
	switch {
	case strings.TrimSpace(cfg.URL) == "":
		return nil, newError(ErrCodeInvalidArgument, errors.New("edge function url is required"))
	case strings.TrimSpace(cfg.ServiceKey) == "":
		return nil, newError(ErrCodeInvalidArgument, errors.New("service key is required"))
	}
	rc := newRemoteClient(cfg.HTTPClient, cfg.HTTPTimeout, cfg.Clock)
	headers := map[string]string{"Authorization": "Bearer " + cfg.ServiceKey}
	return func(ctx context.Context) (Token, error) {
		return rc.fetch(ctx, cfg.URL, map[string]string{}, headers)
	}, nil
}

type remoteTokenResponse struct {
	Token            string   `json:"token"`
	AccessToken      string   `json:"access_token"`
	AccessTokenCamel string   `json:"accessToken"`
	ExpiresAt        *float64 `json:"expires_at"`
	ExpiresIn        *float64 `json:"expires_in"`
}

func (r remoteTokenResponse) value() string {
	for _, v := range []string{r.Token, r.AccessToken, r.AccessTokenCamel} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (rc remoteClient) fetch(ctx context.Context, endpoint string, body any, headers map[string]string) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := rc.http.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, fmt.Errorf("token endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	var out remoteTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	value := out.value()
	if value == "" {
		return Token{}, errors.New("response did not include a token")
	}
	return Token{Value: value, ExpiresAt: rc.expiry(out, value)}, nil
}

// expiry prefers expires_at, then expires_in, then the token's own exp claim.
func (rc remoteClient) expiry(resp remoteTokenResponse, value string) time.Time {
	now := rc.clock()
	switch {
	case resp.ExpiresAt != nil && *resp.ExpiresAt > 0:
		return time.Unix(int64(*resp.ExpiresAt), 0)
	case resp.ExpiresIn != nil && *resp.ExpiresIn > 0:
		return now.Add(time.Duration(*resp.ExpiresIn * float64(time.Second)))
	}
	if parsed, err := jwt.Parse([]byte(value), jwt.WithVerify(false), jwt.WithValidate(false)); err == nil {
		if exp := parsed.Expiration(); !exp.IsZero() {
			return exp
		}
	}
	return now.Add(defaultRemoteLifetime)
}
