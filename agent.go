package jwtx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrNoReply is returned when the agent answers without any choices.
var ErrNoReply = errors.New("agent returned no choices")

const defaultAgentTimeout = 60 * time.Second

// AgentConfig locates an Orchestrate agent's chat completions endpoint.
// With InstanceID set the instance-scoped route is used, otherwise the
// agent/environment route.
type AgentConfig struct {
	Host          string
	AgentID       string
	EnvironmentID string
	InstanceID    string

	Tokens      *TokenCache
	HTTPTimeout time.Duration
	Transport   http.RoundTripper
	Logger      *slog.Logger
}

func (c *AgentConfig) normalize() {
	c.Host = strings.TrimRight(c.Host, "/")
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultAgentTimeout
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

func (c AgentConfig) validate() error {
	switch {
	case c.Host == "":
		return errors.New("agent host is required")
	case c.AgentID == "":
		return errors.New("agent id is required")
	case c.InstanceID == "" && c.EnvironmentID == "":
		return errors.New("environment id or instance id is required")
	case c.Tokens == nil:
		return errors.New("token cache is required")
	}
	return nil
}

func (c AgentConfig) endpoint() string {
	if c.InstanceID != "" {
		return fmt.Sprintf("%s/instances/%s/v1/orchestrate/%s/chat/completions",
			c.Host, url.PathEscape(c.InstanceID), url.PathEscape(c.AgentID))
	}
	return fmt.Sprintf("%s/api/v1/agents/%s/environments/%s/chat/completions",
		c.Host, url.PathEscape(c.AgentID), url.PathEscape(c.EnvironmentID))
}

// ChatMessage is one turn of the conversation sent to the agent.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the agent's first choice.
type Reply struct {
	Content   string
	ThreadID  string
	RequestID string
}

// AgentClient talks to the chat completions API with cached bearer tokens.
type AgentClient struct {
	cfg      AgentConfig
	endpoint string
}

// NewAgentClient validates cfg and returns a client.
func NewAgentClient(cfg AgentConfig) (*AgentClient, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeInvalidArgument, err)
	}
	return &AgentClient{cfg: cfg, endpoint: cfg.endpoint()}, nil
}

type chatRequest struct {
	Messages []ChatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Context  map[string]any `json:"context,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	ThreadID string `json:"thread_id"`
}

// Send posts messages and returns the agent's reply. A 401 drops the cached
// token and the request is retried once with a fresh one.
func (a *AgentClient) Send(ctx context.Context, messages []ChatMessage, agentContext map[string]any) (*Reply, error) {
	if len(messages) == 0 {
		return nil, newError(ErrCodeInvalidArgument, errors.New("at least one message is required"))
	}
	body, err := json.Marshal(chatRequest{Messages: messages, Context: agentContext})
	if err != nil {
		return nil, newError(ErrCodeInternal, err)
	}
	requestID := uuid.NewString()
	logger := a.cfg.Logger.With(slog.String("request_id", requestID))

	status, payload, err := a.post(ctx, body, requestID)
	if err == nil && status == http.StatusUnauthorized {
		logger.Warn("agent rejected token, retrying with a fresh one")
		a.cfg.Tokens.Invalidate()
		status, payload, err = a.post(ctx, body, requestID)
	}
	if err != nil {
		var jerr *Error
		if errors.As(err, &jerr) {
			return nil, jerr
		}
		return nil, newError(ErrCodeAgentRequest, err)
	}
	if status/100 != 2 {
		return nil, newError(ErrCodeAgentRequest, fmt.Errorf("status %d: %s", status, truncate(string(payload), 512)))
	}

	var resp chatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, newError(ErrCodeAgentRequest, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoReply
	}
	logger.Debug("agent replied", slog.String("thread_id", resp.ThreadID))
	return &Reply{
		Content:   contentText(resp.Choices[0].Message.Content),
		ThreadID:  resp.ThreadID,
		RequestID: requestID,
	}, nil
}

func (a *AgentClient) post(ctx context.Context, body []byte, requestID string) (int, []byte, error) {
	client := &http.Client{
		Timeout: a.cfg.HTTPTimeout,
		Transport: &oauth2.Transport{
			Source: a.cfg.Tokens.TokenSource(ctx),
			Base:   a.cfg.Transport,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// contentText accepts either a plain string or a list of {text} parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
