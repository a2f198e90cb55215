// Package gateway is the single boundary to the model-serving layer. It maps
// a named role to a configured model endpoint, invokes the completions API,
// and classifies failures so callers can tell transient from permanent.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aicouncil/council-orchestrator/internal/config"
)

// Role names one pipeline responsibility with its own model endpoint
type Role string

const (
	RolePlanner   Role = "planner"
	RoleContext   Role = "context"
	RoleGenerator Role = "generator"
	RoleRefiner   Role = "refiner"
	RoleReviewer  Role = "reviewer"
)

// Response is the result of one model invocation
type Response struct {
	Text   string
	Parsed json.RawMessage // set when a schema hint was supplied and parsing succeeded
}

// completer is the slice of the OpenAI-compatible client the gateway needs
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client invokes model roles with retry and timeout handling.
// It never persists anything; artifacts are the caller's concern.
type Client struct {
	api        completer
	models     map[Role]string
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	debug      bool
}

// New creates a Client from gateway configuration
func New(cfg config.GatewayConfig, debug bool) *Client {
	oc := openai.DefaultConfig(cfg.APIKey())
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	models := make(map[Role]string, len(cfg.Roles))
	for role, model := range cfg.Roles {
		models[Role(role)] = model
	}

	return &Client{
		api:        openai.NewClientWithConfig(oc),
		models:     models,
		timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		debug:      debug,
	}
}

// Invoke sends prompt to the model configured for role. If schemaHint is
// non-nil, the response text must contain a JSON value unmarshalable into it;
// failure to parse is a MalformedResponse and is not retried here.
func (c *Client) Invoke(ctx context.Context, role Role, prompt string, schemaHint interface{}) (*Response, error) {
	if prompt == "" {
		return nil, fmt.Errorf("empty prompt for role %s", role)
	}
	model, ok := c.models[role]
	if !ok {
		return nil, fmt.Errorf("role %s has no configured model endpoint", role)
	}

	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := c.baseDelay * time.Duration(1<<(i-1))
			if c.debug {
				log.Printf("[gateway] retrying role %s in %s (attempt %d/%d)", role, delay, i+1, attempts)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.invokeOnce(ctx, role, model, prompt)
		if err == nil {
			return c.finish(role, resp, schemaHint)
		}

		var gwErr *Error
		if errors.As(err, &gwErr) && !gwErr.Transient() {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) invokeOnce(ctx context.Context, role Role, model, prompt string) (string, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", &Error{Kind: classify(err), Role: role, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindMalformedResponse, Role: role, Err: fmt.Errorf("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) finish(role Role, text string, schemaHint interface{}) (*Response, error) {
	resp := &Response{Text: text}
	if schemaHint == nil {
		return resp, nil
	}

	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Role: role, Err: err}
	}
	if err := json.Unmarshal(raw, schemaHint); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Role: role, Err: fmt.Errorf("schema parse: %w", err)}
	}
	resp.Parsed = raw
	return resp, nil
}

// classify maps transport and API errors onto the gateway taxonomy
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return KindUpstreamError
}

func classifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthFailure
	case status == 429:
		return KindRateLimited
	case status == 408:
		return KindTimeout
	default:
		return KindUpstreamError
	}
}

// ExtractJSON pulls the first JSON object or array out of model output,
// tolerating markdown code fences and surrounding prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := text
	if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			s = rest[:end]
		}
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON value in response")
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return nil, fmt.Errorf("unterminated JSON value in response")
	}

	candidate := strings.TrimSpace(s[start : end+1])
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("invalid JSON in response")
	}
	return json.RawMessage(candidate), nil
}
