package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/metricsx"
)

var (
	ErrNotConfigured = errors.New("ai client not initialized")
	ErrCircuitOpen   = errors.New("ai circuit open")
	ErrEmptyResponse = errors.New("ai returned no choices")
)

// CollaboratorError wraps every failure of a completion call.
type CollaboratorError struct {
	Attempts int
	Err      error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("ai collaborator failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Messages []Message
	// JSON asks the provider for a JSON object response.
	JSON bool
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	api         chatAPI
	model       string
	timeout     time.Duration
	retryMax    int
	maxTokens   int
	temperature float32
	breaker     *circuitBreaker
}

func New(cfg config.Config) (*Client, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return newClient(openai.NewClientWithConfig(oc), cfg), nil
}

func newClient(api chatAPI, cfg config.Config) *Client {
	return &Client{
		api:         api,
		model:       cfg.OpenAIModel,
		timeout:     time.Duration(cfg.AITimeoutMS) * time.Millisecond,
		retryMax:    cfg.AIRetryMax,
		maxTokens:   cfg.AIMaxTokens,
		temperature: 0.2,
		breaker:     newCircuitBreaker(5, 30*time.Second),
	}
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete sends one chat completion and returns the first choice's text.
// Transport errors, 429 and 5xx responses are retried up to retryMax times.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil || c.api == nil {
		return "", &CollaboratorError{Err: ErrNotConfigured}
	}
	if c.breaker.Open() {
		metricsx.IncAIFailure()
		return "", &CollaboratorError{Err: ErrCircuitOpen}
	}

	ctx, span := otel.Tracer("ai").Start(ctx, "ai.complete")
	span.SetAttributes(attribute.String("ai.model", c.model), attribute.Bool("ai.json", req.JSON))
	defer span.End()

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++
		out, err := c.once(ctx, chatReq)
		if err == nil {
			c.breaker.Success()
			metricsx.IncAISuccess()
			metricsx.ObserveAILatency(time.Since(start))
			span.SetAttributes(attribute.Int("ai.attempts", attempts))
			return out, nil
		}
		lastErr = err
		c.breaker.Fail()
		if !retryable(err) {
			break
		}
	}
	metricsx.IncAIFailure()
	span.RecordError(lastErr)
	return "", &CollaboratorError{Attempts: attempts, Err: lastErr}
}

func (c *Client) once(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Probe is a connectivity check used by the debug route.
func (c *Client) Probe(ctx context.Context) (string, error) {
	return c.Complete(ctx, Request{Messages: []Message{
		{Role: RoleSystem, Content: "You are a connectivity probe."},
		{Role: RoleUser, Content: "Reply with the single word: pong"},
	}})
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
	now           func() time.Time
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset, now: time.Now}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if b.now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
