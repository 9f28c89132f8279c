package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"sentinelai-backend/shared/config"
)

type fakeChat struct {
	errs  []error
	reply string
	calls int
	last  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.last = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func testConfig() config.Config {
	cfg := config.Default("api", 8080)
	cfg.AIRetryMax = 2
	cfg.AITimeoutMS = 1000
	return cfg
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	api := &fakeChat{
		errs:  []error{&openai.APIError{HTTPStatusCode: http.StatusBadGateway}},
		reply: `{"summary":"ok"}`,
	}
	c := newClient(api, testConfig())
	out, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"summary":"ok"}` || api.calls != 2 {
		t.Fatalf("unexpected result %q after %d calls", out, api.calls)
	}
	if api.last.ResponseFormat == nil || api.last.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatalf("expected JSON response format")
	}
	if api.last.Model != "gpt-4o-mini" || api.last.Temperature != 0.2 {
		t.Fatalf("unexpected request: model=%q temp=%v", api.last.Model, api.last.Temperature)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	api := &fakeChat{errs: []error{&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}}}
	c := newClient(api, testConfig())
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var collab *CollaboratorError
	if !errors.As(err, &collab) {
		t.Fatalf("expected CollaboratorError, got %v", err)
	}
	if api.calls != 1 || collab.Attempts != 1 {
		t.Fatalf("expected a single attempt, got calls=%d attempts=%d", api.calls, collab.Attempts)
	}
}

func TestEmptyChoiceIsFailure(t *testing.T) {
	api := &fakeChat{reply: "  "}
	cfg := testConfig()
	cfg.AIRetryMax = 0
	c := newClient(api, cfg)
	_, err := c.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newCircuitBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	b.Fail()
	if b.Open() {
		t.Fatalf("expected breaker closed after one failure")
	}
	b.Fail()
	if !b.Open() {
		t.Fatalf("expected breaker open after threshold")
	}
	now = now.Add(2 * time.Minute)
	if b.Open() {
		t.Fatalf("expected breaker to close after reset duration")
	}
}

func TestCompleteShortCircuitsWhenOpen(t *testing.T) {
	api := &fakeChat{reply: "x"}
	c := newClient(api, testConfig())
	for i := 0; i < 5; i++ {
		c.breaker.Fail()
	}
	_, err := c.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", api.calls)
	}
}
