// Package ai is the assistant-completion port. Client calls any
// OpenAI-compatible chat completion API; Resilient wraps a Completer
// with the circuit breaker, classified retry, and fallback routing so a
// flaky upstream degrades to a canned reply instead of an error page.
package ai

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/OwlAIhub/OwlAI-sub003/degrade"
	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// Turn is one prior exchange supplied as conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces an assistant reply for a prompt with history.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []Turn) (string, error)
}

// UnavailableReply is returned by the default fallback when the upstream
// is down or the circuit is open.
const UnavailableReply = "The assistant is temporarily unavailable. Please try again in a moment."

// Config configures the OpenAI-backed client.
type Config struct {
	// BaseURL of the completion service. Defaults to OpenAI cloud; any
	// OpenAI-compatible endpoint works.
	BaseURL string

	// Model to request, e.g. "gpt-4o-mini".
	Model string

	// APIKey for authentication. Local services accept a placeholder.
	APIKey string

	// Timeout for HTTP requests (default 30s).
	Timeout time.Duration

	// SystemPrompt prepended to every conversation (optional).
	SystemPrompt string

	// Logger for error logging (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// Client calls an OpenAI-compatible chat completion API.
type Client struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// NewClient creates a completion client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "ai", "NewClient", "model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:       openai.NewClientWithConfig(config),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}, nil
}

// Complete sends the conversation to the completion API and returns the
// assistant's reply. API failures carry their HTTP status so the error
// classifier can pick the right retry policy.
func (c *Client) Complete(ctx context.Context, prompt string, history []Turn) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "ai", "Complete", "prompt cannot be empty")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.WrapServer(errors.ErrInvalidData, "ai", "Complete", "completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError surfaces the upstream HTTP status through the error
// chain so Classify maps it to the right category.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return errors.Wrap(&errors.StatusError{
			Code:    apiErr.HTTPStatusCode,
			Message: err.Error(),
		}, "ai", "Complete", "completion request")
	}
	return errors.Wrap(err, "ai", "Complete", "completion request")
}

// Resilient wraps a Completer with a degradation router: breaker-gated
// execution, retry policy chosen from the first error's category, and a
// registered fallback reply when the upstream stays down.
type Resilient struct {
	inner  Completer
	router *degrade.Router
}

// NewResilient wraps inner with the given router and registers the
// canned-reply fallback for the complete operation.
func NewResilient(inner Completer, router *degrade.Router) *Resilient {
	router.RegisterFallback("ai.complete", func(ctx context.Context) (any, error) {
		return UnavailableReply, nil
	})
	return &Resilient{inner: inner, router: router}
}

// Complete runs the completion through breaker, retry, and fallback.
func (r *Resilient) Complete(ctx context.Context, prompt string, history []Turn) (string, error) {
	result, err := r.router.RobustExecute(ctx, "ai.complete", func(ctx context.Context) (any, error) {
		return r.inner.Complete(ctx, prompt, history)
	})
	if err != nil {
		return "", err
	}
	reply, ok := result.(string)
	if !ok {
		return "", errors.WrapServer(errors.ErrInvalidData, "ai", "Complete", "unexpected fallback result type")
	}
	return reply, nil
}
