// Package chat talks to OpenAI-compatible chat completion endpoints
// (DeepSeek, Qwen) and to the local engine when no remote provider is set.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/askql/internal/composer"
)

const (
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	QwenBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"

	defaultTimeout = 120 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Providers accepted by New.
const (
	ProviderDeepSeek = "deepseek"
	ProviderQwen     = "qwen"
	ProviderOllama   = "ollama"
)

var (
	// ErrUnknownProvider is returned for a provider name New does not know.
	ErrUnknownProvider = errors.New("unknown chat provider")
	// ErrEmptyResponse is returned when the completion carries no choices.
	ErrEmptyResponse = errors.New("empty chat response")
	// ErrEmptyPrompt is returned by Submit when there are no messages to send.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider's default endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// BaseURLFor returns the default endpoint for a remote provider.
func BaseURLFor(provider string) (string, error) {
	switch strings.ToLower(provider) {
	case ProviderDeepSeek:
		return DeepSeekBaseURL, nil
	case ProviderQwen:
		return QwenBaseURL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

// NewClient creates a client for provider. The API key is sent as a bearer token.
func NewClient(provider, apiKey, model string, temperature float64, opts ...Option) (*Client, error) {
	base, err := BaseURLFor(provider)
	if err != nil {
		return nil, err
	}
	c := &Client{
		apiKey:      apiKey,
		baseURL:     base,
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type completionRequest struct {
	Model       string             `json:"model"`
	Messages    []composer.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message composer.Message `json:"message"`
	} `json:"choices"`
}

// Submit sends msgs and returns the assistant's reply. HTTP 429 responses
// are retried with exponential backoff.
func (c *Client) Submit(ctx context.Context, msgs []composer.Message) (string, error) {
	if len(msgs) == 0 {
		return "", ErrEmptyPrompt
	}
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		out, err := c.doChat(ctx, body)
		if err == nil {
			return out, nil
		}
		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			c.logger.Warn("chat rate limited, retrying", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}
