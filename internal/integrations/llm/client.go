package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/paramstore"
)

const (
	// Gemini's OpenAI-compatible endpoint; the generation models match the
	// ones the product has always run on.
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultModel   = "gemini-1.5-pro"
	defaultTimeout = 60 * time.Second
)

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// HTTPStatusError carries the upstream HTTP status of a failed generation
// call so callers can distinguish rate limiting from other failures.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is the gateway to the external generation model. The API key and
// model name are resolved from the parameter store on first use and reused
// for the lifetime of the process; WithAPIKey/WithModel bypass the store for
// local runs.
type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	baseURL     string
	model       string
	timeout     time.Duration
	staticKey   string

	initOnce sync.Once
	api      *openai.Client
	initErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient creates a Client. A paramstore getter is required unless both
// WithAPIKey and WithModel are supplied.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		baseURL:     defaultBaseURL,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" || c.model == "" {
		if ps == nil {
			return nil, errors.New("llm: paramstore getter must not be nil")
		}
		if c.paramPrefix == "" {
			return nil, errors.New("llm: parameter prefix must not be empty")
		}
	}
	return c, nil
}

// Generate sends a single-turn prompt to the model and returns the raw text
// of the first choice. The configured timeout bounds the call so a stalled
// provider surfaces as an error instead of hanging.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("llm: prompt must not be empty")
	}
	if err := c.ensureClient(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", translateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ensureClient resolves the API key and model on the first call and builds
// the underlying client once per process lifetime.
func (c *Client) ensureClient(ctx context.Context) error {
	c.initOnce.Do(func() {
		key := c.staticKey
		if key == "" {
			key, c.initErr = fetchAPIKey(ctx, c.getter, c.paramPrefix+"/gemini-api-key")
			if c.initErr != nil {
				return
			}
		}
		if c.model == "" {
			c.model, c.initErr = c.getter.GetParameter(ctx, c.paramPrefix+"/config/llm_model")
			if c.initErr != nil {
				c.initErr = fmt.Errorf("llm: load model name: %w", c.initErr)
				return
			}
			c.model = strings.TrimSpace(c.model)
			if c.model == "" {
				c.model = defaultModel
			}
		}

		cfg := openai.DefaultConfig(key)
		if c.baseURL != "" {
			cfg.BaseURL = c.baseURL
		}
		c.api = openai.NewClientWithConfig(cfg)
	})
	return c.initErr
}

func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("llm: request failed: %w", err)
}

func fetchAPIKey(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("llm: fetch API key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("llm: unmarshal paramstore API key as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("llm: API key is empty")
	}
	return tp.Token, nil
}
