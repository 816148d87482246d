package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the model used for generating embeddings.
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultChatModel is the model used for pattern extraction.
	DefaultChatModel = openai.GPT4oMini
	// DefaultEmbeddingDimensions is the store-wide vector dimension.
	DefaultEmbeddingDimensions = 768
	// DefaultTimeout bounds every external round trip.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries caps retry attempts after the initial call.
	DefaultMaxRetries = 3
)

// EmbeddingMode selects the task-specific embedding variant. Documents to
// store and search queries are optimized differently by the provider; the
// mode is expressed as a task prefix on the input text, the convention used
// by nomic/e5-style models behind OpenAI-compatible endpoints.
type EmbeddingMode string

const (
	ModeDocument EmbeddingMode = "search_document"
	ModeQuery    EmbeddingMode = "search_query"
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has the wrong dimension
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when the API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// API defines the raw provider calls the client wraps with retries.
type API interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
	CreateCompletion(ctx context.Context, prompt string) (string, error)
}

// Client wraps the provider API with mode handling, batching, explicit
// timeouts, and bounded exponential backoff. There is never a silent
// fallback to a zero vector: exhausted retries surface as errors.
type Client struct {
	api        API
	dimensions int
	timeout    time.Duration
	maxRetries uint64
}

// Adapter is the production API implementation backed by go-openai.
type Adapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	dimensions     int
}

// NewAdapter creates an Adapter for the given key and models. An empty
// baseURL targets the default OpenAI endpoint.
func NewAdapter(apiKey, baseURL string, embeddingModel openai.EmbeddingModel, chatModel string, dimensions int) *Adapter {
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Adapter{
		client:         openai.NewClientWithConfig(cfg),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
		dimensions:     dimensions,
	}
}

// CreateEmbeddings calls the embeddings endpoint for a batch of inputs.
func (a *Adapter) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      a.embeddingModel,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, nil
}

// CreateCompletion runs a single-turn chat completion with low temperature,
// suitable for structured extraction.
func (a *Adapter) CreateCompletion(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Config holds client configuration.
type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	ChatModel           string
	EmbeddingDimensions int
	Timeout             time.Duration
	MaxRetries          int
}

// NewClient creates a client with defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	c := &Client{
		api:        NewAdapter(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.ChatModel, dimensions),
		dimensions: dimensions,
		timeout:    cfg.Timeout,
		maxRetries: uint64(DefaultMaxRetries),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.MaxRetries > 0 {
		c.maxRetries = uint64(cfg.MaxRetries)
	}
	return c
}

// NewClientFromEnv creates a client using the OPENAI_API_KEY environment variable.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// NewClientWithAPI creates a client over a custom API implementation.
func NewClientWithAPI(api API, dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        api,
		dimensions: dimensions,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
}

// EmbedDocument embeds text for storage.
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, ModeDocument)
}

// EmbedQuery embeds text for retrieval.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, ModeQuery)
}

func (c *Client) embed(ctx context.Context, text string, mode EmbeddingMode) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var vectors [][]float32
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		var callErr error
		vectors, callErr = c.api.CreateEmbeddings(callCtx, []string{taggedInput(text, mode)})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(vectors) == 0 || vectors[0] == nil {
		return nil, errors.New("no embedding data returned")
	}
	if len(vectors[0]) != c.dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(vectors[0]))
	}
	return vectors[0], nil
}

// EmbedDocumentBatch embeds many documents in one external round trip.
// The returned slices are aligned with texts: itemErrs[i] is non-nil when
// item i could not be embedded even though the call as a whole succeeded.
// A non-nil err means the whole call failed after retries.
func (c *Client) EmbedDocumentBatch(ctx context.Context, texts []string) (vectors [][]float32, itemErrs []error, err error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = taggedInput(text, ModeDocument)
	}

	var raw [][]float32
	err = c.withRetry(ctx, func(callCtx context.Context) error {
		var callErr error
		raw, callErr = c.api.CreateEmbeddings(callCtx, inputs)
		return callErr
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embeddings batch: %w", err)
	}

	vectors = make([][]float32, len(texts))
	itemErrs = make([]error, len(texts))
	for i := range texts {
		switch {
		case strings.TrimSpace(texts[i]) == "":
			itemErrs[i] = ErrEmptyText
		case i >= len(raw) || raw[i] == nil:
			itemErrs[i] = errors.New("no embedding data returned")
		case len(raw[i]) != c.dimensions:
			itemErrs[i] = fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(raw[i]))
		default:
			vectors[i] = raw[i]
		}
	}
	return vectors, itemErrs, nil
}

// ExtractPatterns runs the pattern extraction capability and returns the raw
// structured payload with any markdown code fences stripped.
func (c *Client) ExtractPatterns(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyText
	}

	var out string
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		var callErr error
		out, callErr = c.api.CreateCompletion(callCtx, prompt)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to extract patterns: %w", err)
	}
	return StripCodeFences(out), nil
}

func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := op(callCtx); err != nil {
			if isPermanentAPIError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	return backoff.Retry(attempt, policy)
}

// isPermanentAPIError reports whether the provider rejected the request in a
// way retries cannot fix, such as bad credentials or a malformed model name.
// Rate limits and request timeouts stay retryable.
func isPermanentAPIError(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return false
	}
	return apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500
}

func taggedInput(text string, mode EmbeddingMode) string {
	return string(mode) + ": " + text
}

// StripCodeFences removes a surrounding markdown code block, if present.
func StripCodeFences(text string) string {
	out := strings.TrimSpace(text)
	if strings.HasPrefix(out, "```json") {
		out = out[len("```json"):]
	} else if strings.HasPrefix(out, "```") {
		out = out[len("```"):]
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}
