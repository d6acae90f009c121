// Package openai implements answer generation and relevance judging on an
// OpenAI or Azure OpenAI chat deployment.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docqa/internal/resilience"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"

	DefaultModel      = "gpt-4o-mini"
	DefaultAPIVersion = "2024-02-01"
	DefaultTimeout    = 60 * time.Second

	answerSystemPrompt = "You are a helpful assistant that answers questions based on the provided document context."
	judgeSystemPrompt  = "You are an analytical assistant that evaluates text relevance. Provide numerical scores and brief explanations for each chunk."
)

// Sampling settings per call kind.
var (
	AnswerSampling = Sampling{Temperature: 0.7, MaxTokens: 800}
	JudgeSampling  = Sampling{Temperature: 0.3, MaxTokens: 1000}
)

type Sampling struct {
	Temperature float32
	MaxTokens   int
}

// Config configures the chat client. For Azure, Model is the deployment name.
type Config struct {
	Provider   string
	BaseURL    string
	APIKeyEnv  string
	APIVersion string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client is a chat client implementing domain.Generator and domain.Judge.
type Client struct {
	client  *goopenai.Client
	model   string
	timeout time.Duration
	retry   resilience.RetryConfig
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	var oc goopenai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		oc = goopenai.DefaultConfig(key)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
	case ProviderAzure:
		if cfg.BaseURL == "" {
			return nil, errors.New("azure provider requires base_url")
		}
		oc = goopenai.DefaultAzureConfig(key, cfg.BaseURL)
		if cfg.APIVersion == "" {
			cfg.APIVersion = DefaultAPIVersion
		}
		oc.APIVersion = cfg.APIVersion
		deployment := cfg.Model
		oc.AzureModelMapperFunc = func(string) string { return deployment }
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}

	return &Client{
		client:  goopenai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   resilience.RetryConfig{MaxAttempts: cfg.MaxRetries + 1},
	}, nil
}

// Generate answers query from the retrieved context.
func (c *Client) Generate(ctx context.Context, contextText, query string) (string, error) {
	user := fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", contextText, query)
	return c.complete(ctx, "openai.generate", answerSystemPrompt, user, AnswerSampling)
}

// Judge returns the model's free-text relevance analysis of a ranking prompt.
func (c *Client) Judge(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "openai.judge", judgeSystemPrompt, prompt, JudgeSampling)
}

func (c *Client) complete(ctx context.Context, op, system, user string, s Sampling) (string, error) {
	var out string
	err := resilience.Retry(ctx, op, c.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.client.CreateChatCompletion(callCtx, goopenai.ChatCompletionRequest{
			Model: c.model,
			Messages: []goopenai.ChatCompletionMessage{
				{Role: goopenai.ChatMessageRoleSystem, Content: system},
				{Role: goopenai.ChatMessageRoleUser, Content: user},
			},
			Temperature: s.Temperature,
			MaxTokens:   s.MaxTokens,
		})
		if err != nil {
			if !retryable(err) {
				return resilience.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return resilience.Permanent(errors.New("no choices returned"))
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", op, err)
	}
	return out, nil
}

func retryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
