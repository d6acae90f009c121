package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func newTestClient(t *testing.T, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_LLM_KEY", "sk-test")
	cfg.BaseURL = srv.URL
	cfg.APIKeyEnv = "TEST_LLM_KEY"
	c, err := NewClient(cfg)
	require.NoError(t, err)
	c.retry.InitialDelay = 1
	return c
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChat(w, "Cats are mammals.")
	})

	answer, err := c.Generate(context.Background(), "Cats are mammals.", "What are cats?")
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", answer)

	assert.Equal(t, DefaultModel, got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-6)
	assert.Equal(t, 800, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Context:\nCats are mammals.\n\nQuestion:\nWhat are cats?", got.Messages[1].Content)
}

func TestJudgeSampling(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, Config{Model: "gpt-test"}, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChat(w, "Chunk 1: 8/10")
	})

	out, err := c.Judge(context.Background(), "rank these")
	require.NoError(t, err)
	assert.Equal(t, "Chunk 1: 8/10", out)
	assert.Equal(t, "gpt-test", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-6)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.Equal(t, "rank these", got.Messages[1].Content)
}

func TestAzureDeploymentRouting(t *testing.T) {
	c := newTestClient(t, Config{Provider: ProviderAzure, Model: "my-deployment", APIVersion: "2023-05-15"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/my-deployment/chat/completions", r.URL.Path)
		assert.Equal(t, "2023-05-15", r.URL.Query().Get("api-version"))
		assert.Equal(t, "sk-test", r.Header.Get("api-key"))
		writeChat(w, "ok")
	})

	out, err := c.Generate(context.Background(), "ctx", "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, Config{MaxRetries: 2}, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		writeChat(w, "second time")
	})

	out, err := c.Generate(context.Background(), "ctx", "q")
	require.NoError(t, err)
	assert.Equal(t, "second time", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, Config{MaxRetries: 2}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	})

	_, err := c.Generate(context.Background(), "ctx", "q")
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewClientValidation(t *testing.T) {
	t.Setenv("EMPTY_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "EMPTY_KEY"})
	assert.Error(t, err)

	t.Setenv("SOME_KEY", "k")
	_, err = NewClient(Config{APIKeyEnv: "SOME_KEY", Provider: ProviderAzure})
	assert.Error(t, err, "azure needs an endpoint")

	_, err = NewClient(Config{APIKeyEnv: "SOME_KEY", Provider: "bedrock"})
	assert.Error(t, err)
}
