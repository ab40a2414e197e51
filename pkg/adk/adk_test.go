package adk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model          string            `json:"model"`
		Messages       []chatMessage     `json:"messages"`
		ResponseFormat map[string]string `json:"response_format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"executive_summary\":\"ok\"}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{APIKey: "sk-test", BaseURL: srv.URL + "/", Logger: zaptest.NewLogger(t)})
	out, err := p.Generate(context.Background(), "analyze this")
	require.NoError(t, err)

	assert.Equal(t, `{"executive_summary":"ok"}`, out)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, SystemPrompt(), got.Messages[0].Content)
	assert.Equal(t, "analyze this", got.Messages[1].Content)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
	assert.Equal(t, "openai/gpt-4o-mini", p.Name())
}

func TestOpenAIListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"whisper-1"},{"id":"o3-mini"}]}`))
	}))
	defer srv.Close()

	models, err := NewOpenAIProvider(Options{BaseURL: srv.URL}).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "o3-mini"}, models)
}

func TestAnthropicGenerate(t *testing.T) {
	var got struct {
		Model     string        `json:"model"`
		MaxTokens int           `json:"max_tokens"`
		System    string        `json:"system"`
		Messages  []chatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"a\":"},{"type":"tool_use"},{"type":"text","text":"1}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Options{APIKey: "key", Model: "claude-haiku-4-5", BaseURL: srv.URL})
	out, err := p.Generate(context.Background(), "prompt")
	require.NoError(t, err)

	assert.Equal(t, `{"a":1}`, out)
	assert.Equal(t, "claude-haiku-4-5", got.Model)
	assert.Equal(t, 2048, got.MaxTokens)
	assert.Equal(t, SystemPrompt(), got.System)
	assert.Equal(t, []chatMessage{{Role: "user", Content: "prompt"}}, got.Messages)
}

func TestProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	providers := []LLMProvider{
		NewOpenAIProvider(Options{BaseURL: srv.URL}),
		NewAnthropicProvider(Options{BaseURL: srv.URL}),
	}
	for _, p := range providers {
		t.Run(p.Name(), func(t *testing.T) {
			_, err := p.Generate(context.Background(), "x")
			var se *StatusError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, http.StatusTooManyRequests, se.Code)
			assert.Contains(t, se.Error(), "rate limited")
		})
	}
}

func TestEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(Options{BaseURL: srv.URL}).Generate(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), "openai", Options{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", p.Name())

	p, err = NewProvider(context.Background(), "anthropic", Options{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", p.Name())

	_, err = NewProvider(context.Background(), "gemini", Options{})
	assert.Error(t, err)

	_, err = NewProvider(context.Background(), "mistral", Options{})
	assert.EqualError(t, err, "unknown provider: mistral")
}

func TestSystemPrompt(t *testing.T) {
	assert.Contains(t, SystemPrompt(), "one JSON object")
}
