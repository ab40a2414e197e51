package adk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

type AnthropicProvider struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	client    *http.Client
	logger    *zap.Logger
}

func NewAnthropicProvider(opts Options) *AnthropicProvider {
	p := &AnthropicProvider{
		APIKey:    opts.APIKey,
		Model:     opts.Model,
		BaseURL:   strings.TrimRight(opts.BaseURL, "/"),
		MaxTokens: 2048,
		client:    opts.client(),
		logger:    opts.logger(),
	}
	if p.Model == "" {
		p.Model = "claude-sonnet-4-5"
	}
	if p.BaseURL == "" {
		p.BaseURL = anthropicBaseURL
	}
	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic/" + p.Model }

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{
		"claude-sonnet-4-5",
		"claude-opus-4-5",
		"claude-haiku-4-5",
	}, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":       p.Model,
		"max_tokens":  p.MaxTokens,
		"temperature": 0,
		"system":      SystemPrompt(),
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := doJSON(p.client, req, "Anthropic", &result); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from %s", p.Model)
	}
	p.logger.Debug("anthropic generation finished",
		zap.String("model", p.Model),
		zap.String("stop_reason", result.StopReason))
	return sb.String(), nil
}
