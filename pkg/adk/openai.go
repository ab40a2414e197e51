package adk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAIProvider struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewOpenAIProvider(opts Options) *OpenAIProvider {
	p := &OpenAIProvider{
		APIKey:  opts.APIKey,
		Model:   opts.Model,
		BaseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.client(),
		logger:  opts.logger(),
	}
	if p.Model == "" {
		p.Model = "gpt-4o-mini"
	}
	if p.BaseURL == "" {
		p.BaseURL = openAIBaseURL
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai/" + p.Model }

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(p.client, req, "OpenAI", &result); err != nil {
		return nil, err
	}

	var models []string
	for _, m := range result.Data {
		if strings.HasPrefix(m.ID, "gpt-") || strings.HasPrefix(m.ID, "o") {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate runs a single chat completion in JSON mode.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":       p.Model,
		"temperature": 0,
		"messages": []chatMessage{
			{Role: "system", Content: SystemPrompt()},
			{Role: "user", Content: prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := doJSON(p.client, req, "OpenAI", &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from %s", p.Model)
	}
	p.logger.Debug("openai generation finished", zap.String("model", p.Model))
	return result.Choices[0].Message.Content, nil
}

// doJSON sends req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, provider string, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Provider: provider,
			Code:     resp.StatusCode,
			Status:   resp.Status,
			Body:     strings.TrimSpace(string(snippet)),
		}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
