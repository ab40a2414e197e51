package adk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LLMProvider is a generative text backend. Generate satisfies
// engine.TextGenerator.
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Options configures a provider. Zero values select the provider defaults.
type Options struct {
	APIKey string
	Model  string
	// BaseURL overrides the HTTP endpoint of the openai and anthropic providers.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Status   string
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s API returned status %s: %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s API returned status %s", e.Provider, e.Status)
}
