package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Gemini embeds text with a Google embedding model.
type Gemini struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	name      string
	batchSize int
	logger    *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, modelName string, batchSize int, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini embedding provider needs an API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	// The batch endpoint accepts at most 100 requests.
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}

	em := client.EmbeddingModel(modelName)
	em.TaskType = genai.TaskTypeSemanticSimilarity

	return &Gemini{
		client:    client,
		model:     em,
		name:      modelName,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

func (g *Gemini) ModelVersion() string {
	return "gemini/" + g.name
}

func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))

		batch := g.model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := g.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini embed batch %d-%d: %w", start, end, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for _, e := range res.Embeddings {
			out = append(out, e.Values)
		}
		g.logger.Debug("embedded batch",
			zap.String("model", g.name),
			zap.Int("texts", end-start))
	}
	return out, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
