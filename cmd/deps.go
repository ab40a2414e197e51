package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/adk"
	"github.com/user/policyguard/pkg/catalog"
	"github.com/user/policyguard/pkg/config"
	"github.com/user/policyguard/pkg/embedding"
	"github.com/user/policyguard/pkg/engine"
	"github.com/user/policyguard/pkg/riskmodel"
)

// buildAnalyzer loads every collaborator named in cfg. Optional models
// that fail to load are logged and left out so the pipeline degrades
// instead of refusing to start. The returned func releases them.
func buildAnalyzer(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*engine.Analyzer, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("failed to release model", zap.Error(err))
			}
		}
	}

	catalogs, err := catalog.Load(cfg.Engine.CatalogDir, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to load catalogs: %w", err)
	}

	embedder, err := embedding.New(ctx, embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.GetAPIKey("gemini"),
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		ModelDir:   cfg.Embedding.ModelDir,
		SeqLen:     cfg.Embedding.SeqLen,
	}, logger)
	if err != nil {
		logger.Warn("embedding provider unavailable, semantic matching will degrade",
			zap.String("provider", cfg.Embedding.Provider),
			zap.Error(err))
		embedder = nil
	} else if c, ok := embedder.(io.Closer); ok {
		closers = append(closers, c)
	}

	classifier, err := loadRiskModel(cfg.Risk, logger)
	if err != nil {
		logger.Warn("risk model unavailable, risk will be reported as Unknown", zap.Error(err))
	}

	remediation, err := engine.LoadRemediation(cfg.Engine.RemediationDir, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to load remediation templates: %w", err)
	}

	d := engine.Deps{
		Catalogs:    catalogs,
		Embedder:    embedder,
		Remediation: remediation,
		Lexicon:     lexiconFrom(cfg.Lexicon),
		Logger:      logger,
		Options: engine.Options{
			Parallelism:       cfg.Engine.Parallelism,
			AnalysisTimeout:   cfg.Timeouts.Analysis,
			EmbeddingTimeout:  cfg.Timeouts.Embedding,
			ClassifierTimeout: cfg.Timeouts.Classifier,
			ReasoningTimeout:  cfg.Timeouts.Reasoning,
		},
	}
	if classifier != nil {
		d.Classifier = classifier
	}
	if reg != nil {
		d.Metrics = engine.NewMetrics(reg)
	}

	if cfg.Reasoning.Strategy == "generative" {
		gen, err := adk.NewProvider(ctx, cfg.SelectedProvider, adk.Options{
			APIKey: cfg.GetAPIKey(cfg.SelectedProvider),
			Model:  cfg.SelectedModel,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("generative reasoning unavailable, using rule-based reasoning",
				zap.String("provider", cfg.SelectedProvider),
				zap.Error(err))
		} else {
			logger.Debug("generative reasoning enabled", zap.String("backend", gen.Name()))
			d.Generator = gen
			if c, ok := gen.(interface{ Close() }); ok {
				closers = append(closers, closeFunc(c.Close))
			}
		}
	}

	a, err := engine.NewAnalyzer(d)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return a, cleanup, nil
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// loadRiskModel returns the saved forest, or a freshly trained one when
// auto_train is set and no usable artifact exists.
func loadRiskModel(rc config.RiskConfig, logger *zap.Logger) (*riskmodel.Forest, error) {
	if rc.ModelPath != "" {
		forest, err := riskmodel.Load(rc.ModelPath)
		if err == nil {
			logger.Debug("loaded risk model", zap.String("path", rc.ModelPath))
			return forest, nil
		}
		if !rc.AutoTrain {
			return nil, err
		}
		logger.Warn("failed to load risk model, training the default one",
			zap.String("path", rc.ModelPath),
			zap.Error(err))
	}
	if !rc.AutoTrain {
		return nil, fmt.Errorf("no risk model configured and auto_train is off")
	}
	return riskmodel.TrainDefault()
}

func lexiconFrom(lc config.LexiconConfig) *engine.Lexicon {
	rewrites := make([]engine.RewriteRule, 0, len(lc.Rewrites))
	for _, r := range lc.Rewrites {
		rewrites = append(rewrites, engine.RewriteRule{From: r.From, To: r.To})
	}
	pillars := make(map[catalog.Pillar][]string, len(lc.Pillars))
	for p, words := range lc.Pillars {
		pillars[catalog.Pillar(p)] = words
	}
	return engine.NewLexicon(lc.WeakIndicators, rewrites, pillars).WithMinClauseWords(lc.MinClauseWords)
}
