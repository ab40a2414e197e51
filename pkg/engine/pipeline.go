package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/user/policyguard/pkg/catalog"
	"github.com/user/policyguard/pkg/embedding"
)

const tracerName = "github.com/user/policyguard/pkg/engine"

// Options bounds the work of one analysis.
type Options struct {
	// Parallelism caps the frameworks processed concurrently.
	Parallelism       int
	AnalysisTimeout   time.Duration
	EmbeddingTimeout  time.Duration
	ClassifierTimeout time.Duration
	ReasoningTimeout  time.Duration
}

// Deps are the collaborators of an Analyzer. Catalogs is required; a nil
// Embedder or Classifier degrades the corresponding layer. Reasoning uses
// Reasoner when set, the generative strategy when Generator is set, and
// the rule-based strategy otherwise.
type Deps struct {
	Catalogs    *catalog.Registry
	Embedder    embedding.Provider
	Classifier  Classifier
	Reasoner    Reasoner
	Generator   TextGenerator
	Remediation *RemediationLibrary
	Lexicon     *Lexicon
	Logger      *zap.Logger
	Metrics     *Metrics
	Options     Options
}

// Analyzer runs the layered compliance pipeline. It holds only read-only
// state after construction and is safe for concurrent use.
type Analyzer struct {
	catalogs   *catalog.Registry
	embedder   embedding.Provider
	cache      *embedding.Cache
	classifier Classifier
	reasoner   Reasoner
	rules      *RuleBasedReasoner
	lexicon    *Lexicon
	logger     *zap.Logger
	metrics    *Metrics
	opts       Options
	tracer     trace.Tracer

	inflight singleflight.Group
}

// NewAnalyzer wires an Analyzer from d.
func NewAnalyzer(d Deps) (*Analyzer, error) {
	if d.Catalogs == nil {
		return nil, errors.New("catalog registry is required")
	}
	a := &Analyzer{
		catalogs:   d.Catalogs,
		embedder:   d.Embedder,
		classifier: d.Classifier,
		lexicon:    d.Lexicon,
		logger:     d.Logger,
		metrics:    d.Metrics,
		opts:       d.Options,
		tracer:     otel.Tracer(tracerName),
	}
	if a.lexicon == nil {
		a.lexicon = DefaultLexicon()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.opts.Parallelism < 1 {
		a.opts.Parallelism = 1
	}
	if a.embedder != nil {
		a.cache = embedding.NewCache(a.embedder, a.opts.EmbeddingTimeout)
	}
	a.rules = NewRuleBasedReasoner(a.lexicon, d.Remediation)
	a.rules.Crosswalk = catalog.NewCrosswalk(d.Catalogs)
	switch {
	case d.Reasoner != nil:
		a.reasoner = d.Reasoner
	case d.Generator != nil:
		a.reasoner = NewGenerativeReasoner(d.Generator, a.rules, a.opts.ReasoningTimeout)
	default:
		a.reasoner = a.rules
	}
	return a, nil
}

// Catalogs returns the registry the analyzer reads from.
func (a *Analyzer) Catalogs() *catalog.Registry { return a.catalogs }

// frameworkRun carries one framework through the pipeline.
type frameworkRun struct {
	fw         *catalog.Framework
	structural StructuralReport
	semantic   SemanticReport
	status     Status
	err        error
}

func (r *frameworkRun) degrade(component, value string, err error) {
	switch component {
	case "semantic":
		r.status.Semantic = value
	case "risk":
		r.status.Risk = value
	case "reasoning":
		r.status.Reasoning = value
	}
	r.status.Degradations = append(r.status.Degradations, fmt.Sprintf("%s: %v", component, err))
}

// Analyze scores req against every requested framework. Invalid requests
// fail with an *InputError before any layer runs; model failures degrade
// the affected layer and are reported in the result's Status.
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (result *AnalyzeResult, err error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "policyguard.analyze",
		trace.WithAttributes(
			attribute.Int("clauses", len(req.Clauses)),
			attribute.StringSlice("frameworks", req.Frameworks),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ids, frameworks, err := a.validate(req)
	if err != nil {
		a.metrics.analysis("invalid")
		return nil, err
	}

	if a.opts.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.AnalysisTimeout)
		defer cancel()
	}

	doc := newDocument(req.Clauses)
	runs := make([]*frameworkRun, len(frameworks))
	for i, fw := range frameworks {
		runs[i] = &frameworkRun{fw: fw, status: okStatus()}
	}

	clauseVecs, embedErr := a.embedClauses(ctx, req.Clauses)
	if ctx.Err() != nil {
		return nil, a.cancelled(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Parallelism)
	for _, run := range runs {
		g.Go(func() error {
			return a.safely(run, func() error {
				return a.matchFramework(gctx, run, doc, clauseVecs, embedErr)
			})
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		return nil, a.cancelled(ctx)
	}

	ciaStart := time.Now()
	_, ciaSpan := a.tracer.Start(ctx, "policyguard.cia")
	cia := analyzeCIA(doc, a.lexicon, fallbackPillars(doc.len(), runs))
	ciaSpan.SetAttributes(attribute.Float64("balance_index", cia.BalanceIndex))
	ciaSpan.End()
	a.metrics.observeLayer("cia", ciaStart)

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Parallelism)
	results := make([]*FrameworkResult, len(runs))
	for i, run := range runs {
		g.Go(func() error {
			return a.safely(run, func() error {
				res, err := a.finishFramework(gctx, run, req.Clauses, cia)
				results[i] = res
				return err
			})
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		return nil, a.cancelled(ctx)
	}

	result = a.assemble(req, ids, runs, results, cia)
	a.metrics.analysis("ok")
	a.metrics.observeLayer("total", start)
	a.logger.Info("analysis complete",
		zap.Strings("frameworks", ids),
		zap.Int("clauses", len(req.Clauses)),
		zap.Float64("overall_cci", result.HybridAnalysis.OverallCCI),
		zap.Strings("degradations", result.Status.Degradations),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (a *Analyzer) cancelled(ctx context.Context) error {
	a.metrics.analysis("cancelled")
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

// safely runs fn and turns a panic into a per-framework error.
func (a *Analyzer) safely(run *frameworkRun, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("framework analysis panicked",
				zap.String("framework", run.fw.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			run.err = fmt.Errorf("internal error: %v", r)
			err = nil
		}
	}()
	return fn()
}

func (a *Analyzer) validate(req AnalyzeRequest) ([]string, []*catalog.Framework, error) {
	if len(req.Clauses) == 0 {
		return nil, nil, &InputError{Field: "clauses", Reason: "at least one clause is required"}
	}
	for i, c := range req.Clauses {
		if strings.TrimSpace(c.Text) == "" {
			return nil, nil, &InputError{Field: fmt.Sprintf("clauses[%d].text", i), Reason: "clause text is empty"}
		}
	}
	if len(req.Frameworks) == 0 {
		return nil, nil, &InputError{Field: "frameworks", Reason: "at least one framework is required"}
	}

	var ids []string
	var frameworks []*catalog.Framework
	seen := make(map[string]bool, len(req.Frameworks))
	for _, id := range req.Frameworks {
		fw, err := a.catalogs.Get(id)
		if err != nil {
			return nil, nil, &InputError{Field: "frameworks", Reason: err.Error(), Err: err}
		}
		if seen[fw.ID] {
			continue
		}
		seen[fw.ID] = true
		ids = append(ids, fw.ID)
		frameworks = append(frameworks, fw)
	}
	return ids, frameworks, nil
}

// embedClauses returns nil vectors and the cause when the provider is
// missing or fails.
func (a *Analyzer) embedClauses(ctx context.Context, clauses []Clause) ([][]float32, error) {
	if a.embedder == nil {
		return nil, unavailable("embedding provider", errors.New("not configured"))
	}
	start := time.Now()
	defer a.metrics.observeLayer("embed", start)

	ctx, span := a.tracer.Start(ctx, "policyguard.embed_clauses")
	defer span.End()
	if a.opts.EmbeddingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.EmbeddingTimeout)
		defer cancel()
	}

	texts := make([]string, len(clauses))
	for i, c := range clauses {
		texts[i] = c.Text
	}
	vecs, err := a.embedder.Embed(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("provider returned %d vectors for %d clauses", len(vecs), len(texts))
	}
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("clause embedding failed", zap.Error(err))
		return nil, unavailable("embedding provider", err)
	}
	return vecs, nil
}

func (a *Analyzer) controlVectors(ctx context.Context, fw *catalog.Framework) ([][]float32, error) {
	if a.opts.EmbeddingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.EmbeddingTimeout)
		defer cancel()
	}
	texts := make([]string, len(fw.Controls))
	for i, c := range fw.Controls {
		texts[i] = c.EmbeddingText()
	}
	vecs, err := a.cache.Get(ctx, a.cache.Key(fw.ID, fw.Version), texts)
	if err != nil {
		return nil, unavailable("embedding provider", err)
	}
	return vecs, nil
}

// matchFramework runs the structural and semantic layers for one framework.
// It only returns an error when ctx is done.
func (a *Analyzer) matchFramework(ctx context.Context, run *frameworkRun, doc *document, clauseVecs [][]float32, embedErr error) error {
	fw := run.fw
	ctx, span := a.tracer.Start(ctx, "policyguard.match_framework",
		trace.WithAttributes(attribute.String("framework", fw.ID)))
	defer span.End()

	start := time.Now()
	run.structural = verifyStructure(fw, doc)
	a.metrics.observeLayer("structural", start)
	if !run.structural.Valid {
		run.err = errors.New("framework catalog has no controls")
		return nil
	}

	start = time.Now()
	defer a.metrics.observeLayer("semantic", start)
	if embedErr != nil {
		run.semantic = semanticFallback(fw, doc, run.structural, a.lexicon)
		run.degrade("semantic", StatusDegraded, embedErr)
		a.metrics.degraded("semantic")
		return nil
	}

	controlVecs, err := a.controlVectors(ctx, fw)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("control embedding failed", zap.String("framework", fw.ID), zap.Error(err))
		run.semantic = semanticFallback(fw, doc, run.structural, a.lexicon)
		run.degrade("semantic", StatusDegraded, err)
		a.metrics.degraded("semantic")
		return nil
	}
	run.semantic = matchSemantics(fw, doc, clauseVecs, controlVecs, a.lexicon)
	span.SetAttributes(
		attribute.Float64("structural_score", run.structural.Score),
		attribute.Float64("semantic_score", run.semantic.Score))
	return nil
}

// fallbackPillars picks, per clause, the pillar of its most similar
// pillar-tagged control across frameworks. Ties keep the earliest framework.
func fallbackPillars(n int, runs []*frameworkRun) []catalog.Pillar {
	out := make([]catalog.Pillar, n)
	best := make([]float64, n)
	for _, run := range runs {
		if run.err != nil || run.semantic.Degraded {
			continue
		}
		for i := 0; i < n; i++ {
			m, ok := run.semantic.bestMatch(i)
			if !ok || m.Level == LevelWeak || m.Similarity <= best[i] {
				continue
			}
			c, ok := run.fw.Control(m.ControlID)
			if !ok || c.Pillar == "" {
				continue
			}
			out[i] = c.Pillar
			best[i] = m.Similarity
		}
	}
	return out
}

// finishFramework runs risk classification, reasoning and aggregation.
func (a *Analyzer) finishFramework(ctx context.Context, run *frameworkRun, clauses []Clause, cia CIAReport) (*FrameworkResult, error) {
	fw := run.fw
	res := &FrameworkResult{
		FrameworkID:     fw.ID,
		FrameworkName:   fw.Name,
		Version:         fw.Version,
		Valid:           run.structural.Valid,
		TotalClauses:    len(clauses),
		TotalControls:   len(fw.Controls),
		MissingControls: []MissingControl{},
		WeakClauses:     []WeakClause{},
		Matches:         []ClauseControlMatch{},
		Structural:      run.structural,
	}
	if run.err != nil {
		res.Error = run.err.Error()
		res.Status = run.status
		return res, nil
	}

	ctx, span := a.tracer.Start(ctx, "policyguard.finish_framework",
		trace.WithAttributes(attribute.String("framework", fw.ID)))
	defer span.End()

	sem := run.semantic
	res.CompliancePercentage = sem.CompliancePercentage
	res.MatchedClauses = sem.MatchedClauses
	res.MatchedControlsCount = len(sem.MatchedControls)
	res.MissingControls = sem.MissingControls
	res.WeakClauses = sem.WeakClauses
	res.Matches = sem.Matches
	res.StructuralScore = run.structural.Score
	res.SemanticScore = sem.Score

	start := time.Now()
	features := BuildRiskFeatures(run.structural, sem, cia, len(clauses))
	pred, ready, err := ClassifyRisk(ctx, a.classifier, features, len(clauses), a.opts.ClassifierTimeout)
	a.metrics.observeLayer("risk", start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("risk classification unavailable", zap.String("framework", fw.ID), zap.Error(err))
		run.degrade("risk", StatusUnavailable, err)
		a.metrics.degraded("risk")
	}
	res.RiskPrediction, res.AuditReadiness = pred, ready

	start = time.Now()
	in := ReasoningInput{Framework: fw, Structural: run.structural, Semantic: sem, CIA: cia, Clauses: clauses}
	reasoning, err := a.reasoner.Reason(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if reasoning.Source == "" {
			reasoning = a.rules.reason(in)
			reasoning.Source = SourceFallback
		}
		a.logger.Warn("reasoning fell back to rules", zap.String("framework", fw.ID), zap.Error(err))
		run.degrade("reasoning", StatusFallback, err)
		a.metrics.degraded("reasoning")
	}
	a.metrics.observeLayer("reasoning", start)
	res.Reasoning = reasoning

	res.CCI = CCI(res.StructuralScore, res.SemanticScore, reasoning.Confidence)
	res.Grade = Grade(res.CCI)
	res.Status = run.status
	a.metrics.framework(res)
	return res, nil
}

func (a *Analyzer) assemble(req AnalyzeRequest, ids []string, runs []*frameworkRun, results []*FrameworkResult, cia CIAReport) *AnalyzeResult {
	out := &AnalyzeResult{
		Frameworks:        ids,
		ComplianceResults: make(map[string]*FrameworkResult, len(ids)),
		Status:            okStatus(),
	}
	if req.IncludeCIA {
		c := cia
		out.CIAAnalysis = &c
	}

	riskSet := false
	for i, res := range results {
		run := runs[i]
		if res == nil {
			res = &FrameworkResult{
				FrameworkID:   run.fw.ID,
				FrameworkName: run.fw.Name,
				Version:       run.fw.Version,
				Valid:         run.structural.Valid,
			}
			if run.err != nil {
				res.Error = run.err.Error()
			}
			res.Status = run.status
		}
		out.ComplianceResults[res.FrameworkID] = res
		if !res.Valid {
			out.InvalidFrameworks = append(out.InvalidFrameworks, res.FrameworkID)
		}
		mergeStatus(&out.Status, res.Status, res.FrameworkID)
		if !riskSet && res.Valid && res.Error == "" {
			out.RiskPrediction = res.RiskPrediction
			out.AuditReadiness = res.AuditReadiness
			riskSet = true
		}
	}
	if !riskSet {
		out.RiskPrediction, out.AuditReadiness = unknownRisk(RiskFeatureVector{})
	}
	out.HybridAnalysis = summarize(ids, out.ComplianceResults)
	return out
}

// mergeStatus folds a framework status into the overall status; any
// non-ok component status wins.
func mergeStatus(dst *Status, src Status, framework string) {
	if src.Semantic != StatusOK && src.Semantic != "" {
		dst.Semantic = src.Semantic
	}
	if src.Risk != StatusOK && src.Risk != "" {
		dst.Risk = src.Risk
	}
	if src.Reasoning != StatusOK && src.Reasoning != "" {
		dst.Reasoning = src.Reasoning
	}
	for _, d := range src.Degradations {
		dst.Degradations = append(dst.Degradations, framework+": "+d)
	}
}
