// Package mcp exposes the analyzer as Model Context Protocol tools so agents
// can score policy text and look up control mappings over stdio.
package mcp

import (
	"context"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/catalog"
	"github.com/user/policyguard/pkg/engine"
)

// Server wraps the MCP SDK server around one analyzer.
type Server struct {
	MCPServer *sdkmcp.Server

	analyzer  *engine.Analyzer
	crosswalk *catalog.Crosswalk
	logger    *zap.Logger
}

// NewServer registers the policy tools. version is reported to clients.
func NewServer(analyzer *engine.Analyzer, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		analyzer:  analyzer,
		crosswalk: catalog.NewCrosswalk(analyzer.Catalogs()),
		logger:    logger,
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "policyguard", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_policy",
		Description: "Score policy clauses against one or more compliance frameworks. Returns the confidence index, grade, missing controls, audit readiness and CIA balance.",
	}, s.handleAnalyze)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_frameworks",
		Description: "List the compliance framework catalogs that can be analyzed.",
	}, s.handleListFrameworks)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "map_control",
		Description: "Find the controls in other frameworks that are mapped to a framework:control reference, e.g. gdpr:Art.32.",
	}, s.handleMapControl)
}

// --- Tool input/output types ---

type clauseInput struct {
	Text         string `json:"text" jsonschema:"clause text"`
	SectionLabel string `json:"section_label,omitempty" jsonschema:"heading of the section the clause belongs to"`
}

type analyzeInput struct {
	DocumentID string        `json:"document_id,omitempty" jsonschema:"stable document id; concurrent identical calls with the same id share one analysis"`
	Clauses    []clauseInput `json:"clauses" jsonschema:"policy clauses in document order"`
	Frameworks []string      `json:"frameworks" jsonschema:"framework ids to score against (see list_frameworks)"`
	SkipCIA    bool          `json:"skip_cia,omitempty" jsonschema:"omit the CIA balance section"`
}

type frameworkSummary struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	CCI                  float64  `json:"cci"`
	Grade                string   `json:"grade"`
	CompliancePercentage float64  `json:"compliance_percentage"`
	MissingControls      []string `json:"missing_controls"`
	Summary              string   `json:"summary,omitempty"`
	Error                string   `json:"error,omitempty"`
}

type ciaSummary struct {
	Confidentiality float64 `json:"confidentiality"`
	Integrity       float64 `json:"integrity"`
	Availability    float64 `json:"availability"`
	BalanceIndex    float64 `json:"balance_index"`
	Rating          string  `json:"rating"`
}

type analyzeOutput struct {
	OverallCCI        float64            `json:"overall_cci"`
	Grade             string             `json:"grade"`
	RiskLevel         string             `json:"risk_level"`
	AuditReadiness    float64            `json:"audit_readiness"`
	ReadinessLevel    string             `json:"readiness_level"`
	Frameworks        []frameworkSummary `json:"frameworks"`
	CIA               *ciaSummary        `json:"cia,omitempty"`
	InvalidFrameworks []string           `json:"invalid_frameworks,omitempty"`
	Degradations      []string           `json:"degradations,omitempty"`
}

type listFrameworksInput struct{}

type frameworkInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	ControlCount int    `json:"control_count"`
}

type listFrameworksOutput struct {
	Frameworks []frameworkInfo `json:"frameworks"`
}

type mapControlInput struct {
	Control string `json:"control" jsonschema:"control reference written framework:control"`
}

type mappedControl struct {
	Ref   string `json:"ref"`
	Title string `json:"title"`
	Hops  int    `json:"hops"`
}

type mapControlOutput struct {
	Control     string          `json:"control"`
	Title       string          `json:"title"`
	Equivalents []mappedControl `json:"equivalents"`
}

// --- Handlers ---

func (s *Server) handleAnalyze(ctx context.Context, _ *sdkmcp.CallToolRequest, in analyzeInput) (*sdkmcp.CallToolResult, analyzeOutput, error) {
	req := engine.AnalyzeRequest{
		Clauses:    make([]engine.Clause, len(in.Clauses)),
		Frameworks: in.Frameworks,
		IncludeCIA: !in.SkipCIA,
	}
	for i, c := range in.Clauses {
		req.Clauses[i] = engine.Clause{Text: c.Text, SectionLabel: c.SectionLabel}
	}

	res, err := s.analyzer.AnalyzeDocument(ctx, in.DocumentID, req)
	if err != nil {
		s.logger.Warn("analyze_policy failed", zap.String("document_id", in.DocumentID), zap.Error(err))
		return nil, analyzeOutput{}, err
	}
	return nil, summarize(res), nil
}

func summarize(res *engine.AnalyzeResult) analyzeOutput {
	out := analyzeOutput{
		OverallCCI:        res.HybridAnalysis.OverallCCI,
		Grade:             res.HybridAnalysis.Grade,
		RiskLevel:         res.RiskPrediction.RiskLevel,
		AuditReadiness:    res.AuditReadiness.Score,
		ReadinessLevel:    res.AuditReadiness.Level,
		Frameworks:        []frameworkSummary{},
		InvalidFrameworks: res.InvalidFrameworks,
		Degradations:      res.Status.Degradations,
	}

	grades := make(map[string]engine.FrameworkScore, len(res.HybridAnalysis.Frameworks))
	for _, fs := range res.HybridAnalysis.Frameworks {
		grades[fs.Framework] = fs
	}
	for _, id := range res.Frameworks {
		fr, ok := res.ComplianceResults[id]
		if !ok || !fr.Valid {
			continue
		}
		fs := frameworkSummary{
			ID:                   id,
			Name:                 fr.FrameworkName,
			CCI:                  grades[id].CCI,
			Grade:                grades[id].Grade,
			CompliancePercentage: fr.CompliancePercentage,
			MissingControls:      make([]string, 0, len(fr.MissingControls)),
			Summary:              fr.Reasoning.ExecutiveSummary,
			Error:                fr.Error,
		}
		for _, mc := range fr.MissingControls {
			fs.MissingControls = append(fs.MissingControls, fmt.Sprintf("%s %s [%s]", mc.ControlID, mc.Title, mc.Priority))
		}
		out.Frameworks = append(out.Frameworks, fs)
	}

	if cia := res.CIAAnalysis; cia != nil {
		out.CIA = &ciaSummary{
			Confidentiality: cia.Coverage.Get(catalog.Confidentiality),
			Integrity:       cia.Coverage.Get(catalog.Integrity),
			Availability:    cia.Coverage.Get(catalog.Availability),
			BalanceIndex:    cia.BalanceIndex,
			Rating:          cia.Rating,
		}
	}
	return out
}

func (s *Server) handleListFrameworks(_ context.Context, _ *sdkmcp.CallToolRequest, _ listFrameworksInput) (*sdkmcp.CallToolResult, listFrameworksOutput, error) {
	out := listFrameworksOutput{Frameworks: []frameworkInfo{}}
	for _, fw := range s.analyzer.Catalogs().List() {
		out.Frameworks = append(out.Frameworks, frameworkInfo{
			ID:           fw.ID,
			Name:         fw.Name,
			Version:      fw.Version,
			ControlCount: len(fw.Controls),
		})
	}
	return nil, out, nil
}

func (s *Server) handleMapControl(_ context.Context, _ *sdkmcp.CallToolRequest, in mapControlInput) (*sdkmcp.CallToolResult, mapControlOutput, error) {
	ref, err := catalog.ParseRef(in.Control)
	if err != nil {
		return nil, mapControlOutput{}, err
	}
	fw, err := s.analyzer.Catalogs().Get(ref.Framework)
	if err != nil {
		return nil, mapControlOutput{}, err
	}
	c, ok := fw.Control(ref.ControlID)
	if !ok {
		return nil, mapControlOutput{}, fmt.Errorf("framework %s has no control %q", fw.ID, ref.ControlID)
	}

	from := catalog.ControlRef{Framework: fw.ID, ControlID: c.ID}
	out := mapControlOutput{Control: from.String(), Title: c.Title, Equivalents: []mappedControl{}}
	for _, e := range s.crosswalk.Equivalents(fw.ID, c.ID) {
		out.Equivalents = append(out.Equivalents, mappedControl{
			Ref:   e.String(),
			Title: e.Title,
			Hops:  len(s.crosswalk.Path(from, e)) - 1,
		})
	}
	return nil, out, nil
}
