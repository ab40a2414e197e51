package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/user/policyguard/pkg/engine"
)

// analyzeInput is the clause file read by analyze. JSON files parse too.
type analyzeInput struct {
	DocumentID string          `yaml:"document_id"`
	Clauses    []engine.Clause `yaml:"clauses"`
	Frameworks []string        `yaml:"frameworks"`
	IncludeCIA *bool           `yaml:"include_cia"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score a segmented policy document against compliance frameworks",
	Example: `  policyguard analyze -f clauses.yaml --framework iso27001 --framework gdpr
  policyguard analyze -f clauses.json --output json --save-baseline base.json`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringP("file", "f", "", "Clause file (YAML or JSON)")
	analyzeCmd.Flags().StringSlice("framework", nil, "Framework id to score against (repeatable)")
	analyzeCmd.Flags().Bool("no-cia", false, "Omit the CIA analysis from the output")
	analyzeCmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	analyzeCmd.Flags().String("baseline", "", "Compare the gaps with a saved baseline")
	analyzeCmd.Flags().String("save-baseline", "", "Save this run as a baseline")
	analyzeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	frameworks, _ := cmd.Flags().GetStringSlice("framework")
	noCIA, _ := cmd.Flags().GetBool("no-cia")
	output, _ := cmd.Flags().GetString("output")
	baselinePath, _ := cmd.Flags().GetString("baseline")
	savePath, _ := cmd.Flags().GetString("save-baseline")

	if output != "text" && output != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", output)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	in, err := readAnalyzeInput(file)
	if err != nil {
		return err
	}
	req := in.request(frameworks, cfg.Engine.Frameworks, noCIA)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer, cleanup, err := buildAnalyzer(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := analyzer.AnalyzeDocument(ctx, in.DocumentID, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		writeReport(out, res)
	}

	current := engine.NewBaseline(res, time.Now())
	if baselinePath != "" {
		prev, err := engine.LoadBaseline(baselinePath)
		if err != nil {
			return fmt.Errorf("failed to load baseline: %w", err)
		}
		// Keep stdout clean for JSON consumers.
		diffOut := out
		if output == "json" {
			diffOut = cmd.ErrOrStderr()
		}
		fmt.Fprintln(diffOut)
		fmt.Fprint(diffOut, engine.CompareBaseline(current, prev).Report(baselinePath))
	}
	if savePath != "" {
		if err := current.Save(savePath); err != nil {
			return fmt.Errorf("failed to save baseline: %w", err)
		}
		logger.Info("baseline saved", zap.String("path", savePath))
	}
	return nil
}

func readAnalyzeInput(path string) (*analyzeInput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	in := &analyzeInput{}
	if err := yaml.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return in, nil
}

// request merges the file with the command line. Flag frameworks win over
// the file, which wins over the configured defaults.
func (in *analyzeInput) request(flagFrameworks, defaults []string, noCIA bool) engine.AnalyzeRequest {
	req := engine.AnalyzeRequest{
		Clauses:    in.Clauses,
		Frameworks: in.Frameworks,
		IncludeCIA: true,
	}
	switch {
	case len(flagFrameworks) > 0:
		req.Frameworks = flagFrameworks
	case len(req.Frameworks) == 0:
		req.Frameworks = defaults
	}
	if in.IncludeCIA != nil {
		req.IncludeCIA = *in.IncludeCIA
	}
	if noCIA {
		req.IncludeCIA = false
	}
	return req
}

func writeReport(w io.Writer, res *engine.AnalyzeResult) {
	line := strings.Repeat("-", 60)
	fmt.Fprintf(w, "Overall CCI: %.1f (%s)\n", res.HybridAnalysis.OverallCCI, res.HybridAnalysis.Grade)
	fmt.Fprintf(w, "Risk: %s (%.1f%% confidence)   Audit readiness: %.1f %s\n",
		res.RiskPrediction.RiskLevel, res.RiskPrediction.Confidence,
		res.AuditReadiness.Score, res.AuditReadiness.Level)
	if len(res.InvalidFrameworks) > 0 {
		fmt.Fprintf(w, "Invalid frameworks: %s\n", strings.Join(res.InvalidFrameworks, ", "))
	}
	for _, d := range res.Status.Degradations {
		fmt.Fprintf(w, "[DEGRADED] %s\n", d)
	}

	for _, id := range res.Frameworks {
		fr, ok := res.ComplianceResults[id]
		if !ok {
			continue
		}
		fmt.Fprintln(w, line)
		if fr.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", id, fr.Error)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", fr.FrameworkName, fr.Version)
		fmt.Fprintf(w, "  CCI %.1f (%s)  structural %.1f  semantic %.1f  reasoning %.1f\n",
			fr.CCI, fr.Grade, fr.StructuralScore, fr.SemanticScore, fr.Reasoning.Confidence)
		fmt.Fprintf(w, "  Controls matched %d/%d, clauses matched %d/%d\n",
			fr.MatchedControlsCount, fr.TotalControls, fr.MatchedClauses, fr.TotalClauses)
		fmt.Fprintf(w, "  %s\n", fr.Reasoning.ExecutiveSummary)

		if len(fr.MissingControls) > 0 {
			fmt.Fprintln(w, "  Missing controls:")
			for _, mc := range fr.MissingControls {
				fmt.Fprintf(w, "    [%s] %s %s\n", mc.Priority, mc.ControlID, mc.Title)
			}
		}
		for _, wc := range fr.WeakClauses {
			fmt.Fprintf(w, "  Weak clause #%d: %s\n", wc.ClauseIndex+1, wc.Reason)
		}
		for _, plan := range fr.Reasoning.Remediation {
			fmt.Fprintf(w, "  %s\n", plan)
		}
	}

	if res.CIAAnalysis != nil {
		cia := res.CIAAnalysis
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "CIA balance: %.1f (%s)\n", cia.BalanceIndex, cia.Rating)
		for _, rec := range cia.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
}
