package cmd

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/policyguard/pkg/adk"
	"github.com/user/policyguard/pkg/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		w := &wizard{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
		if err := w.run(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("error saving config: %w", err)
		}

		fmt.Fprintln(w.out, "---------------------------------")
		fmt.Fprintln(w.out, "Setup Complete!")
		fmt.Fprintf(w.out, "Embedding: %s\n", cfg.Embedding.Provider)
		fmt.Fprintf(w.out, "Reasoning: %s\n", cfg.Reasoning.Strategy)
		if cfg.Reasoning.Strategy == "generative" {
			fmt.Fprintf(w.out, "Model:     %s/%s\n", cfg.SelectedProvider, cfg.SelectedModel)
		}
		fmt.Fprintln(w.out, "You can now run 'policyguard analyze -f clauses.yaml'")
		return nil
	},
}

type wizard struct {
	in  *bufio.Scanner
	out io.Writer
}

func (w *wizard) ask(prompt string) string {
	fmt.Fprintf(w.out, "%s > ", prompt)
	w.in.Scan()
	return strings.TrimSpace(w.in.Text())
}

// choose returns the picked option, accepting its number or its name.
// An empty answer keeps def.
func (w *wizard) choose(prompt string, options []string, def string) (string, error) {
	fmt.Fprintln(w.out, prompt)
	for i, o := range options {
		mark := " "
		if o == def {
			mark = "*"
		}
		fmt.Fprintf(w.out, "%s%d. %s\n", mark, i+1, o)
	}
	answer := strings.ToLower(w.ask("Enter number or name"))
	if answer == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], nil
	}
	for _, o := range options {
		if answer == o {
			return o, nil
		}
	}
	return "", fmt.Errorf("invalid choice %q", answer)
}

func (w *wizard) run(cmd *cobra.Command, cfg *config.Config) error {
	fmt.Fprintln(w.out, "Welcome to PolicyGuard Setup Wizard")
	fmt.Fprintln(w.out, "---------------------------------")

	// 1. Embeddings
	provider, err := w.choose("Step 1: Choose the embedding provider for semantic matching",
		[]string{"hashing", "gemini", "onnx"}, cfg.Embedding.Provider)
	if err != nil {
		return err
	}
	cfg.Embedding.Provider = provider
	switch provider {
	case "gemini":
		if key := w.ask("Google API key (empty keeps the current one)"); key != "" {
			cfg.SetAPIKey("gemini", key)
		}
	case "onnx":
		if dir := w.ask("Directory with model.onnx and vocab.txt"); dir != "" {
			cfg.Embedding.ModelDir = dir
		}
	}

	// 2. Reasoning
	strategy, err := w.choose("\nStep 2: Choose how gap reasoning is produced",
		[]string{"rule_based", "generative"}, cfg.Reasoning.Strategy)
	if err != nil {
		return err
	}
	cfg.Reasoning.Strategy = strategy
	if strategy == "generative" {
		if err := w.setupGenerator(cmd, cfg); err != nil {
			return err
		}
	}

	// 3. Risk model
	fmt.Fprintln(w.out, "\nStep 3: Risk model")
	if path := w.ask("Path to a trained model (empty trains the default at start-up)"); path != "" {
		cfg.Risk.ModelPath = path
	}
	return nil
}

func (w *wizard) setupGenerator(cmd *cobra.Command, cfg *config.Config) error {
	provider, err := w.choose("Choose the generative provider", adk.Providers, cfg.SelectedProvider)
	if err != nil {
		return err
	}
	cfg.SelectedProvider = provider

	if key := w.ask(fmt.Sprintf("API key for %s (empty keeps the current one)", provider)); key != "" {
		cfg.SetAPIKey(provider, key)
	}
	apiKey := cfg.GetAPIKey(provider)
	if apiKey == "" {
		return fmt.Errorf("no API key for %s", provider)
	}

	fmt.Fprintln(w.out, "Validating key and fetching available models...")
	ctx := cmd.Context()
	p, err := adk.NewProvider(ctx, provider, adk.Options{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("error initializing provider: %w", err)
	}
	models, err := p.ListModels(ctx)
	if err == nil && len(models) == 0 {
		err = fmt.Errorf("provider returned no models")
	}
	if err != nil {
		fmt.Fprintf(w.out, "Warning: Could not fetch models from API: %v\n", err)
		if m := w.ask("Model name (e.g., 'gemini-1.5-flash', 'gpt-4o-mini')"); m != "" {
			cfg.SelectedModel = m
		}
		return nil
	}

	def := cfg.SelectedModel
	if !slices.Contains(models, def) {
		def = models[0]
	}
	model, err := w.choose(fmt.Sprintf("Successfully retrieved %d models.", len(models)), models, def)
	if err != nil {
		fmt.Fprintln(w.out, "Invalid selection. Using", def)
		model = def
	}
	cfg.SelectedModel = model
	return nil
}

func init() {
	configCmd.AddCommand(setupCmd)
}
