package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/policyguard/pkg/adk"
	"github.com/user/policyguard/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (providers, models, keys)",
}

// saveConfig writes to --config when set, otherwise the default location.
func saveConfig(cfg *config.Config) error {
	if ConfigPath != "" {
		return config.SaveTo(ConfigPath, cfg)
	}
	return config.SaveConfig(cfg)
}

// updateConfig loads the config, applies fn, validates and saves it.
func updateConfig(fn func(*config.Config)) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	fn(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := saveConfig(cfg); err != nil {
		return nil, fmt.Errorf("error saving config: %w", err)
	}
	return cfg, nil
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the API key of a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		key, _ := cmd.Flags().GetString("key")
		if provider == "" || key == "" {
			return errors.New("--provider and --key are required")
		}
		provider = strings.ToLower(provider)

		if _, err := updateConfig(func(cfg *config.Config) { cfg.SetAPIKey(provider, key) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API key saved for provider: %s\n", provider)
		return nil
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model",
	Short: "Set the generative reasoning provider, model and strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		strategy, _ := cmd.Flags().GetString("strategy")

		cfg, err := updateConfig(func(cfg *config.Config) {
			if provider != "" {
				cfg.SelectedProvider = strings.ToLower(provider)
			}
			if model != "" {
				cfg.SelectedModel = model
			}
			if strategy != "" {
				cfg.Reasoning.Strategy = strategy
			}
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Active configuration updated: Provider=%s, Model=%s, Reasoning=%s\n",
			cfg.SelectedProvider, cfg.SelectedModel, cfg.Reasoning.Strategy)
		return nil
	},
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models from the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		provider := cfg.SelectedProvider
		if provider == "" {
			return errors.New("no provider selected, run 'policyguard config setup'")
		}
		apiKey := cfg.GetAPIKey(provider)
		if apiKey == "" {
			return fmt.Errorf("no API key found for %s", provider)
		}

		ctx := cmd.Context()
		p, err := adk.NewProvider(ctx, provider, adk.Options{APIKey: apiKey})
		if err != nil {
			return fmt.Errorf("error initializing provider: %w", err)
		}
		models, err := p.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("error fetching models: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Available Models (%s):\n", provider)
		for _, m := range models {
			mark := " "
			if m == cfg.SelectedModel {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s\n", mark, m)
		}
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with keys redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := *cfg
		redacted.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
		for name, p := range cfg.Providers {
			if p.APIKey != "" {
				p.APIKey = "********"
			}
			redacted.Providers[name] = p
		}
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	setKeyCmd.Flags().StringP("provider", "p", "", "Provider (gemini, openai, anthropic)")
	setKeyCmd.Flags().StringP("key", "k", "", "API Key")

	setModelCmd.Flags().StringP("provider", "p", "", "Provider (gemini, openai, anthropic)")
	setModelCmd.Flags().StringP("model", "m", "", "Model name")
	setModelCmd.Flags().String("strategy", "", "Reasoning strategy (rule_based or generative)")

	configCmd.AddCommand(setKeyCmd, setModelCmd, listModelsCmd, showConfigCmd)
	rootCmd.AddCommand(configCmd)
}
