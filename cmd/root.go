package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/config"
	"github.com/user/policyguard/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "policyguard",
	Short: "Multi-framework compliance scoring for policy documents",
	Long: `PolicyGuard scores segmented policy clauses against ISO 27001, ISO 9001,
GDPR and NIST CSF. It combines keyword verification, semantic matching,
CIA balance analysis and an audit risk model into a Compliance Confidence
Index, with gap explanations and fix plans for every framework.`,
	SilenceUsage: true,
}

var (
	DebugMode  bool
	ConfigPath string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&ConfigPath, "config", "", "Config file (default ~/.policyguard/config.yaml)")
}

// loadConfig reads --config when set, otherwise the default location.
func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		return config.LoadFrom(ConfigPath)
	}
	return config.LoadConfig()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if DebugMode {
		return logging.New("debug", true)
	}
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}
