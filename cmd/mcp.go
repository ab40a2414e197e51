package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/mcp"
)

// Version is reported to MCP clients. Overridden at link time.
var Version = "dev"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analysis tools over MCP on stdin/stdout",
	Long: `Runs a Model Context Protocol server on stdio exposing analyze_policy,
list_frameworks and map_control. Logs are written to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		analyzer, cleanup, err := buildAnalyzer(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		logger.Info("MCP server starting", zap.Strings("frameworks", analyzer.Catalogs().IDs()))
		if err := mcp.NewServer(analyzer, Version, logger).Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
