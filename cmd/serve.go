package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if !DebugMode {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		analyzer, cleanup, err := buildAnalyzer(ctx, cfg, logger, reg)
		if err != nil {
			return err
		}
		defer cleanup()

		logger.Info("policy analysis API starting",
			zap.String("addr", cfg.Server.Addr),
			zap.Strings("frameworks", analyzer.Catalogs().IDs()),
			zap.String("embedding", cfg.Embedding.Provider),
			zap.String("reasoning", cfg.Reasoning.Strategy))

		if err := server.New(analyzer, reg, logger).Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
			return err
		}
		logger.Info("policy analysis API stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
