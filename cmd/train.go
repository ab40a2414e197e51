package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/riskmodel"
)

var trainCmd = &cobra.Command{
	Use:   "train-model",
	Short: "Train the audit risk model on synthetic data and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		samples, _ := cmd.Flags().GetInt("samples")
		trees, _ := cmd.Flags().GetInt("trees")
		depth, _ := cmd.Flags().GetInt("max-depth")
		seed, _ := cmd.Flags().GetInt64("seed")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		opts := riskmodel.DefaultTrainOptions()
		opts.Trees = trees
		opts.MaxDepth = depth
		opts.Seed = seed

		X, y := riskmodel.SyntheticData(samples, seed)
		forest, err := riskmodel.Train(X, y, opts)
		if err != nil {
			return err
		}
		if err := forest.Save(out); err != nil {
			return err
		}
		logger.Info("risk model saved",
			zap.String("path", out),
			zap.Int("samples", len(X)),
			zap.Int("trees", opts.Trees))
		fmt.Fprintf(cmd.OutOrStdout(), "Risk model written to %s. Set risk.model_path to use it.\n", out)
		return nil
	},
}

func init() {
	defaults := riskmodel.DefaultTrainOptions()
	trainCmd.Flags().String("out", "risk_model.json", "Output path of the model artifact")
	trainCmd.Flags().Int("samples", 300, "Number of synthetic training samples")
	trainCmd.Flags().Int("trees", defaults.Trees, "Number of trees")
	trainCmd.Flags().Int("max-depth", defaults.MaxDepth, "Maximum tree depth")
	trainCmd.Flags().Int64("seed", defaults.Seed, "Random seed")
	rootCmd.AddCommand(trainCmd)
}
