package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/policyqa/internal/config"
	"github.com/markdave123-py/policyqa/internal/core/ingestion_engine"
	"github.com/markdave123-py/policyqa/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	rootCmd := &cobra.Command{
		Use:           "policyqa",
		Short:         "Publish and query the policy document index",
		Long:          "Operator commands for the policy document question answering service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if _, set := os.LookupEnv("MANIFEST_KEY"); !set && cmd.Flags().Changed("doc-id") {
				cfg.ManifestKey = ingestion_engine.ManifestKey(cfg.DocID)
			}
			level := logger.LogLevel(cfg.LogLevel)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = logger.DebugLevel
			}
			log := logger.NewLogger(&logger.Config{
				Level:      level,
				Output:     os.Stderr,
				JSON:       cfg.LogJSON,
				TimeFormat: time.Kitchen,
			})
			logger.SetDefault(log)
			cmd.SetContext(logger.ContextWithLogger(cmd.Context(), log))
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfg.DocID, "doc-id", cfg.DocID, "Document id to operate on")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(publishCmd(cfg))
	rootCmd.AddCommand(refreshCmd(cfg))
	rootCmd.AddCommand(statusCmd(cfg))
	rootCmd.AddCommand(askCmd(cfg))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.FromContext(ctx).Error(err.Error())
		os.Exit(1)
	}
}
