package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
)

type commandContext struct {
	configFlag *string
	logLevel   *string
	cfg        *config.Config
}

func (c *commandContext) config() config.Config {
	if c.cfg == nil {
		cfg := config.Load(*c.configFlag)
		if *c.logLevel != "" {
			cfg.Logging.Level = *c.logLevel
		}
		c.cfg = &cfg
	}
	return *c.cfg
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	cfg := c.config()
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevel string
	ctx := &commandContext{configFlag: &configFlag, logLevel: &logLevel}

	rootCmd := &cobra.Command{
		Use:           "stocklink",
		Short:         "Stock watchlist ingestion and notification service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $STOCKLINK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newExtractCommand(ctx))
	rootCmd.AddCommand(newSentimentCommand(ctx))

	return rootCmd
}
