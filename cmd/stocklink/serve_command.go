package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pangshuai227/ai-stocklink/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the scheduled batch until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := ctx.logger(cmd)
			application, err := app.New(runCtx, ctx.config(), logger)
			if err != nil {
				return err
			}
			defer application.Close()

			logger.Info("stocklink started", "bind", ctx.config().API.Bind, "interval", ctx.config().Scheduler.Interval)
			return application.Serve(runCtx)
		},
	}
}
