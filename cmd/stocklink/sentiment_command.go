package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pangshuai227/ai-stocklink/internal/app"
)

func newSentimentCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sentiment <text>",
		Short: "Classify the market impact of a news text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services := app.NewServices(ctx.config(), ctx.logger(cmd))
			result, err := services.Analyzer.AnalyzeNews(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.Conclusion, result.Reason)
			return nil
		},
	}
}
