package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pangshuai227/ai-stocklink/internal/app"
	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/extraction"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var asText bool

	cmd := &cobra.Command{
		Use:   "extract <image-file|->",
		Short: "Extract stock names and codes from a screenshot or text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			in := extraction.Input{Text: string(raw)}
			if !asText {
				in = extraction.Input{ImageBase64: base64.StdEncoding.EncodeToString(raw)}
			}

			services := app.NewServices(ctx.config(), ctx.logger(cmd))
			result, err := services.Extractor.Extract(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderExtraction(result))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asText, "text", false, "Treat the input as plain text instead of an image")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return raw, nil
}

func renderExtraction(result domain.ExtractionResult) string {
	rows := make([][]string, 0, len(result.Candidates)+len(result.Rejected))
	for _, c := range result.Candidates {
		rows = append(rows, []string{c.Name, c.Identifier, "accepted"})
	}
	for _, r := range result.Rejected {
		rows = append(rows, []string{r.Line, "", r.Reason})
	}
	return renderTable([]string{"Name", "Code", "Status"}, rows, nil)
}
