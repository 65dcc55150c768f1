package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pangshuai227/ai-stocklink/internal/app"
	"github.com/pangshuai227/ai-stocklink/internal/domain"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Run one ingest and notify cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(cmd.Context(), ctx.config(), ctx.logger(cmd))
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.RunBatch(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\n", report.RunID)
			fmt.Fprintln(out, renderIngestReport(report.Ingest))
			fmt.Fprintf(out, "notified %d/%d users (%d empty, %d failed)\n",
				report.Notify.Sent, report.Notify.Users, report.Notify.Empty, len(report.Notify.Failed))

			stored, err := application.Repository().CountContent(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d content records stored\n", stored)
			return nil
		},
	}
}

func renderIngestReport(report domain.IngestReport) string {
	ids := make([]string, 0, len(report.PerItem))
	for id := range report.PerItem {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		item := report.PerItem[id]
		status := "ok"
		if item.Err != nil {
			status = item.Err.Error()
		}
		rows = append(rows, []string{
			id,
			strconv.Itoa(item.Inserted),
			strconv.Itoa(item.Duplicates),
			strconv.Itoa(item.Skipped),
			status,
		})
	}
	return renderTable(
		[]string{"Code", "New", "Duplicate", "Skipped", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}
