package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"autorip/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent imaging jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				jobs, err := store.RecentJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No imaging jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.StartedAt.Local().Format("2006-01-02 15:04"),
						strconv.Itoa(job.Drive),
						job.Label,
						binLabel(job.SourceBin),
						binLabel(job.OutputBin),
						string(job.Status),
						phaseLabel(job),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					textCol("Started"), numCol("Drive"), textCol("Label"), numCol("From"), numCol("To"),
					textCol("Status"), textCol("Detail"),
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	return cmd
}

func newSamplesCommand(ctx *commandContext) *cobra.Command {
	samplesCmd := &cobra.Command{
		Use:   "samples",
		Short: "Bin offset samples for calibration",
	}

	var outputPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write recorded bin samples as Bin,Count,Offset CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(store *ledger.Store) error {
				var w io.Writer = cmd.OutOrStdout()
				if path := strings.TrimSpace(outputPath); path != "" && path != "-" {
					file, err := os.Create(path)
					if err != nil {
						return fmt.Errorf("create %s: %w", path, err)
					}
					defer file.Close()
					w = file
				}
				n, err := store.ExportSamplesCSV(cmd.Context(), w)
				if err != nil {
					return err
				}
				if w != cmd.OutOrStdout() {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d samples to %s\n", n, outputPath)
				}
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "CSV destination (default stdout)")

	samplesCmd.AddCommand(exportCmd)
	return samplesCmd
}

func binLabel(bin int) string {
	if bin <= 0 {
		return "-"
	}
	return strconv.Itoa(bin)
}

func phaseLabel(job ledger.JobRecord) string {
	if job.Error != "" {
		return job.Error
	}
	if job.Status == ledger.JobImaging {
		return fmt.Sprintf("phase %d", job.Phase)
	}
	return job.ISOPath
}
