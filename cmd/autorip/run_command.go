package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autorip/internal/daemon"
	"autorip/internal/preflight"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var setup bool
	var headless bool
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Image every disc in the input bins",
		Long: "Load, image, and unload discs on every configured drive until the input bins are empty,\n" +
			"the output bins are full, or the run is interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !skipChecks && ctx.runtimeOptions.Transport == nil {
				if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg)); len(failed) > 0 {
					return fmt.Errorf("%d preflight checks failed (first: %s: %s); run `autorip check` for details",
						len(failed), failed[0].Name, failed[0].Detail)
				}
			}

			summary, err := daemon.Run(cmd.Context(), cfg, daemon.RunOptions{
				Setup:       setup,
				Interactive: !headless && ctx.isInteractive(),
				Input:       cmd.InOrStdin(),
				Output:      cmd.OutOrStdout(),
				Options:     ctx.runtimeOptions,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(summary.Results))
			for _, result := range summary.Results {
				detail := ""
				if result.Err != nil {
					detail = result.Err.Error()
				}
				if result.DiscInDrive {
					detail = strings.Join(nonEmpty("disc left in drive", detail), "; ")
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", result.Drive),
					result.Device,
					fmt.Sprintf("%d", result.Discs),
					result.Outcome,
					detail,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				numCol("Drive"), textCol("Device"), numCol("Discs"), textCol("Outcome"), textCol("Detail"),
			}, rows))
			fmt.Fprintf(out, "Imaged %d discs. Log: %s\n", summary.Discs(), summary.LogPath)
			if summary.Failed() {
				return fmt.Errorf("one or more drives stopped on an error")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&setup, "setup", false, "Re-seat every bin before starting")
	cmd.Flags().BoolVar(&headless, "headless", false, "Log to the console instead of showing the dashboard")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Start without running preflight checks")
	return cmd
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
