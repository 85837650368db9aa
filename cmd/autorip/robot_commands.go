package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"autorip/internal/daemon"
)

func newInventoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Probe every bin and print its disc count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *daemon.Runtime) error {
				readings, err := rt.Manager.Inventory(runCtx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(readings))
				for _, reading := range readings {
					count, free, offset := "unknown", "unknown", "-"
					if reading.Known {
						count = strconv.Itoa(reading.Count)
						free = strconv.Itoa(reading.Free())
						offset = strconv.Itoa(reading.Offset)
					}
					rows = append(rows, []string{
						strconv.Itoa(reading.Bin.Index),
						string(reading.Bin.Role),
						count,
						strconv.Itoa(reading.Bin.Capacity),
						free,
						offset,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
					numCol("Bin"), textCol("Role"), numCol("Discs"), numCol("Capacity"), numCol("Free"), numCol("Offset"),
				}, rows))
				return nil
			})
		},
	}
}

func newRecalibrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recalibrate",
		Short: "Clear robot faults and re-seat every bin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *daemon.Runtime) error {
				if err := rt.Manager.SetupBays(runCtx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recalibrated %d bins\n", len(rt.Config.Bins))
				return nil
			})
		},
	}
}

func newLoadTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "load-test",
		Short: "Load every drive top to bottom, then unload in reverse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *daemon.Runtime) error {
				if err := rt.Manager.LoadTest(runCtx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Load test complete")
				return nil
			})
		},
	}
}
