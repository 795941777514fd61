package cli

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"shop_automation/application/scheduler"
	"shop_automation/application/workflow"
	"shop_automation/presentation/terminal"

	"github.com/spf13/cobra"
)

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-runs the full flow at a fixed interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			console := terminal.NewTerminalInterface(a.in, a.out, a.logger)
			gate := workflow.NewGate()
			engine, err := buildEngine(a.cfg, a.cfg.BackendKind(runtime.GOOS), a.logger,
				workflow.WithGate(gate),
				workflow.WithObserver(console.Acknowledger(gate.Acknowledge)),
			)
			if err != nil {
				return err
			}

			sched := scheduler.New(a.logger)
			if _, err := sched.Every(a.cfg.Schedule.Interval, "full-workflow", func(ctx context.Context) error {
				return a.runFull(ctx, engine)
			}); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Scheduling the full flow every %s. Press Ctrl+C to stop.\n", a.cfg.Schedule.Interval)
			return sched.Run(ctx)
		},
	}
	cmd.Flags().Duration("interval", scheduler.DefaultInterval, "time between runs")
	cmd.Flags().String("search", "", "product to look for (overrides target.search_term)")
	return cmd
}
