package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"syscall"

	"shop_automation/application/workflow"
	"shop_automation/domain/entities"
	"shop_automation/presentation/terminal"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the full flow once: login, find the product, add it to the cart, verify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			kind := a.cfg.BackendKind(runtime.GOOS)
			console := terminal.NewTerminalInterface(a.in, a.out, a.logger)
			gate := workflow.NewGate()
			engine, err := buildEngine(a.cfg, kind, a.logger,
				workflow.WithGate(gate),
				workflow.WithObserver(console.Acknowledger(gate.Acknowledge)),
			)
			if err != nil {
				return err
			}
			return a.runFull(ctx, engine)
		},
	}
	cmd.Flags().String("search", "", "product to look for (overrides target.search_term)")
	return cmd
}

// runFull executes the full plan with the configured credentials and term and prints the outcome
func (a *app) runFull(ctx context.Context, engine *workflow.Engine) error {
	result, err := engine.Run(ctx, entities.PlanFull, &entities.WorkflowContext{
		TargetURL:   a.cfg.Target.URL,
		Credentials: a.cfg.CredentialsValue(),
		SearchTerm:  a.cfg.Target.SearchTerm,
	})
	printResult(a.out, result)
	return err
}

func printResult(w io.Writer, result *workflow.Result) {
	if result == nil {
		return
	}
	fmt.Fprintf(w, "Run %s finished in state %s\n", result.RunID, result.State)
	if result.FailedAt != "" {
		fmt.Fprintf(w, "Failed at: %s\n", result.FailedAt)
	}
	if p := result.Product; p != nil {
		fmt.Fprintf(w, "Product: %s\nPrice: %s\nDescription: %s\n", p.Name, p.Price, p.Description)
	}
}
