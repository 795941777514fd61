package cli

import (
	"runtime"

	"shop_automation/application/agent"
	"shop_automation/application/workflow"
	"shop_automation/domain/entities"
	"shop_automation/presentation/terminal"

	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive mode: 'login', 'search <product>' or 'exit'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := chatBackend(a, cmd)
			console := terminal.NewTerminalInterface(a.in, a.out, a.logger)
			gate := workflow.NewGate()
			engine, err := buildEngine(a.cfg, kind, a.logger,
				workflow.WithGate(gate),
				workflow.WithObserver(console.Acknowledger(gate.Acknowledge)),
			)
			if err != nil {
				return err
			}
			a.logger.WithField("backend", kind).Info("starting conversation")

			dispatcher := agent.NewDispatcher(engine, a.cfg.Target.URL, a.cfg.CredentialsValue(), a.logger)
			return console.Run(cmd.Context(), dispatcher)
		},
	}
}

// chatBackend drives the visible browser natively unless --backend names one explicitly
func chatBackend(a *app, cmd *cobra.Command) entities.BackendKind {
	if cmd.Flags().Changed("backend") {
		return a.cfg.BackendKind(runtime.GOOS)
	}
	return entities.NativeBackendFor(runtime.GOOS)
}
