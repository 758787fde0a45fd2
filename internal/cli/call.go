package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parley/internal/bootstrap"
	"parley/internal/config"
)

func NewCallCmd(deps *Dependencies) *cobra.Command {
	var destination string
	var gateway string
	var callerID string

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place an outbound call and hold a conversation on it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if destination != "" {
				cfg.Call.Destination = destination
			}
			if gateway != "" {
				cfg.Call.Gateway = gateway
			}
			if callerID != "" {
				cfg.Call.CallerID = callerID
			}
			if err := cfg.Validate(config.ModeOutbound); err != nil {
				return err
			}

			services, err := bootstrap.Build(cfg, deps.Logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcome, err := bootstrap.RunOutbound(ctx, services)
			if err != nil {
				return err
			}
			deps.Logger.Info("call complete", zap.String("outcome", string(outcome)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Number to dial")
	cmd.Flags().StringVarP(&gateway, "gateway", "g", "", "Softswitch gateway name")
	cmd.Flags().StringVar(&callerID, "caller-id", "", "Caller ID number to present")

	return cmd
}
