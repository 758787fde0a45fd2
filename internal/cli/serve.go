package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"parley/internal/bootstrap"
	"parley/internal/config"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var bindAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer inbound calls forwarded by the softswitch",
		Long: "Listen for outbound-socket connections from FreeSWITCH and run an\n" +
			"isolated conversation on each inbound call. Stops gracefully on SIGINT.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if bindAddr != "" {
				cfg.Server.BindAddr = bindAddr
			}
			if err := cfg.Validate(config.ModeInbound); err != nil {
				return err
			}

			services, err := bootstrap.Build(cfg, deps.Logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := bootstrap.Serve(ctx, services); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&bindAddr, "bind", "b", "", "Address to accept inbound call sockets on")

	return cmd
}
