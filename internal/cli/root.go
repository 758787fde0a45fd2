package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/version"
)

// Dependencies carries the pieces every command needs.
type Dependencies struct {
	Config config.Config
	Logger *zap.Logger
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Voice conversations over a softswitch",
		Long: "Parley places and answers phone calls through a FreeSWITCH event socket\n" +
			"and holds a turn-based voice conversation on each one: capture the\n" +
			"caller, transcribe, generate a reply, speak it back.",
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewCallCmd(deps))
	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}
