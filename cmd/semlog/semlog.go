// Package semlogcmder
package semlogcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/semlog/cmd/semlog/config"
	initcmder "github.com/papercomputeco/semlog/cmd/semlog/init"
	replaycmder "github.com/papercomputeco/semlog/cmd/semlog/replay"
	servecmder "github.com/papercomputeco/semlog/cmd/semlog/serve"
	versioncmder "github.com/papercomputeco/semlog/cmd/version"
)

const semlogLongDesc string = `Semlog turns physics simulation ticks into semantic episode logs.

Every tick is checked for contact, support, grasp, reach and proximity
events. Finished episodes are written as OWL experiment documents to the
configured sinks.

Run using:
  semlog serve              Run the HTTP ingest server
  semlog replay <file>      Replay a recorded episode
  semlog init               Initialize a local .semlog/ directory
  semlog config list        Show the configuration`

const semlogShortDesc string = "Semlog - Semantic Simulation Logging"

func NewSemlogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "semlog",
		Short:        semlogShortDesc,
		Long:         semlogLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .semlog/ directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(replaycmder.NewReplayCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
