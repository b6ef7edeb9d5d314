// Package configcmder provides the config command for managing persistent
// semlog configuration stored in the .semlog/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent semlog configuration.

Configuration is stored as config.toml in the .semlog/ directory and provides
default values for command flags. Environment variables (SEMLOG_*) override
the file, and CLI flags override both.

Keys use dotted notation matching the TOML section structure, for example:
  detection.debounce_on_ticks, detection.classes, detection.manipulator_tag,
  snapshot.interval_ms, writer.batch_size, episode.task_id, episode.manipulators,
  sinks.file.enabled, sinks.sqlite.path, eventstream.kafka.brokers

Use subcommands to get, set, or list configuration values:
  semlog config set <key> <value>    Set a configuration value
  semlog config get <key>            Get a configuration value
  semlog config list                 List all configuration values

Examples:
  semlog config set detection.classes Contact,Grasp,Reach
  semlog config set sinks.sqlite.enabled true
  semlog config get writer.batch_size
  semlog config list`

const configShortDesc string = "Manage persistent semlog configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
