// Package initcmder provides the init command for initializing a local
// .semlog directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semlog/pkg/cliui"
	"github.com/papercomputeco/semlog/pkg/config"
	"github.com/papercomputeco/semlog/pkg/dotdir"
)

const initLongDesc string = `Initialize a new .semlog/ directory in the current working directory.

Creates a local .semlog/ directory that takes precedence over the default
~/.semlog/ directory for configuration, the file sink tree and the SQLite
database.

With --preset, a config.toml for the named sink setup is written as well.
An existing config.toml is never overwritten.

Presets:
  file        Episode documents and frames as files under .semlog/episodes
  sqlite      The file sink plus a SQLite database at .semlog/semlog.db
  postgres    A local PostgreSQL database only

Examples:
  semlog init
  semlog init --preset sqlite`

const initShortDesc string = "Initialize a local .semlog/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "",
		fmt.Sprintf("Write a config.toml for a sink preset (%s)", strings.Join(config.ValidPresetNames(), ", ")))

	return cmd
}

func runInit(w io.Writer, preset string) error {
	var cfg *config.Config
	if preset != "" {
		var err error
		cfg, err = config.PresetConfig(preset)
		if err != nil {
			return err
		}
	}

	dir, err := dotdir.NewManager().Init("")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Initialized .semlog directory: %s\n", cliui.SuccessMark, dir)

	if cfg == nil {
		return nil
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := cfger.GetTarget()
	if _, err := os.Stat(target); err == nil {
		fmt.Fprintf(w, "%s Keeping existing %s\n", cliui.StepStyle.Render("-"), filepath.Base(target))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Wrote %s preset to %s\n", cliui.SuccessMark, preset, target)

	return nil
}
