// Package replaycmder provides the replay command, which runs a recorded
// episode through the pipeline and writes it to the configured sinks.
package replaycmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pipeline"
	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/cliui"
	"github.com/papercomputeco/semlog/pkg/config"
	"github.com/papercomputeco/semlog/pkg/logger"
	"github.com/papercomputeco/semlog/pkg/recording"
)

type replayCommander struct {
	pipeline config.PipelineFlags
	plain    bool

	configDir string
	debug     bool
	viper     *viper.Viper
	logger    *zap.Logger
}

const replayLongDesc string = `Replay a recorded episode.

The recording is a YAML or JSON file holding the frames of one episode.
Every frame is fed through detection and snapshot sampling exactly as a
live simulation would, and the finished episode is written to every
enabled sink. The event timeline and the per-sink outcome are printed when
the sinks are done.

Examples:
  semlog replay run-42.yaml
  semlog replay run-42.json --task stack_blocks --sqlite runs.db
  semlog replay run-42.yaml --debounce-on 1 --plain`

const replayShortDesc string = "Replay a recorded episode"

func NewReplayCmd() *cobra.Command {
	cmder := &replayCommander{}

	cmd := &cobra.Command{
		Use:   "replay <recording>",
		Short: replayShortDesc,
		Long:  replayLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			var err error
			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, config.Flags, config.PipelineFlagKeys)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}

	config.AddPipelineFlags(cmd, &cmder.pipeline)
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Print raw markdown and plain logs instead of rendering them")

	return cmd
}

func (c *replayCommander) run(ctx context.Context, w, status io.Writer, path string) error {
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(!c.plain), logger.WithWriter(status))
	defer c.logger.Sync()

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rec, err := recording.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := pipeline.Open(ctx, cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}

	outcome, err := recording.Replay(ctx, session, rec, c.logger)
	if err != nil {
		return errors.Join(err, session.Shutdown(context.WithoutCancel(ctx)))
	}

	var report *writer.Report
	err = cliui.Step(status, "Writing episode "+outcome.EpisodeID, func() error {
		var err error
		report, err = session.Wait(ctx, outcome.EpisodeID)
		return err
	})
	if err != nil {
		return errors.Join(err, session.Shutdown(context.WithoutCancel(ctx)))
	}

	if err := session.Shutdown(ctx); err != nil {
		return err
	}

	md := cliui.TimelineMarkdown(outcome.Result.Episode) + "\n" + cliui.ReportMarkdown(report)
	if outcome.TickErrors > 0 {
		md += fmt.Sprintf("\n%d of %d frames were rejected.\n", outcome.TickErrors, len(rec.Frames))
	}

	if !c.plain {
		if rendered, err := cliui.RenderMarkdown(md); err == nil {
			md = rendered
		}
	}
	fmt.Fprint(w, md)

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("episode %s failed on %d of %d sinks", report.EpisodeID, len(failed), len(report.Results))
	}

	return nil
}
