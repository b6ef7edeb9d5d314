// Package servecmder provides the serve command running the HTTP ingest
// server.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/semlog/api"
	"github.com/papercomputeco/semlog/pipeline"
	"github.com/papercomputeco/semlog/pkg/config"
	"github.com/papercomputeco/semlog/pkg/logger"
)

// shutdownTimeout bounds the final abort of an open episode.
const shutdownTimeout = 10 * time.Second

type ServeCommander struct {
	listen   string
	pipeline config.PipelineFlags

	configDir string
	debug     bool
	viper     *viper.Viper
	logger    *zap.Logger
}

const serveLongDesc string = `Run the semlog HTTP ingest server.

A simulation drives one episode at a time over HTTP:
  POST /episodes           Open an episode
  POST /ticks              Submit one simulation frame
  GET  /episodes/current   Inspect the open episode
  POST /episodes/close     Close the episode and write its document
  POST /episodes/abort     Abort the episode

Settings come from flags, SEMLOG_* environment variables and config.toml,
in that order. Edits to the detection and snapshot sections of config.toml
apply from the next episode without a restart.`

const serveShortDesc string = "Run the semlog ingest server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, config.Flags, append([]string{config.FlagListen}, config.PipelineFlagKeys...))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddPipelineFlags(cmd, &cmder.pipeline)

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	session, err := pipeline.Open(ctx, cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, session, c.logger)

	watching := config.Watch(c.viper, c.logger, func(next *config.Config) {
		if err := session.ApplyConfig(next); err != nil {
			c.logger.Warn("could not apply config change", zap.Error(err))
			return
		}
		c.logger.Info("detection settings apply from the next episode; sink changes need a restart")
	})
	if watching {
		c.logger.Info("watching config file", zap.String("file", c.viper.ConfigFileUsed()))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		return errors.Join(server.Shutdown(), session.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
