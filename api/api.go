package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pipeline"
	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
)

// Session is the episode driver behind the server. *pipeline.Session
// implements it.
type Session interface {
	Start(ctx context.Context, start time.Duration, meta episode.Meta) (string, error)
	Tick(ctx context.Context, f observation.Frame) error
	Close(ctx context.Context, end time.Duration) (*episode.Result, error)
	Abort(ctx context.Context, end time.Duration) (*episode.Result, error)
	Current() (*episode.Episode, bool)
	Active() []episode.EventOccurrence
	Stats() pipeline.Stats
}

// Server is the ingest API server.
type Server struct {
	config  Config
	session Session
	logger  *zap.Logger
	app     *fiber.App
}

// NewServer creates a new API server driving session.
func NewServer(config Config, session Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:  config,
		session: session,
		logger:  logger,
		app:     app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/episodes", s.handleStartEpisode)
	app.Get("/episodes/current", s.handleCurrentEpisode)
	app.Post("/episodes/close", s.handleCloseEpisode)
	app.Post("/episodes/abort", s.handleAbortEpisode)
	app.Post("/ticks", s.handleTick)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
