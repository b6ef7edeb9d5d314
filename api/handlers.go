package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pipeline"
	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartRequest opens an episode. Every field is optional.
type StartRequest struct {
	EpisodeID string        `json:"episode_id,omitempty"`
	TaskID    string        `json:"task_id,omitempty"`
	Start     time.Duration `json:"start_ns"`
}

// StartResponse names the opened episode.
type StartResponse struct {
	EpisodeID string `json:"episode_id"`
}

// EndRequest closes or aborts the open episode at End.
type EndRequest struct {
	End time.Duration `json:"end_ns"`
}

// EventSummary is one occurrence of an episode timeline.
type EventSummary struct {
	ID           string             `json:"id"`
	Class        episode.EventClass `json:"class"`
	Participants []string           `json:"participants"`
	Start        time.Duration      `json:"start_ns"`
	End          *time.Duration     `json:"end_ns,omitempty"`
	ParentID     string             `json:"parent_id,omitempty"`
	Truncated    bool               `json:"truncated,omitempty"`
	Untagged     bool               `json:"untagged,omitempty"`
}

// EpisodeSummary describes an open or finished episode.
type EpisodeSummary struct {
	EpisodeID  string          `json:"episode_id"`
	TaskID     string          `json:"task_id,omitempty"`
	Start      time.Duration   `json:"start_ns"`
	End        time.Duration   `json:"end_ns,omitempty"`
	Aborted    bool            `json:"aborted,omitempty"`
	Events     []EventSummary  `json:"events"`
	Active     []EventSummary  `json:"active,omitempty"`
	Snapshots  int             `json:"snapshots"`
	DocumentID string          `json:"document_id,omitempty"`
	Stats      *pipeline.Stats `json:"stats,omitempty"`
}

func summarizeEvents(events []episode.EventOccurrence) []EventSummary {
	out := make([]EventSummary, 0, len(events))
	for _, e := range events {
		out = append(out, EventSummary{
			ID:           e.ID,
			Class:        e.Class,
			Participants: e.Participants,
			Start:        e.Start,
			End:          e.End,
			ParentID:     e.ParentID,
			Truncated:    e.Truncated,
			Untagged:     e.Untagged,
		})
	}
	return out
}

func summarize(ep *episode.Episode) EpisodeSummary {
	return EpisodeSummary{
		EpisodeID: ep.ID,
		TaskID:    ep.TaskID,
		Start:     ep.Start,
		End:       ep.End,
		Aborted:   ep.Aborted,
		Events:    summarizeEvents(ep.Events),
		Snapshots: len(ep.Snapshots),
	}
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case episode.IsStateError(err):
		return fiber.StatusConflict
	case writer.IsBackpressure(err), errors.Is(err, writer.ErrWriterClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStartEpisode opens a new episode.
func (s *Server) handleStartEpisode(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}
	if req.Start < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "start_ns must not be negative"})
	}

	id, err := s.session.Start(c.UserContext(), req.Start, episode.Meta{ID: req.EpisodeID, TaskID: req.TaskID})
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StartResponse{EpisodeID: id})
}

// handleTick ingests one simulation frame.
func (s *Server) handleTick(c *fiber.Ctx) error {
	var frame observation.Frame
	if err := c.BodyParser(&frame); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid frame"})
	}

	if err := s.session.Tick(c.UserContext(), frame); err != nil {
		return s.fail(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// handleCloseEpisode closes the open episode.
func (s *Server) handleCloseEpisode(c *fiber.Ctx) error {
	return s.end(c, s.session.Close)
}

// handleAbortEpisode aborts the open episode.
func (s *Server) handleAbortEpisode(c *fiber.Ctx) error {
	return s.end(c, s.session.Abort)
}

func (s *Server) end(c *fiber.Ctx, finish func(ctx context.Context, end time.Duration) (*episode.Result, error)) error {
	var req EndRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	res, err := finish(c.UserContext(), req.End)
	if res == nil {
		return s.fail(c, err)
	}

	summary := summarize(res.Episode)
	if res.Document != nil {
		summary.DocumentID = res.Document.ID
	}
	if err != nil {
		s.logger.Error("episode finished with errors",
			zap.String("episode_id", summary.EpisodeID),
			zap.Error(err),
		)
		return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(summary)
}

// handleCurrentEpisode describes the open episode.
func (s *Server) handleCurrentEpisode(c *fiber.Ctx) error {
	ep, ok := s.session.Current()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "no open episode"})
	}

	summary := summarize(ep)
	summary.Active = summarizeEvents(s.session.Active())
	stats := s.session.Stats()
	summary.Stats = &stats

	return c.JSON(summary)
}
