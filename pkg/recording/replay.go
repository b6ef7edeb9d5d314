package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
)

// Driver runs one episode at a time. *pipeline.Session implements it.
type Driver interface {
	Start(ctx context.Context, start time.Duration, meta episode.Meta) (string, error)
	Tick(ctx context.Context, f observation.Frame) error
	Close(ctx context.Context, end time.Duration) (*episode.Result, error)
	Abort(ctx context.Context, end time.Duration) (*episode.Result, error)
}

// Outcome summarizes one replayed recording.
type Outcome struct {
	EpisodeID string
	Result    *episode.Result

	// TickErrors counts ticks the driver rejected. The replay continues past
	// them, as a live simulation would.
	TickErrors int
}

// Replay feeds every frame of rec through d as one episode and ends it with
// a close, or an abort when the recording says so. Tick errors are logged and
// counted; only lifecycle errors stop the replay.
func Replay(ctx context.Context, d Driver, rec *Recording, logger *zap.Logger) (*Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rec.Frames) == 0 {
		return nil, ErrNoFrames
	}

	start, end := rec.Bounds()

	id, err := d.Start(ctx, start, episode.Meta{ID: rec.EpisodeID, TaskID: rec.TaskID})
	if err != nil {
		return nil, fmt.Errorf("starting episode: %w", err)
	}

	out := &Outcome{EpisodeID: id}
	for _, f := range rec.Frames {
		if err := ctx.Err(); err != nil {
			res, abortErr := d.Abort(context.WithoutCancel(ctx), f.Timestamp)
			out.Result = res
			return out, errors.Join(err, abortErr)
		}

		if err := d.Tick(ctx, f); err != nil {
			out.TickErrors++
			logger.Warn("tick rejected",
				zap.String("episode_id", id),
				zap.Duration("timestamp", f.Timestamp),
				zap.Error(err),
			)
		}
	}

	if rec.Aborted {
		out.Result, err = d.Abort(ctx, end)
	} else {
		out.Result, err = d.Close(ctx, end)
	}
	return out, err
}
