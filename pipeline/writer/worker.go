package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/sink"
)

type jobKind int

const (
	jobFrame jobKind = iota
	jobCommit
	jobDiscard
	jobSync
)

func (k jobKind) String() string {
	switch k {
	case jobFrame:
		return "frame"
	case jobCommit:
		return "commit"
	case jobDiscard:
		return "discard"
	case jobSync:
		return "sync"
	default:
		return "unknown"
	}
}

// job is a unit of work for a sink goroutine.
type job struct {
	kind      jobKind
	episodeID string
	frame     sink.RawFrame
	episode   Episode
	done      chan struct{}
}

// sinkWorker owns one sink. All fields besides queue and abandoned are
// touched only by its goroutine.
type sinkWorker struct {
	w     *Writer
	sink  sink.Sink
	queue chan job
	attrs metric.MeasurementOption

	pending []sink.RawFrame
	timer   *time.Timer
	timeout <-chan time.Time

	// results accumulates per-episode outcomes until the episode is
	// committed or discarded.
	results map[string]*Result

	// abandoned holds episodes whose final write missed the queue. Their
	// frames are held back until the final write is resubmitted or a write
	// of another episode shows it never will be.
	mu        sync.Mutex
	abandoned map[string]struct{}
}

func newSinkWorker(w *Writer, s sink.Sink) *sinkWorker {
	return &sinkWorker{
		w:         w,
		sink:      s,
		queue:     make(chan job, w.config.QueueSize),
		attrs:     metric.WithAttributes(attribute.String("sink", s.Name())),
		results:   make(map[string]*Result),
		abandoned: make(map[string]struct{}),
	}
}

// abandon is called by producers when the final write of an episode could
// not be queued for this sink.
func (sw *sinkWorker) abandon(episodeID string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.abandoned[episodeID] = struct{}{}
}

func (sw *sinkWorker) isAbandoned(episodeID string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	_, ok := sw.abandoned[episodeID]
	return ok
}

// settle resolves abandoned episodes against the next job. A resubmitted
// final write revives its episode. A write of any other episode means the
// abandoned one is over, so its held frames and partial result are dropped.
func (sw *sinkWorker) settle(j job) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for id := range sw.abandoned {
		if id == j.episodeID {
			if j.kind != jobFrame {
				delete(sw.abandoned, id)
			}
			continue
		}
		delete(sw.abandoned, id)

		held := 0
		if len(sw.pending) > 0 && sw.pending[0].EpisodeID == id {
			held = len(sw.pending)
			sw.stopTimer()
			sw.pending = nil
		}
		delete(sw.results, id)

		sw.w.logger.Warn("dropping abandoned episode",
			zap.String("sink", sw.sink.Name()),
			zap.String("episode_id", id),
			zap.Int("held_frames", held),
		)
	}
}

func (sw *sinkWorker) run() {
	defer sw.w.wg.Done()
	sw.w.logger.Debug("sink worker started", zap.String("sink", sw.sink.Name()))

	for {
		select {
		case j, ok := <-sw.queue:
			if !ok {
				sw.flush()
				sw.w.logger.Debug("sink worker stopped", zap.String("sink", sw.sink.Name()))
				return
			}
			sw.handle(j)

		case <-sw.timeout:
			sw.timer, sw.timeout = nil, nil
			sw.flush()
		}
	}
}

func (sw *sinkWorker) handle(j job) {
	if j.kind != jobSync {
		sw.settle(j)
	}

	switch j.kind {
	case jobFrame:
		if len(sw.pending) > 0 && sw.pending[0].EpisodeID != j.frame.EpisodeID {
			sw.flush()
		}
		sw.pending = append(sw.pending, j.frame)
		if len(sw.pending) >= sw.w.config.BatchSize {
			sw.flush()
		} else if sw.timer == nil {
			sw.timer = time.NewTimer(sw.w.config.BatchTimeout)
			sw.timeout = sw.timer.C
		}

	case jobCommit:
		sw.flush()
		sw.commit(j.episode)

	case jobDiscard:
		sw.discard(j.episodeID)

	case jobSync:
		sw.flush()
		close(j.done)
	}
}

func (sw *sinkWorker) result(episodeID string) *Result {
	r, ok := sw.results[episodeID]
	if !ok {
		r = &Result{Sink: sw.sink.Name(), EpisodeID: episodeID}
		sw.results[episodeID] = r
	}
	return r
}

func (sw *sinkWorker) stopTimer() {
	if sw.timer != nil {
		sw.timer.Stop()
		sw.timer, sw.timeout = nil, nil
	}
}

// flush writes the pending frame batch. Pending frames always belong to a
// single episode. Frames of an abandoned episode are held.
func (sw *sinkWorker) flush() {
	sw.stopTimer()
	if len(sw.pending) == 0 || sw.isAbandoned(sw.pending[0].EpisodeID) {
		return
	}

	batch := sw.pending
	sw.pending = nil
	res := sw.result(batch[0].EpisodeID)

	attempts, err := sw.retry("write batch", batch[0].EpisodeID, func(ctx context.Context) error {
		return sw.sink.WriteBatch(ctx, batch)
	})
	res.Attempts += attempts
	if err != nil {
		res.FailedFrames += len(batch)
		res.Err = errors.Join(res.Err, fmt.Errorf("frame batch of %d: %w", len(batch), err))
		return
	}
	res.Frames += len(batch)
	sw.w.metrics.frames.Add(sw.w.ctx, int64(len(batch)), sw.attrs)
}

func (sw *sinkWorker) commit(ep Episode) {
	res := sw.result(ep.ID)
	delete(sw.results, ep.ID)

	for _, doc := range ep.Documents {
		attempts, err := sw.retry("write", ep.ID, func(ctx context.Context) error {
			return sw.sink.Write(ctx, doc)
		})
		res.Attempts += attempts
		if err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("document %s: %w", doc.ID, err))
			continue
		}
		res.Documents++
		sw.w.metrics.documents.Add(sw.w.ctx, 1, sw.attrs)
	}

	res.Status = StatusCommitted
	if res.Err != nil {
		res.Status = StatusFailed
		sw.w.logger.Error("episode failed on sink",
			zap.String("sink", sw.sink.Name()),
			zap.String("episode_id", ep.ID),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err),
		)
	} else {
		sw.w.logger.Info("episode committed",
			zap.String("sink", sw.sink.Name()),
			zap.String("episode_id", ep.ID),
			zap.Int("documents", res.Documents),
			zap.Int("frames", res.Frames),
		)
	}
	sw.w.tracker.record(*res)
}

func (sw *sinkWorker) discard(episodeID string) {
	if len(sw.pending) > 0 && sw.pending[0].EpisodeID == episodeID {
		sw.stopTimer()
		sw.pending = nil
	} else {
		sw.flush()
	}

	res := sw.result(episodeID)
	delete(sw.results, episodeID)
	res.Status = StatusDiscarded

	sw.w.logger.Info("episode discarded",
		zap.String("sink", sw.sink.Name()),
		zap.String("episode_id", episodeID),
		zap.Int("flushed_frames", res.Frames),
	)
	sw.w.tracker.record(*res)
}

// retry runs op with bounded exponential backoff. Only transient sink
// errors are retried. It returns the number of attempts made.
func (sw *sinkWorker) retry(op, episodeID string, fn func(ctx context.Context) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sw.w.config.RetryInitialInterval
	b.MaxInterval = sw.w.config.RetryMaxInterval

	attempts := 0
	start := time.Now()

	_, err := backoff.Retry(sw.w.ctx, func() (struct{}, error) {
		attempts++
		err := fn(sw.w.ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case sink.IsTransient(err):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(sw.w.config.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			sw.w.metrics.retries.Add(sw.w.ctx, 1, sw.attrs)
			sw.w.logger.Warn("sink write failed, retrying",
				zap.String("sink", sw.sink.Name()),
				zap.String("op", op),
				zap.String("episode_id", episodeID),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)

	sw.w.metrics.flushDuration.Record(sw.w.ctx, time.Since(start).Seconds(), sw.attrs)
	if err != nil {
		sw.w.metrics.failures.Add(sw.w.ctx, 1, sw.attrs)
		sw.w.logger.Error("sink write failed",
			zap.String("sink", sw.sink.Name()),
			zap.String("op", op),
			zap.String("episode_id", episodeID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return attempts, err
}
