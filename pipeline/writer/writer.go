// Package writer provides the asynchronous storage writer that moves
// serialized episodes and raw frames from the tick thread to the configured
// sinks.
//
// Every sink gets its own bounded queue and goroutine, so a slow or failing
// sink never holds back another one. Within a sink, writes are committed in
// the order they were enqueued and an episode's frames and documents are
// flushed completely before the next episode's first write is issued.
package writer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/eventstream"
	"github.com/papercomputeco/semlog/pkg/sink"
)

var (
	defaultQueueSize      uint = 256
	defaultBatchSize           = 64
	defaultBatchTimeout        = 250 * time.Millisecond
	defaultMaxRetries     uint = 5
	defaultEnqueueTimeout      = time.Second
	defaultRetryInitial        = 50 * time.Millisecond
	defaultRetryMax            = 2 * time.Second
)

// Config is the configuration for a Writer.
type Config struct {
	// Sinks receive every write. Sink names must be unique.
	Sinks []sink.Sink

	// BatchSize is the number of frames buffered per sink before a flush.
	BatchSize int

	// BatchTimeout flushes a partial frame batch after it has waited this
	// long.
	BatchTimeout time.Duration

	// MaxRetries is the number of attempts per write, the first included.
	MaxRetries uint

	// RetryInitialInterval and RetryMaxInterval bound the exponential
	// backoff between attempts.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// QueueSize is the capacity of each sink queue.
	QueueSize uint

	// EnqueueTimeout is how long a producer waits on a full queue before
	// the write fails with a BackpressureTimeoutError.
	EnqueueTimeout time.Duration

	// Publisher is notified once every sink has finished an episode.
	// Optional.
	Publisher eventstream.Publisher

	// OnResult is called from the sink goroutines with every per-sink
	// episode result. Optional.
	OnResult func(Result)

	// Meter records writer metrics. Defaults to the global meter provider.
	Meter metric.Meter

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Episode is the final write set of an episode.
type Episode struct {
	ID        string
	TaskID    string
	Aborted   bool
	Documents []*sink.Document
}

// Writer fans episode data out to sinks.
type Writer struct {
	config  *Config
	workers []*sinkWorker
	tracker *tracker
	metrics *metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a Writer and starts one goroutine per sink.
func New(c *Config) (*Writer, error) {
	if len(c.Sinks) == 0 {
		return nil, errors.New("writer requires at least one sink")
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = defaultEnqueueTimeout
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = defaultRetryInitial
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		c.RetryMaxInterval = max(defaultRetryMax, c.RetryInitialInterval)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	seen := make(map[string]struct{}, len(c.Sinks))
	for _, s := range c.Sinks {
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate sink name %q", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}

	m, err := newMetrics(c.Meter)
	if err != nil {
		return nil, fmt.Errorf("creating writer metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		config:  c,
		tracker: newTracker(len(c.Sinks), c.Publisher, c.OnResult, c.Logger),
		metrics: m,
		logger:  c.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	w.wg.Add(len(c.Sinks))
	for _, s := range c.Sinks {
		sw := newSinkWorker(w, s)
		w.workers = append(w.workers, sw)
		go sw.run()
	}

	return w, nil
}

// EnqueueFrame queues a raw frame on every sink. A sink whose queue stays
// full for the enqueue timeout loses the frame and reports a
// BackpressureTimeoutError; the other sinks still receive it.
func (w *Writer) EnqueueFrame(ctx context.Context, f sink.RawFrame) error {
	return w.enqueue(ctx, job{kind: jobFrame, episodeID: f.EpisodeID, frame: f})
}

// Commit queues the final documents of an episode behind its frames. Each
// sink flushes the episode completely before starting on later writes.
//
// A sink receives an episode's final write once. Calling Commit again after a
// BackpressureTimeoutError resubmits the episode to the sinks that missed it
// and leaves the others untouched.
func (w *Writer) Commit(ctx context.Context, ep Episode) error {
	return w.finish(ctx, ep, job{kind: jobCommit, episodeID: ep.ID, episode: ep})
}

// Discard drops the episode's frames that have not been flushed yet.
// Like Commit, it only reaches sinks that have not accepted a final write
// for the episode.
func (w *Writer) Discard(ctx context.Context, episodeID string) error {
	return w.finish(ctx, Episode{ID: episodeID, Aborted: true}, job{kind: jobDiscard, episodeID: episodeID})
}

func (w *Writer) finish(ctx context.Context, ep Episode, j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	names := make([]string, len(w.workers))
	for i, sw := range w.workers {
		names[i] = sw.sink.Name()
	}
	targets := w.tracker.begin(ep, names)

	var errs []error
	for _, sw := range w.workers {
		if !slices.Contains(targets, sw.sink.Name()) {
			continue
		}
		if err := w.send(ctx, sw, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every sink has finished the episode and returns its
// report.
func (w *Writer) Wait(ctx context.Context, episodeID string) (*Report, error) {
	return w.tracker.wait(ctx, episodeID)
}

// Sync blocks until every sink has processed all previously enqueued writes
// and flushed its pending frames.
func (w *Writer) Sync(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}

	dones := make([]chan struct{}, 0, len(w.workers))
	for _, sw := range w.workers {
		done := make(chan struct{})
		select {
		case sw.queue <- job{kind: jobSync, done: done}:
			dones = append(dones, done)
		case <-ctx.Done():
			w.mu.RUnlock()
			return ctx.Err()
		}
	}
	w.mu.RUnlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (w *Writer) enqueue(ctx context.Context, j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	var errs []error
	for _, sw := range w.workers {
		if err := w.send(ctx, sw, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// send hands j to one sink, waiting at most the enqueue timeout.
func (w *Writer) send(ctx context.Context, sw *sinkWorker, j job) error {
	select {
	case sw.queue <- j:
		return nil
	default:
	}

	timer := time.NewTimer(w.config.EnqueueTimeout)
	defer timer.Stop()

	select {
	case sw.queue <- j:
		return nil
	case <-ctx.Done():
		if j.kind == jobCommit || j.kind == jobDiscard {
			w.tracker.retract(j.episodeID, sw.sink.Name())
		}
		return ctx.Err()
	case <-timer.C:
	}

	err := &BackpressureTimeoutError{
		Sink:      sw.sink.Name(),
		EpisodeID: j.episodeID,
		Timeout:   w.config.EnqueueTimeout,
	}
	w.metrics.backpressure.Add(w.ctx, 1, sw.attrs)
	w.logger.Warn("sink queue full, write dropped",
		zap.String("sink", sw.sink.Name()),
		zap.String("episode_id", j.episodeID),
		zap.String("job", j.kind.String()),
	)

	switch j.kind {
	case jobFrame:
		w.tracker.drop(j.episodeID, sw.sink.Name())
	case jobCommit, jobDiscard:
		status := StatusFailed
		if j.kind == jobDiscard {
			status = StatusDiscarded
		}
		sw.abandon(j.episodeID)
		w.tracker.retract(j.episodeID, sw.sink.Name())
		w.tracker.record(Result{Sink: sw.sink.Name(), EpisodeID: j.episodeID, Status: status, Err: err})
	}
	return err
}

// Close stops accepting writes, drains every queue, and closes the sinks
// and the publisher. Call this after the last episode was committed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, sw := range w.workers {
		close(sw.queue)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	var errs []error
	for _, sw := range w.workers {
		if err := sw.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sink %s: %w", sw.sink.Name(), err))
		}
	}
	if w.config.Publisher != nil {
		if err := w.config.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
