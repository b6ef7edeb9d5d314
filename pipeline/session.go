// Package pipeline drives one simulation's episodes: it feeds every tick
// through the observation adapter, the detectors and the snapshot recorder
// into the timeline builder, and hands finished episodes to the storage
// writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pipeline/writer"
	"github.com/papercomputeco/semlog/pkg/detector"
	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/episode"
	"github.com/papercomputeco/semlog/pkg/observation"
	"github.com/papercomputeco/semlog/pkg/sink"
	"github.com/papercomputeco/semlog/pkg/snapshot"
)

// Config is the configuration for a Session.
type Config struct {
	Detection detector.Config
	Snapshot  snapshot.Config

	// Serializer produces the episode document. Nil keeps episodes in memory
	// only.
	Serializer episode.Serializer

	// IDs and Tags resolve simulation handles. Nil uses the handle as the
	// identifier and resolves no tags.
	IDs  entity.IDResolver
	Tags entity.TagResolver

	// ManipulatorTag marks the entities that can reach and grasp. Ignored
	// when Detection.IsManipulator is set.
	ManipulatorTag string

	// Manipulators names entities, by handle or identifier, that can reach
	// and grasp whatever their tags. Ignored when Detection.IsManipulator is
	// set.
	Manipulators []string

	// FlushPartialOnAbort persists the partial document of an aborted
	// episode instead of discarding it.
	FlushPartialOnAbort bool

	// TaskID is used for episodes started without one.
	TaskID string

	// Writer receives frames and finished episodes. Nil keeps episodes in
	// memory only.
	Writer *writer.Writer

	// NewID generates episode identifiers. Defaults to random UUIDs.
	NewID func() string

	Logger *zap.Logger
}

// Stats counts what happened in the current episode.
type Stats struct {
	EpisodeID    string `json:"episode_id"`
	Ticks        int    `json:"ticks"`
	Observations int    `json:"observations"`
	Malformed    int    `json:"malformed"`
	Snapshots    int    `json:"snapshots"`
	Backpressure int    `json:"backpressure"`
}

// Session owns the tick-thread components of one simulation. Calls are
// serialized, so a Session may be shared by concurrent callers such as HTTP
// handlers, but ticks are processed strictly one at a time.
type Session struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	registry  *entity.Registry
	adapter   *observation.Adapter
	recorder  *snapshot.Recorder
	detectors *detector.Set
	builder   *episode.Builder

	pending   *reconfig
	committed string
	last      time.Duration
	stats     Stats
}

type reconfig struct {
	detection      detector.Config
	snapshot       snapshot.Config
	manipulatorTag *string
	manipulators   []string
}

// New creates a Session. No episode is open until Start.
func New(c Config) *Session {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	s := &Session{
		config: c,
		logger: c.Logger,
	}

	s.registry = entity.NewRegistry(c.IDs, c.Tags, c.Logger)
	s.adapter = observation.NewAdapter(s.registry, c.Logger)
	s.recorder = snapshot.NewRecorder(c.Snapshot)
	s.builder = episode.NewBuilder(episode.BuilderConfig{
		Serializer: c.Serializer,
		Entities:   s.registry,
		NewID:      c.NewID,
		Logger:     c.Logger,
	})
	s.detectors = s.newDetectors(c.Detection)
	s.builder.Track(s)

	return s
}

func (s *Session) newDetectors(c detector.Config) *detector.Set {
	if c.Logger == nil {
		c.Logger = s.logger
	}
	if c.IsManipulator == nil {
		c.IsManipulator = s.isManipulator
	}
	return detector.NewSet(c, s.builder)
}

// isManipulator reports whether the entity is listed in Manipulators or its
// resolved tags carry the manipulator tag. Tags compare case-insensitively.
func (s *Session) isManipulator(id string) bool {
	ref, ok := s.registry.Lookup(id)
	if !ok {
		ref = entity.Ref{ID: id}
	}
	for _, m := range s.config.Manipulators {
		if m == ref.ID || (ref.Handle != "" && m == ref.Handle) {
			return true
		}
	}

	tag := s.config.ManipulatorTag
	if tag == "" {
		return false
	}
	for _, t := range ref.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// ForceClose closes every active occurrence of the current detectors at end.
// The builder calls it when an episode closes or aborts.
func (s *Session) ForceClose(end time.Duration) {
	s.detectors.ForceClose(end)
}

// Start opens a new episode at start. Detector and snapshot settings passed
// to Reconfigure take effect here.
func (s *Session) Start(_ context.Context, start time.Duration, meta episode.Meta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta.TaskID == "" {
		meta.TaskID = s.config.TaskID
	}

	ep, err := s.builder.Open(start, meta)
	if err != nil {
		return "", err
	}

	if s.pending != nil {
		if s.pending.manipulatorTag != nil {
			s.config.ManipulatorTag = *s.pending.manipulatorTag
			s.config.Manipulators = s.pending.manipulators
		}
		s.config.Detection = s.pending.detection
		s.config.Snapshot = s.pending.snapshot
		s.detectors = s.newDetectors(s.pending.detection)
		s.recorder = snapshot.NewRecorder(s.pending.snapshot)
		s.pending = nil
		s.logger.Info("applied new detection settings", zap.String("episode_id", ep.ID))
	} else {
		s.detectors.Reset()
		s.recorder.Reset()
	}
	s.adapter.Reset()

	s.last = start
	s.stats = Stats{EpisodeID: ep.ID}

	return ep.ID, nil
}

// Tick processes one simulation frame. Malformed entities are dropped and
// counted without failing the tick. A tick without an open episode returns an
// EpisodeStateError, and a frame the writer could not accept in time returns
// a BackpressureTimeoutError; the episode continues in both cases.
func (s *Session) Tick(ctx context.Context, f observation.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.builder.IsOpen() {
		return &episode.EpisodeStateError{Op: "tick", Err: episode.ErrNoOpenEpisode}
	}

	obs, err := s.adapter.Normalize(f)
	if err != nil {
		var malformed *observation.MalformedObservationError
		if !errors.As(err, &malformed) {
			return err
		}
		s.stats.Malformed += countMalformed(err)
		if len(obs) == 0 {
			return nil
		}
	}

	s.last = f.Timestamp
	s.stats.Ticks++
	s.stats.Observations += len(obs)

	s.detectors.Observe(f.Timestamp, obs)

	snap, due := s.recorder.Sample(f.Timestamp, obs)
	if !due {
		return nil
	}
	if err := s.builder.AddSnapshot(snap); err != nil {
		return err
	}
	s.stats.Snapshots++

	if s.config.Writer == nil {
		return nil
	}

	frame, err := snapshot.Frame(s.stats.EpisodeID, snap)
	if err != nil {
		return err
	}
	if err := s.config.Writer.EnqueueFrame(ctx, frame); err != nil {
		if writer.IsBackpressure(err) {
			s.stats.Backpressure++
		}
		return err
	}

	return nil
}

func countMalformed(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// Close finalizes the open episode at end and commits it to the writer.
// Closing again returns the previous result without a second commit. When
// the commit failed, for example with a BackpressureTimeoutError, closing
// again resubmits it to the sinks that missed it.
func (s *Session) Close(ctx context.Context, end time.Duration) (*episode.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.builder.Close(end)
	if res == nil {
		return nil, err
	}

	return res, errors.Join(err, s.commit(ctx, res))
}

// Abort ends the open episode at end. The partial episode is committed
// marked aborted when FlushPartialOnAbort is set and discarded otherwise.
func (s *Session) Abort(ctx context.Context, end time.Duration) (*episode.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.abort(ctx, end)
}

func (s *Session) abort(ctx context.Context, end time.Duration) (*episode.Result, error) {
	res, err := s.builder.Abort(end, s.config.FlushPartialOnAbort)
	if res == nil {
		return nil, err
	}

	if !s.config.FlushPartialOnAbort {
		if s.committed == res.Episode.ID || s.config.Writer == nil {
			return res, err
		}
		if derr := s.config.Writer.Discard(ctx, res.Episode.ID); derr != nil {
			return res, errors.Join(err, fmt.Errorf("discarding episode %s: %w", res.Episode.ID, derr))
		}
		s.committed = res.Episode.ID
		return res, err
	}

	return res, errors.Join(err, s.commit(ctx, res))
}

func (s *Session) commit(ctx context.Context, res *episode.Result) error {
	if s.committed == res.Episode.ID || s.config.Writer == nil {
		return nil
	}

	var docs []*sink.Document
	if res.Document != nil {
		docs = append(docs, res.Document)
	}

	err := s.config.Writer.Commit(ctx, writer.Episode{
		ID:        res.Episode.ID,
		TaskID:    res.Episode.TaskID,
		Aborted:   res.Episode.Aborted,
		Documents: docs,
	})
	if err != nil {
		return fmt.Errorf("committing episode %s: %w", res.Episode.ID, err)
	}

	s.committed = res.Episode.ID
	return nil
}

// Wait blocks until every sink has finished the episode and returns the
// aggregated report.
func (s *Session) Wait(ctx context.Context, episodeID string) (*writer.Report, error) {
	if s.config.Writer == nil {
		return nil, errors.New("session has no writer")
	}
	return s.config.Writer.Wait(ctx, episodeID)
}

// Reconfigure replaces the detector and snapshot settings from the next
// episode on. The open episode keeps its settings.
func (s *Session) Reconfigure(detection detector.Config, snap snapshot.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &reconfig{detection: detection, snapshot: snap}
}

// Current returns a chronologically ordered copy of the open episode.
func (s *Session) Current() (*episode.Episode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.builder.Current()
}

// Active returns the occurrences that are currently open.
func (s *Session) Active() []episode.EventOccurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.detectors.Active()
}

// Stats returns the counters of the current or last episode.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Shutdown aborts an open episode at the last processed tick and closes the
// writer, which drains every sink queue first.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.builder.IsOpen() {
		if _, err := s.abort(ctx, s.last); err != nil {
			errs = append(errs, err)
		}
	}

	if s.config.Writer != nil {
		errs = append(errs, s.config.Writer.Close())
	}

	return errors.Join(errs...)
}
