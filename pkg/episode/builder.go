package episode

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/entity"
	"github.com/papercomputeco/semlog/pkg/sink"
)

// Serializer converts a finished episode into a storage document.
type Serializer interface {
	Serialize(ep *Episode) (*sink.Document, error)
}

// ForceCloser is implemented by components holding active occurrences that
// must be closed when the episode ends.
type ForceCloser interface {
	ForceClose(end time.Duration)
}

// Entities is the per-episode entity cache the builder reads tags from.
type Entities interface {
	Lookup(id string) (entity.Ref, bool)
	Refs() map[string]entity.Ref
	Reset()
}

// Meta carries caller supplied episode metadata.
type Meta struct {
	// ID overrides the generated episode identifier.
	ID string

	// TaskID names the task the episode belongs to.
	TaskID string
}

// Result is the finalized outcome of closing or aborting an episode.
type Result struct {
	// Episode is the finalized episode with events and snapshot references
	// in chronological order.
	Episode *Episode

	// Document is the serialized episode. It is nil when the episode was
	// aborted without flushing or when no serializer is configured.
	Document *sink.Document

	// Err is the serialization error, if any.
	Err error
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Serializer Serializer
	Entities   Entities

	// NewID generates episode identifiers. Defaults to random UUIDs.
	NewID func() string

	Logger *zap.Logger
}

// Builder owns the current episode. It is driven synchronously from the
// simulation tick thread and is not safe for concurrent use.
type Builder struct {
	config  BuilderConfig
	closers []ForceCloser
	logger  *zap.Logger

	current *Episode
	last    *Result
}

// NewBuilder creates a Builder.
func NewBuilder(c BuilderConfig) *Builder {
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Entities == nil {
		c.Entities = entity.NewRegistry(nil, nil, c.Logger)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Builder{
		config: c,
		logger: c.Logger,
	}
}

// Track registers a component whose active occurrences are force-closed when
// the episode closes or aborts.
func (b *Builder) Track(fc ForceCloser) {
	b.closers = append(b.closers, fc)
}

// Open starts a new episode at start.
func (b *Builder) Open(start time.Duration, meta Meta) (*Episode, error) {
	if b.current != nil {
		return nil, &EpisodeStateError{Op: "open", EpisodeID: b.current.ID, Err: ErrEpisodeOpen}
	}

	id := meta.ID
	if id == "" {
		id = b.config.NewID()
	}

	b.config.Entities.Reset()
	b.last = nil
	b.current = &Episode{
		ID:     id,
		TaskID: meta.TaskID,
		Start:  start,
	}

	b.logger.Info("episode opened",
		zap.String("episode_id", id),
		zap.String("task_id", meta.TaskID),
		zap.Duration("start", start),
	)

	return b.current, nil
}

// IsOpen reports whether an episode is open.
func (b *Builder) IsOpen() bool {
	return b.current != nil
}

// Current returns a chronologically ordered copy of the open episode.
func (b *Builder) Current() (*Episode, bool) {
	if b.current == nil {
		return nil, false
	}
	return b.current.Sorted(), true
}

// EventStarted records that an occurrence became active.
func (b *Builder) EventStarted(occ EventOccurrence) {
	if b.current == nil {
		b.logger.Warn("event started without an open episode",
			zap.Stringer("class", occ.Class),
			zap.Strings("participants", occ.Participants),
		)
		return
	}

	b.logger.Debug("event started",
		zap.String("episode_id", b.current.ID),
		zap.String("event_id", occ.ID),
		zap.Stringer("class", occ.Class),
		zap.Strings("participants", occ.Participants),
		zap.Duration("start", occ.Start),
	)
}

// EventEnded records a closed occurrence.
func (b *Builder) EventEnded(occ EventOccurrence) {
	if err := b.AddEvent(occ); err != nil {
		b.logger.Warn("dropping event", zap.String("event_id", occ.ID), zap.Error(err))
	}
}

// AddEvent appends a closed occurrence in arrival order. Occurrences whose
// participants have no semantic tags are kept and flagged untagged.
func (b *Builder) AddEvent(occ EventOccurrence) error {
	if b.current == nil {
		return &EpisodeStateError{Op: "add event", Err: ErrNoOpenEpisode}
	}
	if !occ.Closed() {
		return fmt.Errorf("event %s is not closed", occ.ID)
	}
	if *occ.End < occ.Start {
		return fmt.Errorf("event %s ends before it starts", occ.ID)
	}

	occ = occ.Clone()
	for _, p := range occ.Participants {
		if ref, ok := b.config.Entities.Lookup(p); !ok || !ref.Tagged() {
			occ.Untagged = true
			break
		}
	}

	b.current.Events = append(b.current.Events, occ)

	b.logger.Debug("event ended",
		zap.String("episode_id", b.current.ID),
		zap.String("event_id", occ.ID),
		zap.Stringer("class", occ.Class),
		zap.Duration("start", occ.Start),
		zap.Duration("end", *occ.End),
		zap.String("parent_id", occ.ParentID),
		zap.Bool("truncated", occ.Truncated),
		zap.Bool("untagged", occ.Untagged),
	)

	return nil
}

// AddSnapshot references a recorded snapshot by its timestamp.
func (b *Builder) AddSnapshot(s Snapshot) error {
	if b.current == nil {
		return &EpisodeStateError{Op: "add snapshot", Err: ErrNoOpenEpisode}
	}
	b.current.Snapshots = append(b.current.Snapshots, s.Timestamp)
	return nil
}

// Close force-closes every active occurrence at end, finalizes the episode
// and serializes it exactly once. Closing an already closed episode returns
// the previous result.
func (b *Builder) Close(end time.Duration) (*Result, error) {
	if b.current == nil {
		if b.last != nil {
			return b.last, b.last.Err
		}
		return nil, &EpisodeStateError{Op: "close", Err: ErrNoOpenEpisode}
	}
	return b.finish(end, false, true)
}

// Abort force-closes every active occurrence at end and marks the episode
// aborted. The partial episode is serialized only when flush is set.
func (b *Builder) Abort(end time.Duration, flush bool) (*Result, error) {
	if b.current == nil {
		if b.last != nil {
			return b.last, b.last.Err
		}
		return nil, &EpisodeStateError{Op: "abort", Err: ErrNoOpenEpisode}
	}
	return b.finish(end, true, flush)
}

func (b *Builder) finish(end time.Duration, aborted, serialize bool) (*Result, error) {
	ep := b.current
	if end < ep.Start {
		end = ep.Start
	}

	for _, fc := range b.closers {
		fc.ForceClose(end)
	}

	ep.End = end
	ep.Aborted = aborted
	ep.Entities = b.config.Entities.Refs()

	res := &Result{Episode: ep.Sorted()}

	if serialize && b.config.Serializer != nil {
		doc, err := b.config.Serializer.Serialize(res.Episode)
		switch {
		case err != nil:
			res.Err = fmt.Errorf("serializing episode %s: %w", ep.ID, err)
		case doc == nil:
			res.Err = fmt.Errorf("serializing episode %s: %w", ep.ID, sink.ErrNilDocument)
		default:
			res.Document = doc
		}
	}

	b.current = nil
	b.last = res
	b.config.Entities.Reset()

	fields := []zap.Field{
		zap.String("episode_id", ep.ID),
		zap.Duration("end", end),
		zap.Int("events", len(ep.Events)),
		zap.Int("truncated", res.Episode.Truncated()),
		zap.Int("snapshots", len(ep.Snapshots)),
	}
	switch {
	case res.Err != nil:
		b.logger.Error("episode serialization failed", append(fields, zap.Error(res.Err))...)
	case aborted:
		b.logger.Info("episode aborted", append(fields, zap.Bool("flushed", res.Document != nil))...)
	default:
		b.logger.Info("episode closed", fields...)
	}

	return res, res.Err
}

// IsStateError reports whether err is an EpisodeStateError.
func IsStateError(err error) bool {
	var s *EpisodeStateError
	return errors.As(err, &s)
}
