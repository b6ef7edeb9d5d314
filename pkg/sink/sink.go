// Package sink defines the storage destinations episode data is written to.
//
// A Sink receives two kinds of writes: finalized episode documents produced by
// a serializer and batches of raw per-tick frames produced by the snapshot
// recorder. The storage writer treats every sink as at-least-once: a write
// may be retried after a transient failure, so implementations must tolerate
// receiving the same document or frame more than once.
package sink

import (
	"context"
	"encoding/json"
	"time"
)

// Kinds of documents produced by the serializers.
const (
	KindEpisode    = "episode"
	KindExperiment = "experiment"
)

// Document is a finalized, serialized episode document.
type Document struct {
	// ID uniquely identifies the document. Writing a document with an ID
	// that already exists overwrites it.
	ID string `json:"id"`

	// EpisodeID is the episode the document describes.
	EpisodeID string `json:"episode_id"`

	// Kind describes the document body, e.g. KindEpisode.
	Kind string `json:"kind"`

	// Body is the serialized document.
	Body json.RawMessage `json:"body"`

	// CreatedAt is the wall clock time the document was serialized.
	CreatedAt time.Time `json:"created_at"`
}

// RawFrame is one raw world-state sample belonging to an episode.
type RawFrame struct {
	EpisodeID string `json:"episode_id"`

	// Timestamp is simulation time since simulation start.
	Timestamp time.Duration `json:"timestamp_ns"`

	// Body is the serialized frame content.
	Body json.RawMessage `json:"body"`
}

// Sink is a storage destination for episode data.
type Sink interface {
	// Name identifies the sink in logs, metrics and write reports.
	Name() string

	// Write durably stores one document.
	Write(ctx context.Context, doc *Document) error

	// WriteBatch durably stores frames in order.
	WriteBatch(ctx context.Context, frames []RawFrame) error

	// Close releases any resources held by the sink.
	Close() error
}
