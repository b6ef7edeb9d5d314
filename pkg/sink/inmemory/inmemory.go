// Package inmemory provides an in-memory sink.
package inmemory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/papercomputeco/semlog/pkg/sink"
)

// Sink implements sink.Sink using in-memory maps.
type Sink struct {
	name string

	mu     sync.RWMutex
	docs   map[string]*sink.Document
	order  []string
	frames []sink.RawFrame
	closed bool
}

// New creates an in-memory sink.
func New(name string) *Sink {
	if name == "" {
		name = "inmemory"
	}
	return &Sink{
		name: name,
		docs: make(map[string]*sink.Document),
	}
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	return s.name
}

// Write implements sink.Sink. Writing an existing document ID replaces it.
func (s *Sink) Write(_ context.Context, doc *sink.Document) error {
	if doc == nil {
		return sink.ErrNilDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	cp := *doc
	cp.Body = slices.Clone(doc.Body)
	s.docs[doc.ID] = &cp
	return nil
}

// WriteBatch implements sink.Sink.
func (s *Sink) WriteBatch(_ context.Context, frames []sink.RawFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range frames {
		f.Body = slices.Clone(f.Body)
		s.frames = append(s.frames, f)
	}
	return nil
}

// Documents returns stored documents in first-write order.
func (s *Sink) Documents() []*sink.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*sink.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id])
	}
	return out
}

// Document returns the stored document with the given ID.
func (s *Sink) Document(id string) (*sink.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	return doc, ok
}

// Frames returns stored frames in write order, optionally filtered to one
// episode.
func (s *Sink) Frames(episodeID string) []sink.RawFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if episodeID == "" {
		return slices.Clone(s.frames)
	}

	var out []sink.RawFrame
	for _, f := range s.frames {
		if f.EpisodeID == episodeID {
			out = append(out, f)
		}
	}
	return out
}

// Episodes returns the IDs of every episode with a stored document.
func (s *Sink) Episodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, d := range s.docs {
		set[d.EpisodeID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Close implements sink.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}
