// Package file provides a sink that lays episodes out on the local
// filesystem:
//
//	<dir>/<episode id>/<kind>.json
//	<dir>/<episode id>/frames.jsonl
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/papercomputeco/semlog/pkg/sink"
)

const framesFile = "frames.jsonl"

// Sink implements sink.Sink on a directory tree.
type Sink struct {
	dir string
}

// New creates a file sink rooted at dir, creating it if needed.
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("file sink directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sink directory %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	return "file"
}

// Dir returns the root directory.
func (s *Sink) Dir() string {
	return s.dir
}

func (s *Sink) episodeDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid episode id %q", id)
	}
	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", classify("mkdir", err)
	}
	return dir, nil
}

// Write implements sink.Sink. The document is written to a temporary file
// and renamed into place, so a retried write replaces it atomically.
func (s *Sink) Write(_ context.Context, doc *sink.Document) error {
	if doc == nil {
		return sink.ErrNilDocument
	}

	dir, err := s.episodeDir(doc.EpisodeID)
	if err != nil {
		return err
	}

	kind := doc.Kind
	if kind == "" {
		kind = "document"
	}
	path := filepath.Join(dir, kind+".json")

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return classify("write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return classify("rename", err)
	}
	return nil
}

// WriteBatch implements sink.Sink by appending one JSON line per frame.
func (s *Sink) WriteBatch(_ context.Context, frames []sink.RawFrame) error {
	if len(frames) == 0 {
		return nil
	}

	byEpisode := make(map[string][]sink.RawFrame)
	var order []string
	for _, f := range frames {
		if _, ok := byEpisode[f.EpisodeID]; !ok {
			order = append(order, f.EpisodeID)
		}
		byEpisode[f.EpisodeID] = append(byEpisode[f.EpisodeID], f)
	}

	for _, id := range order {
		if err := s.appendFrames(id, byEpisode[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) appendFrames(episodeID string, frames []sink.RawFrame) error {
	dir, err := s.episodeDir(episodeID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, framesFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return classify("open", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, frame := range frames {
		if err := enc.Encode(frame); err != nil {
			f.Close()
			return classify("append", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return classify("flush", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return classify("sync", err)
	}
	return f.Close()
}

// ReadFrames reads back the frames stored for an episode.
func (s *Sink) ReadFrames(episodeID string) ([]sink.RawFrame, error) {
	f, err := os.Open(filepath.Join(s.dir, episodeID, framesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames []sink.RawFrame
	dec := json.NewDecoder(f)
	for dec.More() {
		var frame sink.RawFrame
		if err := dec.Decode(&frame); err != nil {
			return nil, fmt.Errorf("decoding frames of %s: %w", episodeID, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// ReadDocument reads back a stored document.
func (s *Sink) ReadDocument(episodeID, kind string) (*sink.Document, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, episodeID, kind+".json"))
	if err != nil {
		return nil, err
	}

	var doc sink.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document of %s: %w", episodeID, err)
	}
	return &doc, nil
}

// Close implements sink.Sink.
func (s *Sink) Close() error {
	return nil
}

// classify marks resource exhaustion and interrupted calls as transient.
func classify(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
		return sink.Transient("file", op, err)
	}
	return fmt.Errorf("file sink %s: %w", op, err)
}
